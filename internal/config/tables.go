package config

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaultsFS embed.FS

// LoadDistances reads the event type to radius (km) table from path, or the
// built-in table when path is empty.
func LoadDistances(path string) (map[string]float64, error) {
	data, err := readTable(path, "defaults/distances.yaml")
	if err != nil {
		return nil, err
	}
	var table map[string]float64
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse distance table: %w", err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("distance table %q is empty", sourceName(path))
	}
	return table, nil
}

// LoadMasterCategories reads the category to event types listing from path,
// or the built-in listing when path is empty, and inverts it into an event
// type to category map. An event type listed under two categories is an error.
func LoadMasterCategories(path string) (map[string]string, error) {
	data, err := readTable(path, "defaults/master_categories.yaml")
	if err != nil {
		return nil, err
	}
	var listing map[string][]string
	if err := yaml.Unmarshal(data, &listing); err != nil {
		return nil, fmt.Errorf("parse master categories: %w", err)
	}
	out := make(map[string]string)
	for category, types := range listing {
		for _, t := range types {
			if prev, ok := out[t]; ok && prev != category {
				return nil, fmt.Errorf("event type %q listed under both %q and %q", t, prev, category)
			}
			out[t] = category
		}
	}
	return out, nil
}

func readTable(path, fallback string) ([]byte, error) {
	if path == "" {
		return defaultsFS.ReadFile(fallback)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func sourceName(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}
