// Package assets reads asset metadata records.
package assets

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/storm-asset-linker/internal/linker"
	"github.com/couchcryptid/storm-asset-linker/internal/model"
)

var validate = validator.New()

// Accepted started_on/ended_on layouts, tried in order.
var timeLayouts = []string{model.AssetTimeLayout, "01/02/2006", "2006-01-02 15:04:05", "2006-01-02"}

// reserved columns map onto Asset fields and are not copied to Attributes.
var reserved = map[string]bool{
	"id": true, "system_id": true, "latitude": true, "longitude": true,
	"started_on": true, "ended_on": true,
}

// ReadFile opens path and reads it with Read.
func ReadFile(path string) ([]model.Asset, []model.AssetFailure, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open asset metadata: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses asset metadata CSV. Rows that fail to parse or validate are
// returned as skipped; a missing required column is a ConfigurationError.
func Read(r io.Reader) ([]model.Asset, []model.AssetFailure, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read asset header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	cols, err := resolveColumns(header)
	if err != nil {
		return nil, nil, err
	}

	var assets []model.Asset
	var skipped []model.AssetFailure
	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("asset metadata line %d: %w", line, err)
		}
		asset, err := parseRow(header, cols, fields)
		if err != nil {
			id := asset.ID
			if id == "" {
				id = "line " + strconv.Itoa(line)
			}
			skipped = append(skipped, model.AssetFailure{AssetID: id, Stage: linker.StageValidate, Reason: err.Error()})
			continue
		}
		assets = append(assets, asset)
	}
	return assets, skipped, nil
}

type columns struct {
	id, lat, lon, start, end int
}

func resolveColumns(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	id, ok := idx["id"]
	if !ok {
		id, ok = idx["system_id"]
	}
	if !ok {
		return columns{}, &linker.ConfigurationError{Err: errors.New("asset metadata missing id or system_id column")}
	}
	c := columns{id: id}
	for name, dst := range map[string]*int{"latitude": &c.lat, "longitude": &c.lon, "started_on": &c.start, "ended_on": &c.end} {
		i, ok := idx[name]
		if !ok {
			return columns{}, &linker.ConfigurationError{Err: fmt.Errorf("asset metadata missing %s column", name)}
		}
		*dst = i
	}
	return c, nil
}

func field(fields []string, i int) string {
	if i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func parseRow(header []string, c columns, fields []string) (model.Asset, error) {
	a := model.Asset{ID: field(fields, c.id)}

	var err error
	if a.Latitude, err = strconv.ParseFloat(field(fields, c.lat), 64); err != nil {
		return a, &linker.MalformedInputError{AssetID: a.ID, Field: "latitude", Err: err}
	}
	if a.Longitude, err = strconv.ParseFloat(field(fields, c.lon), 64); err != nil {
		return a, &linker.MalformedInputError{AssetID: a.ID, Field: "longitude", Err: err}
	}
	if a.DataStartedOn, err = parseTime(field(fields, c.start)); err != nil {
		return a, &linker.MalformedInputError{AssetID: a.ID, Field: "started_on", Err: err}
	}
	if a.DataEndedOn, err = parseTime(field(fields, c.end)); err != nil {
		return a, &linker.MalformedInputError{AssetID: a.ID, Field: "ended_on", Err: err}
	}

	for i, name := range header {
		if reserved[name] || name == "" {
			continue
		}
		if a.Attributes == nil {
			a.Attributes = make(map[string]string)
		}
		a.Attributes[name] = field(fields, i)
	}

	if err := validate.Struct(&a); err != nil {
		return a, &linker.MalformedInputError{AssetID: a.ID, Field: invalidField(err), Err: err}
	}
	return a, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("empty")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", raw)
}

func invalidField(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Field()
	}
	return "row"
}
