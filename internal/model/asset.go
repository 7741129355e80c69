package model

import "time"

// AssetTimeLayout is the layout of started_on/ended_on in asset metadata.
const AssetTimeLayout = "01/02/2006 15:04"

// Asset is a monitored generation site with a known location and the
// window over which its operating data is available.
type Asset struct {
	ID            string            `json:"system_id" validate:"required"`
	Latitude      float64           `json:"latitude" validate:"latitude"`
	Longitude     float64           `json:"longitude" validate:"longitude"`
	DataStartedOn time.Time         `json:"started_on" validate:"required"`
	DataEndedOn   time.Time         `json:"ended_on" validate:"required,gtefield=DataStartedOn"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// Linkage is one (asset, canonical event) pair that survived the spatial
// and temporal filters, decorated with the asset's own fields.
type Linkage struct {
	SystemID            string                `json:"system_id"`
	SystemLatitude      float64               `json:"system_latitude"`
	SystemLongitude     float64               `json:"system_longitude"`
	SystemDataStartedOn time.Time             `json:"system_data_started_on"`
	SystemDataEndedOn   time.Time             `json:"system_data_ended_on"`
	Attributes          map[string]string     `json:"attributes,omitempty"`
	Event               CanonicalWeatherEvent `json:"event"`
	DaysBeforeEvent     int                   `json:"system_data_days_before_event"`
	DaysAfterEvent      int                   `json:"system_data_days_after_event"`
}

// BaselineStatus describes whether a performance ratio could be computed.
type BaselineStatus string

// Allowed BaselineStatus values.
const (
	BaselineOK           BaselineStatus = "ok"
	BaselineInsufficient BaselineStatus = "insufficient_baseline"
	BaselineNoWindowData BaselineStatus = "no_window_data"
)

// PerformanceRatio is the output of one data stream during a linked event
// relative to the asset's typical output in the same calendar month.
type PerformanceRatio struct {
	Linkage         Linkage        `json:"linkage"`
	DataStream      string         `json:"data_stream"`
	WindowSum       float64        `json:"window_sum"`
	BaselineMedian  *float64       `json:"baseline_median,omitempty"`
	PctMedianOutput *float64       `json:"pct_median_output,omitempty"`
	BaselineStatus  BaselineStatus `json:"baseline_status"`
}

// AssetFailure records an asset that was skipped or failed during a run.
type AssetFailure struct {
	AssetID string `json:"asset_id"`
	Stage   string `json:"stage"`
	Reason  string `json:"reason"`
}

// RunReport summarises one linkage run.
type RunReport struct {
	RunID           string         `json:"run_id"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
	AssetCount      int            `json:"asset_count"`
	EventCount      int            `json:"event_count"`
	LinkageCount    int            `json:"linkage_count"`
	RatioCount      int            `json:"ratio_count"`
	Skipped         []AssetFailure `json:"skipped"`
	Failed          []AssetFailure `json:"failed"`
	DroppedEventIDs int            `json:"dropped_event_count"`
}
