package strava

import "time"

// SummaryActivity is one record from the paginated athlete activity list.
// Only the fields the sync pipeline needs are decoded; the full payload is
// re-fetched per activity from the detail endpoint.
type SummaryActivity struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	SportType      string    `json:"sport_type"`
	StartDate      time.Time `json:"start_date"`
	StartDateLocal string    `json:"start_date_local"`
	Distance       float64   `json:"distance"`
	MovingTime     int       `json:"moving_time"`
}

// IsRun reports whether the activity is in scope for the dashboard. The
// current API classifies via sport_type; older records may only carry the
// legacy type field.
func (a SummaryActivity) IsRun() bool {
	return a.SportType == "Run" || (a.SportType == "" && a.Type == "Run")
}

// DetailedActivity is the per-activity detail payload, including metric
// splits and the route polyline.
type DetailedActivity struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	DeviceName         string    `json:"device_name"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type"`
	StartDate          time.Time `json:"start_date"`
	StartDateLocal     string    `json:"start_date_local"`
	Distance           float64   `json:"distance"`
	MovingTime         int       `json:"moving_time"`
	ElapsedTime        int       `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	AverageSpeed       float64   `json:"average_speed"`
	MaxSpeed           float64   `json:"max_speed"`
	AverageHeartrate   float64   `json:"average_heartrate"`
	MaxHeartrate       float64   `json:"max_heartrate"`
	AverageCadence     float64   `json:"average_cadence"`
	Calories           float64   `json:"calories"`
	SufferScore        float64   `json:"suffer_score"`
	Map                struct {
		SummaryPolyline string `json:"summary_polyline"`
		Polyline        string `json:"polyline"`
	} `json:"map"`
	SplitsMetric []Split `json:"splits_metric"`
}

// Split is one source-defined distance split inside a detailed activity.
type Split struct {
	Split               int     `json:"split"`
	Distance            float64 `json:"distance"`
	MovingTime          int     `json:"moving_time"`
	ElapsedTime         int     `json:"elapsed_time"`
	ElevationDifference float64 `json:"elevation_difference"`
	AverageSpeed        float64 `json:"average_speed"`
	AverageHeartrate    float64 `json:"average_heartrate"`
	AverageCadence      float64 `json:"average_cadence"`
	Calories            float64 `json:"calories"`
}

// ActivityZone is one zone distribution from the per-activity zones
// endpoint ("heartrate" or "power").
type ActivityZone struct {
	Type                string           `json:"type"`
	SensorBased         bool             `json:"sensor_based"`
	DistributionBuckets []TimedZoneRange `json:"distribution_buckets"`
}

// TimedZoneRange is time spent inside one zone range. Max may be a sentinel
// (-1, 0) for the open-ended top zone; the normalizer handles that.
type TimedZoneRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Time float64 `json:"time"`
}
