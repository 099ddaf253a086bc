package store

import "time"

// Activity is the persisted shape of one externally-sourced run, keyed by
// the provider's immutable activity ID. Optional biometric fields are
// pointers end to end: a missing heart rate is nil, never zero, so averages
// are not corrupted by valid-looking sentinel values.
type Activity struct {
	ExternalID       int64           `json:"externalId"`
	Name             string          `json:"name"`
	DeviceName       *string         `json:"deviceName,omitempty"`
	StartDate        time.Time       `json:"startDate"`
	StartDateLocal   string          `json:"startDateLocal,omitempty"`
	DistanceM        float64         `json:"distanceM"`
	MovingTimeS      int             `json:"movingTimeS"`
	ElapsedTimeS     int             `json:"elapsedTimeS"`
	ElevationGainM   *float64        `json:"elevationGainM,omitempty"`
	AverageSpeedMps  *float64        `json:"averageSpeedMps,omitempty"`
	MaxSpeedMps      *float64        `json:"maxSpeedMps,omitempty"`
	AverageHeartRate *float64        `json:"averageHeartRate,omitempty"`
	MaxHeartRate     *float64        `json:"maxHeartRate,omitempty"`
	AverageCadence   *float64        `json:"averageCadence,omitempty"`
	Calories         *float64        `json:"calories,omitempty"`
	SufferScore      *float64        `json:"sufferScore,omitempty"`
	SummaryPolyline  *string         `json:"summaryPolyline,omitempty"`
	FullPolyline     *string         `json:"fullPolyline,omitempty"`
	Splits           []Split         `json:"splits,omitempty"`
	HeartRateZones   []HeartRateZone `json:"heartRateZones,omitempty"`
	TrendPoints      []TrendPoint    `json:"trendPoints,omitempty"`
	RawJSON          []byte          `json:"-"`

	// PaceSecPerKm is derived from distance and moving time at read time,
	// never stored.
	PaceSecPerKm *float64 `json:"paceSecPerKm,omitempty"`
}

// Split is one fixed-distance sub-segment of an activity. The whole split
// set is replaced on every upsert.
type Split struct {
	SplitIndex       int      `json:"splitIndex"`
	DistanceM        float64  `json:"distanceM"`
	MovingTimeS      int      `json:"movingTimeS"`
	ElapsedTimeS     int      `json:"elapsedTimeS"`
	ElevationDiffM   *float64 `json:"elevationDiffM,omitempty"`
	AverageSpeedMps  *float64 `json:"averageSpeedMps,omitempty"`
	AverageHeartRate *float64 `json:"averageHeartRate,omitempty"`
	AverageCadence   *float64 `json:"averageCadence,omitempty"`
	Calories         *float64 `json:"calories,omitempty"`
	PaceSecPerKm     *float64 `json:"paceSecPerKm,omitempty"`
}

// HeartRateZone is one ordered bpm bucket with time-in-zone. MaxBpm is nil
// for the open-ended top zone.
type HeartRateZone struct {
	Label      string   `json:"label"` // Z1..Zn in source order
	MinBpm     float64  `json:"minBpm"`
	MaxBpm     *float64 `json:"maxBpm,omitempty"`
	TimeS      float64  `json:"timeS"`
	Percentage *float64 `json:"percentage,omitempty"`
}

// TrendPoint is one downsampled time-series sample used for within-activity
// charting.
type TrendPoint struct {
	ElapsedTimeS float64  `json:"elapsedTimeS"`
	DistanceM    *float64 `json:"distanceM,omitempty"`
	PaceSecPerKm *float64 `json:"paceSecPerKm,omitempty"`
	HeartRate    *float64 `json:"heartRate,omitempty"`
}

// TrainingPlan holds the free-text plan for one calendar date.
type TrainingPlan struct {
	ID        int64     `json:"id"`
	Date      string    `json:"date"` // YYYY-MM-DD, unique
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ActivityAnalysis is the cached generated feedback for one activity,
// overwritten on regeneration.
type ActivityAnalysis struct {
	ActivityExternalID int64     `json:"activityExternalId"`
	Content            string    `json:"content"`
	GeneratedAt        time.Time `json:"generatedAt"`
}

// CompletionStatus compares a day's training plan against that day's
// logged activities.
type CompletionStatus string

const (
	StatusNoPlan    CompletionStatus = "no_plan"
	StatusMissed    CompletionStatus = "missed"
	StatusCompleted CompletionStatus = "completed"
)

// DailySummary is the derived calendar-grid cell for one date.
type DailySummary struct {
	Date       string           `json:"date"`
	Plan       *TrainingPlan    `json:"plan,omitempty"`
	Activities []Activity       `json:"activities"`
	Status     CompletionStatus `json:"completionStatus"`
}

// DateRange is an optional inclusive calendar-date filter, evaluated in the
// dashboard's fixed timezone. Empty fields mean unbounded.
type DateRange struct {
	From string `json:"from,omitempty"` // YYYY-MM-DD
	To   string `json:"to,omitempty"`   // YYYY-MM-DD
}

// SummaryMetrics aggregates all activities in a range.
type SummaryMetrics struct {
	TotalRuns           int      `json:"totalRuns"`
	TotalDistanceM      float64  `json:"totalDistanceM"`
	TotalMovingTimeS    int      `json:"totalMovingTimeS"`
	TotalElevationGain  float64  `json:"totalElevationGainM"`
	AveragePaceSecPerKm *float64 `json:"averagePaceSecPerKm,omitempty"`
	BestPaceSecPerKm    *float64 `json:"bestPaceSecPerKm,omitempty"`
	AverageHeartRate    *float64 `json:"averageHeartRate,omitempty"`
}

// WeeklyTrendPoint is one Monday-anchored week of aggregated mileage.
type WeeklyTrendPoint struct {
	WeekStart      string   `json:"weekStart"` // YYYY-MM-DD
	TotalDistanceM float64  `json:"totalDistanceM"`
	TotalTimeS     int      `json:"totalTimeS"`
	PaceSecPerKm   *float64 `json:"paceSecPerKm,omitempty"`
	RunCount       int      `json:"runCount"`
}

// Sort keys accepted by ListActivities.
const (
	SortByStartTime = "start_time"
	SortByDistance  = "distance"
	SortByPace      = "pace"
)

// ListQuery controls activity listing.
type ListQuery struct {
	Range    DateRange
	SortBy   string // start_time (default), distance, pace
	SortAsc  bool
	Page     int // 1-based
	PageSize int // clamped to maxPageSize
}

// ListResult is one page of activities plus the unpaginated total.
type ListResult struct {
	Page     int        `json:"page"`
	PageSize int        `json:"pageSize"`
	Total    int        `json:"total"`
	Items    []Activity `json:"items"`
}

// CalendarFilterOptions drives the calendar quick filters: only years and
// months that actually have activities.
type CalendarFilterOptions struct {
	Years        []int         `json:"years"`
	MonthsByYear map[int][]int `json:"monthsByYear"`
}
