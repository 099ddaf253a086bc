// Package units holds the pure pace and calendar-day conversions shared by
// the normalizer, the store aggregations, and the API layer. Every calendar
// bucket in the system goes through ToCalendarDate with the same fixed
// offset so activities near midnight always land on the same day.
package units

import (
	"math"
	"time"
)

// DateLayout is the canonical calendar-day format used for all grouping keys.
const DateLayout = "2006-01-02"

// FixedZone returns the dashboard's fixed calendar timezone for a UTC offset
// expressed in hours (e.g. 8 for UTC+8, -5 for UTC-5).
func FixedZone(offsetHours int) *time.Location {
	return time.FixedZone("dashboard", offsetHours*3600)
}

// PaceFromDistanceAndTime computes pace in seconds per kilometer from a
// distance in meters and a moving time in seconds. Returns nil when either
// input is non-positive or non-finite.
func PaceFromDistanceAndTime(distanceM, movingTimeS float64) *float64 {
	if distanceM <= 0 || movingTimeS <= 0 {
		return nil
	}
	if math.IsNaN(distanceM) || math.IsInf(distanceM, 0) ||
		math.IsNaN(movingTimeS) || math.IsInf(movingTimeS, 0) {
		return nil
	}
	pace := movingTimeS * 1000 / distanceM
	return &pace
}

// SpeedToPace converts a speed in meters per second to pace in seconds per
// kilometer. Returns nil when the speed is non-positive or non-finite.
func SpeedToPace(speedMps float64) *float64 {
	if speedMps <= 0 || math.IsNaN(speedMps) || math.IsInf(speedMps, 0) {
		return nil
	}
	pace := 1000 / speedMps
	return &pace
}

// ToCalendarDate projects an instant to its calendar day in loc, formatted
// as YYYY-MM-DD.
func ToCalendarDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// WeekStart returns the Monday of the ISO week containing t, evaluated in
// loc and formatted as YYYY-MM-DD.
func WeekStart(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	daysFromMonday := (int(local.Weekday()) + 6) % 7 // Monday = 0
	monday := local.AddDate(0, 0, -daysFromMonday)
	return monday.Format(DateLayout)
}

// DaysInMonth returns the number of calendar days in the given month,
// accounting for leap years.
func DaysInMonth(year, month int) int {
	// Day 0 of the next month is the last day of this month.
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
