// Package normalize maps raw provider payloads (activity detail, zone
// distributions, time-series streams) into the persisted activity shape.
// It is pure transformation: no I/O, deterministic for a given input.
package normalize

import (
	"fmt"
	"math"
	"sort"

	"rundash/internal/store"
	"rundash/internal/strava"
	"rundash/internal/units"
)

// MaxTrendPoints bounds the downsampled trend series per activity so chart
// rendering cost stays flat regardless of activity length.
const MaxTrendPoints = 220

// BuildActivity converts a detailed provider activity (plus optional zone
// and stream enrichments) into the persisted shape. zones and streamPayload
// may be nil; the corresponding collections come out empty.
func BuildActivity(detail *strava.DetailedActivity, raw []byte, zones []strava.ActivityZone, streamPayload []byte) (*store.Activity, error) {
	if detail == nil {
		return nil, fmt.Errorf("nil activity detail")
	}
	if detail.ID == 0 {
		return nil, fmt.Errorf("activity detail has no id")
	}

	a := &store.Activity{
		ExternalID:       detail.ID,
		Name:             detail.Name,
		DeviceName:       optionalString(detail.DeviceName),
		StartDate:        detail.StartDate,
		StartDateLocal:   detail.StartDateLocal,
		DistanceM:        detail.Distance,
		MovingTimeS:      detail.MovingTime,
		ElapsedTimeS:     detail.ElapsedTime,
		ElevationGainM:   optionalPositive(detail.TotalElevationGain),
		AverageSpeedMps:  optionalPositive(detail.AverageSpeed),
		MaxSpeedMps:      optionalPositive(detail.MaxSpeed),
		AverageHeartRate: optionalPositive(detail.AverageHeartrate),
		MaxHeartRate:     optionalPositive(detail.MaxHeartrate),
		AverageCadence:   optionalPositive(detail.AverageCadence),
		Calories:         optionalPositive(detail.Calories),
		SufferScore:      optionalPositive(detail.SufferScore),
		SummaryPolyline:  optionalString(detail.Map.SummaryPolyline),
		FullPolyline:     optionalString(detail.Map.Polyline),
		RawJSON:          raw,
		Splits:           buildSplits(detail.SplitsMetric),
		HeartRateZones:   BuildHeartRateZones(zones),
	}

	streams, err := DecodeStreams(streamPayload)
	if err != nil {
		return nil, fmt.Errorf("decoding streams for activity %d: %w", detail.ID, err)
	}
	a.TrendPoints = BuildTrendPoints(streams)

	return a, nil
}

func buildSplits(src []strava.Split) []store.Split {
	if len(src) == 0 {
		return nil
	}
	splits := make([]store.Split, 0, len(src))
	for _, s := range src {
		sp := store.Split{
			SplitIndex:       s.Split,
			DistanceM:        s.Distance,
			MovingTimeS:      s.MovingTime,
			ElapsedTimeS:     s.ElapsedTime,
			ElevationDiffM:   optionalFinite(s.ElevationDifference),
			AverageSpeedMps:  optionalPositive(s.AverageSpeed),
			AverageHeartRate: optionalPositive(s.AverageHeartrate),
			AverageCadence:   optionalPositive(s.AverageCadence),
			Calories:         optionalPositive(s.Calories),
		}
		// Average speed is preferred for pace: it is less sensitive to
		// split-boundary rounding than distance/time.
		sp.PaceSecPerKm = units.SpeedToPace(s.AverageSpeed)
		if sp.PaceSecPerKm == nil {
			sp.PaceSecPerKm = units.PaceFromDistanceAndTime(s.Distance, float64(s.MovingTime))
		}
		splits = append(splits, sp)
	}
	return splits
}

// BuildHeartRateZones normalizes the provider's heart-rate zone
// distribution. Buckets keep source order and are labeled Z1..Zn; a
// malformed max (non-finite, non-positive, or below its own min) degrades
// to an open-ended top zone rather than corrupting ordering. Percentages
// are time-in-zone over total time, nil when total time is zero.
func BuildHeartRateZones(zones []strava.ActivityZone) []store.HeartRateZone {
	var buckets []strava.TimedZoneRange
	for _, z := range zones {
		if z.Type == "heartrate" {
			buckets = z.DistributionBuckets
			break
		}
	}
	if len(buckets) == 0 {
		return nil
	}

	var totalTime float64
	for _, b := range buckets {
		totalTime += b.Time
	}

	out := make([]store.HeartRateZone, 0, len(buckets))
	for i, b := range buckets {
		zone := store.HeartRateZone{
			Label:  fmt.Sprintf("Z%d", i+1),
			MinBpm: b.Min,
			TimeS:  b.Time,
		}
		if isValidZoneMax(b.Max, b.Min) {
			maxBpm := b.Max
			zone.MaxBpm = &maxBpm
		}
		if totalTime > 0 {
			pct := b.Time / totalTime
			zone.Percentage = &pct
		}
		out = append(out, zone)
	}
	return out
}

func isValidZoneMax(max, min float64) bool {
	if math.IsNaN(max) || math.IsInf(max, 0) {
		return false
	}
	return max > 0 && max >= min
}

// BuildTrendPoints zips the parallel stream series by index, drops samples
// that carry no signal, sorts by elapsed time, and downsamples to at most
// MaxTrendPoints while preserving the exact first and last samples.
func BuildTrendPoints(streams *StreamSet) []store.TrendPoint {
	if streams == nil || len(streams.Time) == 0 {
		return nil
	}

	points := make([]store.TrendPoint, 0, len(streams.Time))
	for i := range streams.Time {
		elapsed := at(streams.Time, i)
		// a sample without a usable timestamp cannot be placed on the chart
		if elapsed == nil || *elapsed < 0 {
			continue
		}

		hr := at(streams.HeartRate, i)
		var pace *float64
		if v := at(streams.Velocity, i); v != nil {
			pace = units.SpeedToPace(*v)
		}
		// a sample carrying neither heart rate nor pace is noise, not data
		if hr == nil && pace == nil {
			continue
		}

		points = append(points, store.TrendPoint{
			ElapsedTimeS: *elapsed,
			DistanceM:    at(streams.Distance, i),
			PaceSecPerKm: pace,
			HeartRate:    hr,
		})
	}
	if len(points) == 0 {
		return nil
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].ElapsedTimeS < points[j].ElapsedTimeS
	})

	return downsample(points, MaxTrendPoints)
}

// downsample reduces points to at most limit entries using an even index
// stride, always keeping the original first and last points. Deterministic:
// the same input yields the same output.
func downsample(points []store.TrendPoint, limit int) []store.TrendPoint {
	n := len(points)
	if limit < 2 || n <= limit {
		return points
	}

	stride := (n - 1 + limit - 2) / (limit - 1) // ceil((n-1)/(limit-1))
	out := make([]store.TrendPoint, 0, limit)
	for i := 0; i < n-1; i += stride {
		out = append(out, points[i])
	}
	out = append(out, points[n-1])
	return out
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// optionalPositive treats zero and negative values as absent: the provider
// reports 0 for metrics a device did not record, and a zero heart rate or
// cadence would corrupt averages downstream.
func optionalPositive(v float64) *float64 {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// optionalFinite keeps any finite value, including negatives (elevation
// difference of a downhill split is legitimately negative).
func optionalFinite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
