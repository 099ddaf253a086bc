package normalize

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"rundash/internal/strava"
)

func TestBuildActivityMapsOptionalFieldsToNil(t *testing.T) {
	detail := &strava.DetailedActivity{
		ID:         100,
		Name:       "Easy Run",
		SportType:  "Run",
		StartDate:  time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		Distance:   5000,
		MovingTime: 1800,
		// heart rate, cadence, calories all unreported (zero)
	}

	a, err := BuildActivity(detail, []byte(`{"id":100}`), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.AverageHeartRate != nil {
		t.Errorf("zero heart rate must map to nil, got %f", *a.AverageHeartRate)
	}
	if a.AverageCadence != nil {
		t.Errorf("zero cadence must map to nil, got %f", *a.AverageCadence)
	}
	if a.Calories != nil {
		t.Errorf("zero calories must map to nil, got %f", *a.Calories)
	}
	if a.ExternalID != 100 || a.DistanceM != 5000 {
		t.Errorf("unexpected mapping: %+v", a)
	}
	if string(a.RawJSON) != `{"id":100}` {
		t.Error("raw payload must be carried through unchanged")
	}
}

func TestBuildSplitsPrefersAverageSpeedForPace(t *testing.T) {
	detail := &strava.DetailedActivity{
		ID:        1,
		StartDate: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		SplitsMetric: []strava.Split{
			{Split: 1, Distance: 1000, MovingTime: 300, AverageSpeed: 3.2},
			{Split: 2, Distance: 995, MovingTime: 310}, // no speed: fall back to distance/time
		},
	}

	a, err := BuildActivity(detail, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Splits) != 2 {
		t.Fatalf("expected 2 splits, got %d", len(a.Splits))
	}

	if a.Splits[0].PaceSecPerKm == nil || math.Abs(*a.Splits[0].PaceSecPerKm-1000/3.2) > 1e-9 {
		t.Errorf("split 1 pace should come from average speed, got %v", a.Splits[0].PaceSecPerKm)
	}
	want := 310.0 * 1000 / 995
	if a.Splits[1].PaceSecPerKm == nil || math.Abs(*a.Splits[1].PaceSecPerKm-want) > 1e-9 {
		t.Errorf("split 2 pace should fall back to distance/time, got %v", a.Splits[1].PaceSecPerKm)
	}
}

func hrZones(buckets ...strava.TimedZoneRange) []strava.ActivityZone {
	return []strava.ActivityZone{{Type: "heartrate", DistributionBuckets: buckets}}
}

func TestZonePercentagesSumToOne(t *testing.T) {
	zones := BuildHeartRateZones(hrZones(
		strava.TimedZoneRange{Min: 0, Max: 120, Time: 600},
		strava.TimedZoneRange{Min: 120, Max: 145, Time: 1200},
		strava.TimedZoneRange{Min: 145, Max: 165, Time: 900},
		strava.TimedZoneRange{Min: 165, Max: -1, Time: 300},
	))
	if len(zones) != 4 {
		t.Fatalf("expected 4 zones, got %d", len(zones))
	}

	var sum float64
	for i, z := range zones {
		if z.Label != fmt.Sprintf("Z%d", i+1) {
			t.Errorf("zone %d label = %s, want Z%d", i, z.Label, i+1)
		}
		if z.Percentage == nil {
			t.Fatalf("zone %s missing percentage", z.Label)
		}
		sum += *z.Percentage
	}
	if math.Abs(sum-1.0) > 1e-5 {
		t.Errorf("percentages sum to %f, want 1.0", sum)
	}
}

func TestZonePercentagesIdempotent(t *testing.T) {
	input := hrZones(
		strava.TimedZoneRange{Min: 0, Max: 140, Time: 333},
		strava.TimedZoneRange{Min: 140, Max: -1, Time: 667},
	)
	first := BuildHeartRateZones(input)
	second := BuildHeartRateZones(input)
	if !reflect.DeepEqual(first, second) {
		t.Error("re-normalizing the same input must yield identical zones")
	}
}

func TestZoneMaxNormalization(t *testing.T) {
	tests := []struct {
		name    string
		bucket  strava.TimedZoneRange
		wantNil bool
	}{
		{"open-ended sentinel", strava.TimedZoneRange{Min: 165, Max: -1, Time: 10}, true},
		{"zero max", strava.TimedZoneRange{Min: 165, Max: 0, Time: 10}, true},
		{"inverted range", strava.TimedZoneRange{Min: 165, Max: 150, Time: 10}, true},
		{"nan max", strava.TimedZoneRange{Min: 165, Max: math.NaN(), Time: 10}, true},
		{"valid max", strava.TimedZoneRange{Min: 145, Max: 165, Time: 10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			zones := BuildHeartRateZones(hrZones(tt.bucket))
			if len(zones) != 1 {
				t.Fatalf("expected 1 zone, got %d", len(zones))
			}
			if (zones[0].MaxBpm == nil) != tt.wantNil {
				t.Errorf("MaxBpm = %v, wantNil = %v", zones[0].MaxBpm, tt.wantNil)
			}
			if zones[0].MaxBpm != nil && *zones[0].MaxBpm < zones[0].MinBpm {
				t.Error("normalized zone must never have max below min")
			}
		})
	}
}

func TestZeroTotalTimeYieldsNilPercentages(t *testing.T) {
	zones := BuildHeartRateZones(hrZones(
		strava.TimedZoneRange{Min: 0, Max: 120, Time: 0},
		strava.TimedZoneRange{Min: 120, Max: -1, Time: 0},
	))
	for _, z := range zones {
		if z.Percentage != nil {
			t.Errorf("zone %s should have nil percentage with zero total time, got %f", z.Label, *z.Percentage)
		}
	}
}

func TestDecodeStreamsAcceptsBothShapes(t *testing.T) {
	object := []byte(`{
		"time": {"data": [0, 10, 20]},
		"distance": {"data": [0, 30, 62]},
		"heartrate": {"data": [110, 130, 142]},
		"velocity_smooth": {"data": [0, 3.0, 3.2]}
	}`)
	array := []byte(`[
		{"type": "time", "data": [0, 10, 20]},
		{"type": "distance", "data": [0, 30, 62]},
		{"type": "heartrate", "data": [110, 130, 142]},
		{"type": "velocity_smooth", "data": [0, 3.0, 3.2]}
	]`)

	fromObject, err := DecodeStreams(object)
	if err != nil {
		t.Fatalf("object shape: %v", err)
	}
	fromArray, err := DecodeStreams(array)
	if err != nil {
		t.Fatalf("array shape: %v", err)
	}
	if !reflect.DeepEqual(fromObject, fromArray) {
		t.Error("both payload shapes must normalize to the same internal series")
	}
	if len(fromObject.Time) != 3 {
		t.Errorf("expected 3 time samples, got %d", len(fromObject.Time))
	}
}

func TestDecodeStreamsEmptyAndMalformed(t *testing.T) {
	if set, err := DecodeStreams(nil); err != nil || set != nil {
		t.Errorf("nil payload should yield (nil, nil), got (%v, %v)", set, err)
	}
	if _, err := DecodeStreams([]byte(`"what"`)); err == nil {
		t.Error("expected error for unrecognized payload shape")
	}
}

func TestBuildTrendPointsFiltering(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	streams := &StreamSet{
		Time:      []*float64{f(0), f(-5), nil, f(30), f(40), f(50)},
		HeartRate: []*float64{f(120), f(125), f(130), nil, f(140), nil},
		Velocity:  []*float64{f(3.0), f(3.0), f(3.0), nil, f(0), f(-1)},
		Distance:  []*float64{f(0), f(10), f(20), f(90), f(120), f(150)},
	}

	points := BuildTrendPoints(streams)

	// index 1 dropped (negative time), index 2 dropped (nil time),
	// index 3 dropped (no heart rate and no velocity),
	// index 5 dropped (nil HR, non-positive velocity -> nil pace).
	if len(points) != 2 {
		t.Fatalf("expected 2 surviving points, got %d: %+v", len(points), points)
	}
	if points[0].ElapsedTimeS != 0 || points[1].ElapsedTimeS != 40 {
		t.Errorf("unexpected surviving points: %+v", points)
	}
	// index 4: zero velocity yields nil pace, not a divide-by-zero artifact
	if points[1].PaceSecPerKm != nil {
		t.Errorf("non-positive velocity must yield nil pace, got %f", *points[1].PaceSecPerKm)
	}
	if points[1].HeartRate == nil || *points[1].HeartRate != 140 {
		t.Errorf("heart-rate-only sample must be kept: %+v", points[1])
	}
}

func TestBuildTrendPointsSortsByElapsedTime(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	streams := &StreamSet{
		Time:      []*float64{f(20), f(0), f(10)},
		HeartRate: []*float64{f(130), f(110), f(120)},
	}

	points := BuildTrendPoints(streams)
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].ElapsedTimeS < points[i-1].ElapsedTimeS {
			t.Fatalf("points not sorted by elapsed time: %+v", points)
		}
	}
}

func TestDownsampleBoundsAndEndpoints(t *testing.T) {
	const n = 400
	f := func(v float64) *float64 { return &v }
	streams := &StreamSet{Time: make([]*float64, n), HeartRate: make([]*float64, n)}
	for i := 0; i < n; i++ {
		streams.Time[i] = f(float64(i * 10))
		streams.HeartRate[i] = f(100 + float64(i%60))
	}

	points := BuildTrendPoints(streams)
	if len(points) > MaxTrendPoints {
		t.Errorf("expected at most %d points, got %d", MaxTrendPoints, len(points))
	}
	if points[0].ElapsedTimeS != 0 {
		t.Errorf("first point must be preserved exactly, got %f", points[0].ElapsedTimeS)
	}
	if last := points[len(points)-1]; last.ElapsedTimeS != float64((n-1)*10) {
		t.Errorf("last point must be preserved exactly, got %f", last.ElapsedTimeS)
	}

	// deterministic: same input, same output
	again := BuildTrendPoints(streams)
	if !reflect.DeepEqual(points, again) {
		t.Error("downsampling must be deterministic")
	}
}

func TestDownsampleShortSeriesUntouched(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	streams := &StreamSet{
		Time:      []*float64{f(0), f(10), f(20)},
		HeartRate: []*float64{f(110), f(120), f(130)},
	}
	points := BuildTrendPoints(streams)
	if len(points) != 3 {
		t.Errorf("series under the cap must pass through whole, got %d points", len(points))
	}
}

func TestBuildActivityRejectsMalformedStreams(t *testing.T) {
	detail := &strava.DetailedActivity{ID: 5, StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	_, err := BuildActivity(detail, nil, nil, []byte(`42`))
	if err == nil || !strings.Contains(err.Error(), "decoding streams") {
		t.Errorf("expected stream decode error, got %v", err)
	}
}

func TestBuildHeartRateZonesIgnoresPowerZones(t *testing.T) {
	zones := BuildHeartRateZones([]strava.ActivityZone{
		{Type: "power", DistributionBuckets: []strava.TimedZoneRange{{Min: 0, Max: 200, Time: 100}}},
		{Type: "heartrate", DistributionBuckets: []strava.TimedZoneRange{{Min: 0, Max: 150, Time: 50}}},
	})
	if len(zones) != 1 {
		t.Fatalf("expected only the heartrate distribution, got %d zones", len(zones))
	}
	if zones[0].TimeS != 50 {
		t.Errorf("picked wrong distribution: %+v", zones[0])
	}
}
