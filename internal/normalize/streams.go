package normalize

import (
	"fmt"

	"github.com/goccy/go-json"
)

// StreamSet is the canonical internal form of the provider's time-series
// payload: four parallel series zipped by index. Entries are pointers
// because individual samples can be null in the source.
type StreamSet struct {
	Time      []*float64
	Distance  []*float64
	HeartRate []*float64
	Velocity  []*float64
}

// rawStream is one series as the provider sends it.
type rawStream struct {
	Type string     `json:"type"`
	Data []*float64 `json:"data"`
}

// DecodeStreams converts the provider's stream payload to the canonical
// StreamSet. The upstream shape varies: a JSON object keyed by stream type,
// or an array of {type, data} entries. Both collapse here so the rest of
// the normalizer only ever sees one shape. A nil/empty payload returns nil.
func DecodeStreams(payload []byte) (*StreamSet, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var byType map[string]rawStream
	if err := json.Unmarshal(payload, &byType); err == nil {
		return fromTypeMap(byType), nil
	}

	var asArray []rawStream
	if err := json.Unmarshal(payload, &asArray); err == nil {
		m := make(map[string]rawStream, len(asArray))
		for _, s := range asArray {
			m[s.Type] = s
		}
		return fromTypeMap(m), nil
	}

	return nil, fmt.Errorf("unrecognized stream payload shape")
}

func fromTypeMap(streams map[string]rawStream) *StreamSet {
	set := &StreamSet{
		Time:      streams["time"].Data,
		Distance:  streams["distance"].Data,
		HeartRate: streams["heartrate"].Data,
		Velocity:  streams["velocity_smooth"].Data,
	}
	if len(set.Time) == 0 {
		return nil
	}
	return set
}

// at returns the value at index i of series, or nil when the series is
// shorter than i or carries a null there.
func at(series []*float64, i int) *float64 {
	if i >= len(series) {
		return nil
	}
	return series[i]
}
