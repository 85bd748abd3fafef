package carpark

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPctFull(t *testing.T) {
	assert.InDelta(t, 96.05, PctFull(76, 3), 0.01)
	assert.InDelta(t, 0.0, PctFull(100, 100), 1e-9)
	assert.InDelta(t, 100.0, PctFull(50, 0), 1e-9)
}

func TestPctFull_ZeroCapacityIsNaN(t *testing.T) {
	assert.True(t, math.IsNaN(PctFull(0, 0)))
	assert.True(t, math.IsNaN(PctFull(0, 5)))
}

func TestStateFromEvent(t *testing.T) {
	ts := time.Date(2020, 11, 24, 14, 48, 0, 0, time.UTC)
	e := Event{
		Timestamp:     ts,
		Name:          "Westgate",
		Capacity:      76,
		EmptyPlaces:   3,
		Status:        "Spaces",
		Latitude:      53.79,
		Longitude:     -1.55,
		DirectionsURL: "https://example.test/westgate",
		Offset:        9,
	}

	s := StateFromEvent(e)
	assert.Equal(t, "Westgate", s.Name)
	assert.Equal(t, ts, s.LatestTimestamp)
	assert.Equal(t, 3, s.CurrentEmptyPlaces)
	assert.InDelta(t, 96.05, s.PctFull, 0.01)
	assert.Equal(t, int64(9), s.LastOffset)
}

func TestCarparkState_JSONRendersNaNAsNull(t *testing.T) {
	s := CarparkState{Name: "Empty Lot", PctFull: math.NaN(), LastOffset: 3}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Nil(t, raw["pct_full"])
	assert.Equal(t, "Empty Lot", raw["name"])

	var back CarparkState
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsNaN(back.PctFull))
	assert.Equal(t, int64(3), back.LastOffset)
}

func TestCarparkState_JSONKeepsDefinedPct(t *testing.T) {
	s := CarparkState{Name: "Westgate", PctFull: 25}

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pct_full":25`)
}

func TestRawRecord_Field(t *testing.T) {
	r := RawRecord{Fields: []string{"a", "b"}}
	assert.Equal(t, "b", r.Field(1))
	assert.Equal(t, "", r.Field(5))
	assert.Equal(t, "", r.Field(-1))
}

func TestFilter(t *testing.T) {
	one := 1
	f := Filter{Name: "Kirkgate Centre", MinEmpty: &one}

	match := Event{Name: "Kirkgate Centre", EmptyPlaces: 4}
	full := Event{Name: "Kirkgate Centre", EmptyPlaces: 0}
	other := Event{Name: "Westgate", EmptyPlaces: 40}

	p := f.Events()
	assert.True(t, p(match))
	assert.False(t, p(full))
	assert.False(t, p(other))

	sp := f.States()
	assert.True(t, sp(CarparkState{Name: "Kirkgate Centre", CurrentEmptyPlaces: 2}))
	assert.False(t, sp(CarparkState{Name: "Kirkgate Centre"}))
}

func TestFilter_EmptyMatchesEverything(t *testing.T) {
	var f Filter
	assert.True(t, f.Events()(Event{Name: "anything"}))
	assert.True(t, f.States()(CarparkState{Name: "anything"}))
}

func TestStatusEquals_CaseInsensitive(t *testing.T) {
	assert.True(t, StatusEquals("spaces")(Event{Status: "Spaces"}))
	assert.False(t, StatusEquals("full")(Event{Status: "Spaces"}))
}

func TestEventRow(t *testing.T) {
	e := Event{
		Timestamp: time.UnixMilli(1606229280000).UTC(),
		Name:      "Westgate",
		Capacity:  492,
		Location:  Location{Lat: 53.79, Lon: -1.55},
		Source:    "parkflow-transform/v1",
		Offset:    7,
	}

	row := EventRow(e)
	require.Len(t, row.ColumnNames, len(row.Values))
	require.Len(t, row.ColumnTypes, len(row.Values))
	assert.Equal(t, "TS", row.ColumnNames[0])
	assert.Equal(t, int64(1606229280000), row.Values[0])
	assert.Equal(t, "Westgate", row.Values[1])
	assert.Equal(t, int64(7), row.Values[len(row.Values)-1])
}

func TestSummary(t *testing.T) {
	e := Event{
		Timestamp:     time.Date(2020, 11, 24, 14, 48, 0, 0, time.UTC),
		Name:          "Kirkgate Centre",
		Capacity:      350,
		EmptyPlaces:   12,
		Status:        "Spaces",
		DirectionsURL: "https://example.test/kirkgate",
	}
	s := Summary(e)
	assert.Contains(t, s, "Kirkgate Centre: 12 of 350 places free")
	assert.Contains(t, s, "2020-11-24 14:48:00")
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		notFound  bool
		transform bool
	}{
		{"poll", NewPollError("fetch", fmt.Errorf("boom")), true, false, false},
		{"parse", NewParseError(3, "2020-13-40", "25:00", nil), false, false, true},
		{"transform", NewTransformError(4, "capacity not numeric", nil), false, false, true},
		{"dispatch", NewDispatchError("Westgate", 5, fmt.Errorf("503")), true, false, false},
		{"not found", NewNotFoundError("Nowhere"), false, true, false},
		{"wrapped not found", fmt.Errorf("lookup: %w", NewNotFoundError("Nowhere")), false, true, false},
		{"storage", NewStorageError("append", fmt.Errorf("disk full")), false, false, false},
		{"plain", fmt.Errorf("plain"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.transform, IsTransformError(tt.err))
		})
	}
}

func TestError_Message(t *testing.T) {
	err := NewDispatchError("Westgate", 5, fmt.Errorf("503 Service Unavailable"))
	assert.Equal(t, "DISPATCH: delivery failed (key=Westgate) (offset=5): 503 Service Unavailable", err.Error())

	nf := NewNotFoundError("Nowhere")
	assert.Equal(t, "NOT_FOUND: carpark not found (key=Nowhere)", nf.Error())
}

func TestNormalizeKey(t *testing.T) {
	composed := "Caf\u00e9 Court"
	assert.Equal(t, composed, NormalizeKey("Cafe\u0301 Court"))
	assert.Equal(t, composed, NormalizeKey("  "+composed+"\t"))
	assert.Equal(t, "", NormalizeKey("   "))
}
