package carpark

import (
	"encoding/json"
	"math"
	"time"
)

// Field positions of a RawRecord, in feed order.
const (
	FieldDate = iota
	FieldTime
	FieldName
	FieldCapacity
	FieldEmptyPlaces
	FieldStatus
	FieldLatitude
	FieldLongitude
	FieldDirectionsURL

	// FieldCount is the number of fields every well-formed RawRecord carries.
	FieldCount
)

// RawRecord is one feed row plus the position the raw Log assigned to it.
type RawRecord struct {
	Offset     int64     `json:"offset"`
	Partition  int       `json:"partition"`
	Fields     []string  `json:"fields"`
	ReceivedAt time.Time `json:"received_at"`
}

// Field returns the i-th field, or "" when the record is short.
func (r RawRecord) Field(i int) string {
	if i < 0 || i >= len(r.Fields) {
		return ""
	}
	return r.Fields[i]
}

// Location groups the coordinates of a car park.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Event is the typed, enriched form of a single RawRecord.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Name          string    `json:"name"`
	Capacity      int       `json:"capacity"`
	EmptyPlaces   int       `json:"empty_places"`
	Status        string    `json:"status"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Location      Location  `json:"location"`
	DirectionsURL string    `json:"directions_url"`

	// Source is the lineage tag of the pipeline version that derived the event.
	Source string `json:"source"`

	// SourceOffset is the raw Log offset of the originating RawRecord.
	SourceOffset int64 `json:"source_offset"`

	// Offset is the Event Log offset. Zero until the event is appended.
	Offset    int64 `json:"offset"`
	Partition int   `json:"partition"`
}

// SetPosition records where the raw Log stored the record.
func (r *RawRecord) SetPosition(offset int64, partition int) {
	r.Offset = offset
	r.Partition = partition
}

// SetPosition records where the Event Log stored the event.
func (e *Event) SetPosition(offset int64, partition int) {
	e.Offset = offset
	e.Partition = partition
}

// CarparkState is the latest known state of one car park.
type CarparkState struct {
	Name               string    `json:"name"`
	LatestTimestamp    time.Time `json:"latest_timestamp"`
	Capacity           int       `json:"capacity"`
	CurrentEmptyPlaces int       `json:"current_empty_places"`
	PctFull            float64   `json:"pct_full"`
	Status             string    `json:"status"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	DirectionsURL      string    `json:"directions_url"`
	LastOffset         int64     `json:"last_offset"`
}

// PctFull returns how full a car park is as a percentage of capacity.
// It returns NaN when capacity is zero.
func PctFull(capacity, emptyPlaces int) float64 {
	if capacity == 0 {
		return math.NaN()
	}
	return float64(capacity-emptyPlaces) / float64(capacity) * 100
}

// StateFromEvent builds the state an accepted event produces.
func StateFromEvent(e Event) CarparkState {
	return CarparkState{
		Name:               e.Name,
		LatestTimestamp:    e.Timestamp,
		Capacity:           e.Capacity,
		CurrentEmptyPlaces: e.EmptyPlaces,
		PctFull:            PctFull(e.Capacity, e.EmptyPlaces),
		Status:             e.Status,
		Latitude:           e.Latitude,
		Longitude:          e.Longitude,
		DirectionsURL:      e.DirectionsURL,
		LastOffset:         e.Offset,
	}
}

// MarshalJSON renders an undefined PctFull as null; encoding/json rejects NaN.
func (s CarparkState) MarshalJSON() ([]byte, error) {
	type plain CarparkState
	out := struct {
		plain
		PctFull *float64 `json:"pct_full"`
	}{plain: plain(s)}
	if !math.IsNaN(s.PctFull) && !math.IsInf(s.PctFull, 0) {
		pct := s.PctFull
		out.PctFull = &pct
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a null PctFull as NaN.
func (s *CarparkState) UnmarshalJSON(data []byte) error {
	type plain CarparkState
	in := struct {
		*plain
		PctFull *float64 `json:"pct_full"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.PctFull == nil {
		s.PctFull = math.NaN()
	} else {
		s.PctFull = *in.PctFull
	}
	return nil
}
