package carpark

import (
	"fmt"
	"time"
)

// Row is a self-describing tuple, the shape streamed to external consumers.
type Row struct {
	ColumnNames []string `json:"columnNames"`
	ColumnTypes []string `json:"columnTypes"`
	Values      []any    `json:"values"`
}

var eventColumns = []struct {
	name string
	typ  string
}{
	{"TS", "BIGINT"},
	{"NAME", "STRING"},
	{"CAPACITY", "INTEGER"},
	{"EMPTY_PLACES", "INTEGER"},
	{"STATUS", "STRING"},
	{"LOCATION", "STRUCT<LAT DOUBLE, LON DOUBLE>"},
	{"DIRECTIONSURL", "STRING"},
	{"SOURCE", "STRING"},
	{"OFFSET", "BIGINT"},
}

// EventRow renders an event as a Row. TS is epoch milliseconds.
func EventRow(e Event) Row {
	row := Row{
		ColumnNames: make([]string, len(eventColumns)),
		ColumnTypes: make([]string, len(eventColumns)),
	}
	for i, c := range eventColumns {
		row.ColumnNames[i] = c.name
		row.ColumnTypes[i] = c.typ
	}
	row.Values = []any{
		e.Timestamp.UnixMilli(),
		e.Name,
		e.Capacity,
		e.EmptyPlaces,
		e.Status,
		map[string]float64{"LAT": e.Location.Lat, "LON": e.Location.Lon},
		e.DirectionsURL,
		e.Source,
		e.Offset,
	}
	return row
}

// Summary is the human-readable text sent to notification channels.
func Summary(e Event) string {
	return fmt.Sprintf("%s: %d of %d places free (%s) at %s\n%s",
		e.Name,
		e.EmptyPlaces,
		e.Capacity,
		e.Status,
		e.Timestamp.Format(time.DateTime),
		e.DirectionsURL,
	)
}
