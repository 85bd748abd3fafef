package transform

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/parkflow/internal/carpark"
)

// Layouts accepted for the combined "date time" fields, tried in order.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
}

// errNoLayout is the cause of a ParseError whose input matched no layout.
var errNoLayout = errors.New("no matching timestamp layout")

// errNoSuchLocalTime is the cause of a ParseError for a wall-clock time the
// zone skips, such as the hour lost when daylight saving starts.
var errNoSuchLocalTime = errors.New("local time does not exist in zone")

// Derive turns one raw record into an Event.
//
// Derive is pure: the same record, location and source always produce the
// same Event or the same error. The returned Event has no Event Log offset.
func Derive(raw carpark.RawRecord, loc *time.Location, source string) (carpark.Event, error) {
	if len(raw.Fields) != carpark.FieldCount {
		return carpark.Event{}, carpark.NewTransformError(raw.Offset,
			fmt.Sprintf("expected %d fields, got %d", carpark.FieldCount, len(raw.Fields)), nil)
	}

	name := carpark.NormalizeKey(raw.Field(carpark.FieldName))
	if name == "" {
		return carpark.Event{}, carpark.NewTransformError(raw.Offset, "missing name", nil)
	}

	date := strings.TrimSpace(raw.Field(carpark.FieldDate))
	clock := strings.TrimSpace(raw.Field(carpark.FieldTime))
	ts, err := parseTimestamp(date, clock, loc)
	if err != nil {
		return carpark.Event{}, carpark.NewParseError(raw.Offset, date, clock, err)
	}

	capacity, err := parseCount(raw, carpark.FieldCapacity, "capacity")
	if err != nil {
		return carpark.Event{}, err
	}
	empty, err := parseCount(raw, carpark.FieldEmptyPlaces, "empty_places")
	if err != nil {
		return carpark.Event{}, err
	}
	lat, err := parseCoord(raw, carpark.FieldLatitude, "latitude")
	if err != nil {
		return carpark.Event{}, err
	}
	lon, err := parseCoord(raw, carpark.FieldLongitude, "longitude")
	if err != nil {
		return carpark.Event{}, err
	}

	return carpark.Event{
		Timestamp:     ts,
		Date:          date,
		Time:          clock,
		Name:          name,
		Capacity:      capacity,
		EmptyPlaces:   empty,
		Status:        strings.TrimSpace(raw.Field(carpark.FieldStatus)),
		Latitude:      lat,
		Longitude:     lon,
		Location:      carpark.Location{Lat: lat, Lon: lon},
		DirectionsURL: strings.TrimSpace(raw.Field(carpark.FieldDirectionsURL)),
		Source:        source,
		SourceOffset:  raw.Offset,
	}, nil
}

func parseTimestamp(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if date == "" || clock == "" {
		return time.Time{}, errNoLayout
	}

	value := date + " " + clock
	for _, layout := range timestampLayouts {
		wall, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		ts := time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), 0, loc)
		if !sameWallClock(ts, wall) {
			return time.Time{}, errNoSuchLocalTime
		}
		return ts, nil
	}
	return time.Time{}, errNoLayout
}

// sameWallClock reports whether a and b show the same date and time of day.
// time.Date normalises a skipped local time into the next offset, which
// changes the wall clock.
func sameWallClock(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute() && a.Second() == b.Second()
}

func parseCount(raw carpark.RawRecord, field int, label string) (int, error) {
	s := strings.TrimSpace(raw.Field(field))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, carpark.NewTransformError(raw.Offset, fmt.Sprintf("non-numeric %s %q", label, s), err)
	}
	if n < 0 {
		return 0, carpark.NewTransformError(raw.Offset, fmt.Sprintf("negative %s %d", label, n), nil)
	}
	return n, nil
}

func parseCoord(raw carpark.RawRecord, field int, label string) (float64, error) {
	s := strings.TrimSpace(raw.Field(field))
	f, err := strconv.ParseFloat(s, 64)
	if err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
		err = strconv.ErrSyntax
	}
	if err != nil {
		return 0, carpark.NewTransformError(raw.Offset, fmt.Sprintf("non-numeric %s %q", label, s), err)
	}
	return f, nil
}
