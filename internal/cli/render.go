package cli

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"
	"time"

	"github.com/roach88/parkflow/internal/carpark"
)

const timeLayout = "2006-01-02 15:04"

func pct(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return fmt.Sprintf("%.1f", v)
}

// renderState writes one state as aligned key/value lines.
func renderState(w io.Writer, st carpark.CarparkState) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", st.Name)
	fmt.Fprintf(tw, "Free:\t%d of %d\n", st.CurrentEmptyPlaces, st.Capacity)
	fmt.Fprintf(tw, "Full:\t%s%%\n", pct(st.PctFull))
	fmt.Fprintf(tw, "Status:\t%s\n", st.Status)
	fmt.Fprintf(tw, "Updated:\t%s\n", st.LatestTimestamp.Format(timeLayout))
	fmt.Fprintf(tw, "Location:\t%.4f, %.4f\n", st.Latitude, st.Longitude)
	fmt.Fprintf(tw, "Directions:\t%s\n", st.DirectionsURL)
	fmt.Fprintf(tw, "Offset:\t%d\n", st.LastOffset)
	return tw.Flush()
}

// renderStates writes a table with one line per state.
func renderStates(w io.Writer, states []carpark.CarparkState) error {
	if len(states) == 0 {
		_, err := fmt.Fprintln(w, "No matching car parks.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFREE\tCAPACITY\tFULL%\tSTATUS\tUPDATED\tOFFSET")
	for _, st := range states {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%d\n",
			st.Name, st.CurrentEmptyPlaces, st.Capacity, pct(st.PctFull),
			st.Status, st.LatestTimestamp.Format(timeLayout), st.LastOffset)
	}
	fmt.Fprintf(tw, "\n%d car park(s)\n", len(states))
	return tw.Flush()
}

// renderRow writes one streamed row as a single line.
func renderRow(w io.Writer, row carpark.Row) error {
	col := make(map[string]any, len(row.ColumnNames))
	for i, name := range row.ColumnNames {
		if i < len(row.Values) {
			col[name] = row.Values[i]
		}
	}

	ts := "-"
	if ms, ok := col["TS"].(float64); ok {
		ts = time.UnixMilli(int64(ms)).UTC().Format(timeLayout)
	}
	_, err := fmt.Fprintf(w, "[%v] %s  %v: %v of %v free (%v)\n",
		col["OFFSET"], ts, col["NAME"], col["EMPTY_PLACES"], col["CAPACITY"], col["STATUS"])
	return err
}
