package poller

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/parkflow/internal/carpark"
)

// Source fetches the current rows of the external feed.
type Source interface {
	Fetch(ctx context.Context) ([]carpark.RawRecord, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]carpark.RawRecord, error)

// Fetch implements Source.
func (f SourceFunc) Fetch(ctx context.Context) ([]carpark.RawRecord, error) {
	return f(ctx)
}

// HTTPSource reads the feed as CSV over HTTP. A header row, recognised by
// a first column of "date", is skipped.
type HTTPSource struct {
	URL    string
	Client *http.Client
	Now    func() time.Time
}

// NewHTTPSource creates a source for url with the given request timeout.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
		Now:    time.Now,
	}
}

// Fetch implements Source. Every failure is a transient PollError.
// Rows are returned as-is; structural validation is left to the Poller.
// A line the CSV reader cannot parse is returned as a row without fields.
func (s *HTTPSource) Fetch(ctx context.Context) ([]carpark.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, carpark.NewPollError("build request", err)
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, carpark.NewPollError("request feed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, carpark.NewPollError(fmt.Sprintf("unexpected status %s", resp.Status), nil)
	}

	records, err := decodeCSV(resp.Body, s.now())
	if err != nil {
		return nil, carpark.NewPollError("decode payload", err)
	}
	return records, nil
}

func (s *HTTPSource) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func decodeCSV(r io.Reader, receivedAt time.Time) ([]carpark.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // short rows are dropped by the poller, not fatal
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	var out []carpark.RawRecord
	first := true
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			// An unparseable line becomes an empty row so the poller drops and
			// counts it; the rest of the payload is still read.
			first = false
			out = append(out, carpark.RawRecord{ReceivedAt: receivedAt})
			continue
		}
		if err != nil {
			return nil, err
		}
		if first {
			first = false
			if len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "date") {
				continue
			}
		}
		out = append(out, carpark.RawRecord{Fields: row, ReceivedAt: receivedAt})
	}
	return out, nil
}
