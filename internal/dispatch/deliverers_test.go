package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parkflow/internal/carpark"
)

var westgate = carpark.Event{
	Timestamp:   time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC),
	Name:        "Westgate",
	Capacity:    76,
	EmptyPlaces: 3,
	Status:      "Spaces",
	Offset:      42,
}

func TestChatNotifier_SendsSummary(t *testing.T) {
	var got sendMessageRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewChatNotifier(srv.URL+"/", "TOKEN", "1234", 0, time.Second)
	require.NoError(t, n.Deliver(context.Background(), westgate))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "1234", got.ChatID)
	assert.Equal(t, carpark.Summary(westgate), got.Text)
	assert.True(t, strings.Contains(got.Text, "Westgate"))
}

func TestChatNotifier_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"ok":false,"description":"boom"}`},
		{name: "rejected", status: http.StatusOK, body: `{"ok":false,"description":"chat not found"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewChatNotifier(srv.URL, "T", "1", 0, time.Second).Deliver(context.Background(), westgate)
			assert.Error(t, err)
		})
	}
}

func TestChatNotifier_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewChatNotifier(srv.URL, "T", "1", 0.001, time.Second)
	require.NoError(t, n.Deliver(context.Background(), westgate))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, n.Deliver(ctx, westgate), "second message must wait for the limiter")
}

func TestWebhookSink_PostsRow(t *testing.T) {
	var row carpark.Row
	var key, offset string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("X-Parkflow-Key")
		offset = r.Header.Get("X-Parkflow-Offset")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &row))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookSink(srv.URL, time.Second).Deliver(context.Background(), westgate))
	assert.Equal(t, "Westgate", key)
	assert.Equal(t, "42", offset)
	assert.Equal(t, carpark.EventRow(westgate).ColumnNames, row.ColumnNames)
}

func TestWebhookSink_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	assert.Error(t, NewWebhookSink(srv.URL, time.Second).Deliver(context.Background(), westgate))
}

type fakeExec struct {
	sql  string
	args []any
	err  error
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = sql
	f.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestPostgresSink_UpsertGuardedByOffset(t *testing.T) {
	fe := &fakeExec{}
	sink := &PostgresSink{db: fe}

	require.NoError(t, sink.Deliver(context.Background(), westgate))
	assert.Contains(t, fe.sql, "ON CONFLICT (name)")
	assert.Contains(t, fe.sql, "WHERE carpark_latest.last_offset < EXCLUDED.last_offset")
	require.Len(t, fe.args, 11)
	assert.Equal(t, "Westgate", fe.args[0])
	assert.Equal(t, int64(42), fe.args[10])

	pct, ok := fe.args[4].(*float64)
	require.True(t, ok)
	require.NotNil(t, pct)
	assert.InDelta(t, 96.05, *pct, 0.01)
}

func TestPostgresSink_ZeroCapacityStoresNull(t *testing.T) {
	fe := &fakeExec{}
	sink := &PostgresSink{db: fe}

	ev := westgate
	ev.Capacity = 0
	ev.EmptyPlaces = 0
	require.NoError(t, sink.Deliver(context.Background(), ev))

	pct := fe.args[4].(*float64)
	assert.Nil(t, pct)
	assert.False(t, math.IsNaN(carpark.PctFull(76, 3)))
}

func TestPostgresSink_ExecError(t *testing.T) {
	fe := &fakeExec{err: assert.AnError}
	err := (&PostgresSink{db: fe}).Deliver(context.Background(), westgate)
	assert.ErrorIs(t, err, assert.AnError)
}
