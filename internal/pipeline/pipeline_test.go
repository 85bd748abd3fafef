package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parkflow/internal/carpark"
	"github.com/roach88/parkflow/internal/config"
	"github.com/roach88/parkflow/internal/metrics"
	"github.com/roach88/parkflow/internal/poller"
)

type recorder struct {
	name string
	mu   sync.Mutex
	sent []carpark.Event
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Deliver(_ context.Context, ev carpark.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, ev)
	return nil
}

func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recorder) First() carpark.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[0]
}

func row(name, capacity string, empty int) carpark.RawRecord {
	return carpark.RawRecord{Fields: []string{
		"2024-03-01", "09:00:00", name, capacity, strconv.Itoa(empty),
		"Spaces", "53.7997", "-1.5492", "https://maps.example/" + name,
	}}
}

// countingFeed reports one fewer free place at Westgate on every poll and
// always includes one underivable row.
func countingFeed() poller.Source {
	var polls atomic.Int64
	return poller.SourceFunc(func(context.Context) ([]carpark.RawRecord, error) {
		n := int(polls.Add(1))
		return []carpark.RawRecord{
			row("Westgate", "80", 80-n),
			row("Broadway", "lots", 3),
		}, nil
	})
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Feed.URL = "http://feed.invalid/carparks.csv"
	cfg.Feed.Interval = 20 * time.Millisecond

	rulesFile := filepath.Join(t.TempDir(), "rules.cue")
	require.NoError(t, os.WriteFile(rulesFile,
		[]byte(`alerts: [{name: "westgate-open", carpark: "Westgate", min_empty: 1}]`), 0o600))
	cfg.Alerts.RulesFile = rulesFile
	return cfg
}

func start(t *testing.T, p *Pipeline) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("pipeline did not stop")
		}
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	alerts := &recorder{name: "alerts"}
	export := &recorder{name: "export"}

	p, err := New(context.Background(), testConfig(t), metrics.New(),
		WithSource(countingFeed()),
		WithAlertDeliverer(alerts),
		WithExporter(export),
	)
	require.NoError(t, err)
	defer p.Close()

	stop := start(t, p)

	require.Eventually(t, func() bool {
		_, err := p.Query().Get("Westgate")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return alerts.Len() > 0 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return export.Len() > 0 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(p.RecentErrors()) > 0 }, 5*time.Second, 10*time.Millisecond)

	stop()

	assert.Equal(t, int64(0), export.First().Offset, "exporter replays from the first event")
	assert.Equal(t, "Westgate", alerts.First().Name)
	assert.Contains(t, p.RecentErrors()[0], "TRANSFORM")

	_, err = p.Query().Get("Broadway")
	assert.True(t, carpark.IsNotFound(err), "underivable rows never reach the table")
}

func TestPipeline_ResumesFromStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Alerts.RulesFile = ""
	cfg.Database.Path = filepath.Join(t.TempDir(), "parkflow.db")

	p, err := New(context.Background(), cfg, nil, WithSource(countingFeed()))
	require.NoError(t, err)

	stop := start(t, p)
	require.Eventually(t, func() bool {
		st, err := p.Query().Get("Westgate")
		return err == nil && st.LastOffset >= 1
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	rawTail := p.RawLog().LastOffset()
	eventTail := p.EventLog().LastOffset()
	require.NoError(t, p.Close())

	quiet := poller.SourceFunc(func(context.Context) ([]carpark.RawRecord, error) { return nil, nil })
	p, err = New(context.Background(), cfg, nil, WithSource(quiet))
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, rawTail, p.RawLog().LastOffset())
	assert.Equal(t, eventTail, p.EventLog().LastOffset())

	stop = start(t, p)
	require.Eventually(t, func() bool {
		st, err := p.Query().Get("Westgate")
		return err == nil && st.LastOffset == eventTail
	}, 5*time.Second, 10*time.Millisecond)
	stop()
}

func TestNew_InvalidRulesFile(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Alerts.RulesFile, []byte(`alerts: [{name: "x"}]`), 0o600))

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestNew_RulesWithoutChatTokenDisableAlerts(t *testing.T) {
	p, err := New(context.Background(), testConfig(t), nil, WithSource(countingFeed()))
	require.NoError(t, err)
	defer p.Close()
	assert.Empty(t, p.dispatchers)
}

func TestErrorRing(t *testing.T) {
	r := newErrorRing(3)
	assert.Empty(t, r.List())

	r.Add("a")
	r.Add("b")
	assert.Equal(t, []string{"a", "b"}, r.List())

	r.Add("c")
	r.Add("d")
	assert.Equal(t, []string{"b", "c", "d"}, r.List())
}

func TestPing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Alerts.RulesFile = ""

	mem, err := New(context.Background(), cfg, nil, WithSource(countingFeed()))
	require.NoError(t, err)
	defer mem.Close()
	assert.NoError(t, mem.Ping(context.Background()), "in-memory pipelines are always healthy")

	cfg.Database.Path = filepath.Join(t.TempDir(), "parkflow.db")
	durable, err := New(context.Background(), cfg, nil, WithSource(countingFeed()))
	require.NoError(t, err)
	require.NoError(t, durable.Ping(context.Background()))

	require.NoError(t, durable.Close())
	err = durable.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, carpark.IsCode(err, carpark.ErrCodeStorage))
}
