package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PollSucceeded(3)
		m.PollFailed()
		m.RecordsDropped("poll", 1)
		m.LogAppended("raw", 10)
		m.TransformFailed("PARSE")
		m.EventEmitted()
		m.StateApplied(true, 1)
		m.SubscriptionOpened()
		m.SubscriptionClosed()
		m.SubscriptionDropped()
		m.Delivered("chat", "ok", 0.1)
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.PollSucceeded(5)
	m.PollFailed()
	m.RecordsDropped("poll", 2)
	m.RecordsDropped("poll", 0)
	m.StateApplied(true, 1)
	m.StateApplied(false, 1)
	m.SubscriptionDropped()

	assert.Equal(t, 5.0, testutil.ToFloat64(m.recordsPolled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordsDropped.WithLabelValues("poll")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stateUpdates.WithLabelValues("discarded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.carparks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subsDropped))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.EventEmitted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "parkflow_events_emitted_total 1"))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
