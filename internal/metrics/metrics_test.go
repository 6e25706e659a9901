package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftsync/internal/config"
	"shiftsync/internal/eventbus"
	"shiftsync/internal/reconcile"
	logx "shiftsync/pkg/logx"
)

func TestObserveCycle(t *testing.T) {
	r := New()
	r.ObserveCycle(reconcile.Result{Kind: "shifts", Created: 2, Failed: 1, Deferred: 3, Duration: time.Second})
	r.ObserveCycle(reconcile.Result{Kind: "shifts", Aborted: reconcile.ErrEmptySource})
	r.ObserveCycle(reconcile.Result{Kind: "timeoff", Err: errors.New("boom")})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycles.WithLabelValues("shifts", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycles.WithLabelValues("shifts", "aborted_empty_source")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycles.WithLabelValues("timeoff", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.records.WithLabelValues("shifts", "created")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.deferred.WithLabelValues("shifts")))
}

func TestConsumeBusEvents(t *testing.T) {
	r := New()
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Consume(ctx, bus) }()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.InstanceStarted, Data: eventbus.InstanceData{Workflow: "shifts"}})
		return testutil.ToFloat64(r.instances.WithLabelValues("shifts", eventbus.InstanceStarted)) > 0
	}, time.Second, 10*time.Millisecond)

	bus.Publish(eventbus.Event{Type: eventbus.TickCompleted, Data: eventbus.TickData{Started: 2, Terminated: 1}})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(r.tickActions.WithLabelValues("started")) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tickActions.WithLabelValues("terminated")))

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestServerServesMetrics(t *testing.T) {
	r := New()
	r.ObserveCycle(reconcile.Result{Kind: "shifts", Created: 1})
	srv := NewServer(r, config.MetricsConfig{}, logx.Nop())

	srv.Reconfigure(t.Context(), config.MetricsConfig{Enabled: true, Addr: "127.0.0.1:0", Path: "/metrics"})
	defer srv.Stop(context.Background())

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `shiftsync_records_total{bucket="created",kind="shifts"} 1`)

	resp, err = http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	srv.Reconfigure(t.Context(), config.MetricsConfig{Enabled: false})
	assert.Empty(t, srv.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:9464"))
	assert.True(t, isLoopbackAddr("localhost:9464"))
	assert.True(t, isLoopbackAddr("[::1]:9464"))
	assert.False(t, isLoopbackAddr(":9464"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9464"))
}
