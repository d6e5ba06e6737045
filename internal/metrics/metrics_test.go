package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	m := New()

	m.Received("ChannelEntered")
	m.Received("ChannelEntered")
	m.Dropped(ReasonUnknownType)
	m.Reconnected()
	m.Reaped(3)
	m.Finalized()
	m.Submitted()
	m.RecordDropped("queue_full")
	m.Retried()
	m.SetTracked(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("ChannelEntered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues(ReasonUnknownType)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconnects))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OrphansReaped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsFinalized))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsDropped.WithLabelValues("queue_full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmitRetries))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.TrackedCalls))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Received("x")
		m.Dropped("x")
		m.Reconnected()
		m.SetTracked(1)
		m.Reaped(1)
		m.Finalized()
		m.Submitted()
		m.RecordDropped("x")
		m.Retried()
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Reaped(2)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), "ari_calllog_orphans_reaped_total 2"))
}
