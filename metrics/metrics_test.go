package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robertmeta/strip-cli/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_ObserveFetch(t *testing.T) {
	c := NewCollector()
	at := time.Unix(1700000000, 0)
	strip := model.NewStrip([]byte("GIF89a..."), `"t"`, "", at)

	c.ObserveFetch(model.OutcomeFailed, nil, at)
	c.ObserveFetch(model.OutcomeFailed, nil, at)
	c.ObserveFetch(model.OutcomeNewStrip, strip, at)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.fetchAttempts.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fetchAttempts.WithLabelValues("new_strip")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(c.lastSuccess))
	assert.Equal(t, float64(strip.Size()), testutil.ToFloat64(c.stripBytes))
}

func TestCollector_ObserveCycle(t *testing.T) {
	c := NewCollector()
	c.ObserveCycle("exhausted")
	c.ObserveCycle("succeeded")
	c.ObserveCycle("succeeded")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.attemptCycles.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attemptCycles.WithLabelValues("exhausted")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveFetch(model.OutcomeFailed, nil, time.Now())
		c.ObserveCycle("cancelled")
	})
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.ObserveFetch(model.OutcomeNotModified, nil, time.Now())

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `strip_cli_fetch_attempts_total{outcome="not_modified"} 1`)
}
