package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_ObserveStatement(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveStatement("insert", OutcomeOK, 10*time.Millisecond)
	c.ObserveStatement("insert", OutcomeTimeout, 12*time.Second)
	c.ObserveStatement("insert", OutcomeTimeout, 12*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.StatementsTotal.WithLabelValues("insert", OutcomeOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.StatementsTotal.WithLabelValues("insert", OutcomeTimeout)))
	assert.Equal(t, 1, testutil.CollectAndCount(c.StatementDuration))
}

func TestCollector_Toxics(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ToxicAdded("latency")
	c.ToxicAdded("bandwidth")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.ToxicsActive))

	c.ToxicsRemoved(2)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.ToxicsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ToxicsAppliedTotal.WithLabelValues("latency")))
}

func TestCollector_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.RetryAttempt()
	c.ObserveProvision("cassandra", 20*time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["cqlfixture_retry_attempts_total"])
	assert.True(t, names["cqlfixture_provision_duration_seconds"])
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveStatement("select", OutcomeOK, time.Millisecond)
		c.ToxicAdded("latency")
		c.ToxicsRemoved(1)
		c.ObserveProvision("toxiproxy", time.Second)
		c.RetryAttempt()
	})
}
