package engine

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	tu "github.com/roach88/vmstate/internal/testutil"
)

func TestMetricsCountOutcomes(t *testing.T) {
	applied := eventsTotal.WithLabelValues("thread_start", outcomeApplied)
	ignored := eventsTotal.WithLabelValues(kindUnknown, outcomeIgnored)
	dropped := eventsTotal.WithLabelValues("thread_stop", outcomeDropped)

	beforeApplied := testutil.ToFloat64(applied)
	beforeIgnored := testutil.ToFloat64(ignored)
	beforeDropped := testutil.ToFloat64(dropped)
	beforeMutations := testutil.ToFloat64(mutationsTotal)
	beforeSkipped := testutil.ToFloat64(skippedStopsTotal)

	s := newTestSession(t)
	_ = s.HandleEvent(tu.ThreadStart(1, 10, 100, "worker"))
	_ = s.HandleEvent(tu.Event("jvm:class_load", 2, nil))
	_ = s.HandleEvent(tu.Event("thread_stop", 3, map[string]any{"tid": 10}))
	_ = s.HandleEvent(tu.ThreadStop(4, 11, 100))

	assert.Equal(t, beforeApplied+1, testutil.ToFloat64(applied))
	assert.Equal(t, beforeIgnored+1, testutil.ToFloat64(ignored))
	assert.Equal(t, beforeDropped+1, testutil.ToFloat64(dropped))
	assert.Equal(t, beforeMutations+2, testutil.ToFloat64(mutationsTotal))
	assert.Equal(t, beforeSkipped+1, testutil.ToFloat64(skippedStopsTotal))
}
