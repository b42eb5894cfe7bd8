package engine

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer for replay spans.
var tracer = otel.Tracer("vmstate.engine")

// Outcome labels for eventsTotal.
const (
	outcomeApplied = "applied"
	outcomeIgnored = "ignored"
	outcomeDropped = "dropped"
	outcomeFatal   = "fatal"
)

// kindUnknown is the kind label for events no recipe handles, so arbitrary
// wire kinds cannot grow label cardinality.
const kindUnknown = "unknown"

var (
	// eventsTotal counts dispatched events by canonical kind and outcome.
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vmstate_events_total",
		Help: "Total events dispatched by kind and outcome",
	}, []string{"kind", "outcome"})

	// mutationsTotal counts interval store writes.
	mutationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vmstate_mutations_total",
		Help: "Total attribute mutations applied",
	})

	// skippedStopsTotal counts stop-style writes skipped because the
	// attribute never existed.
	skippedStopsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vmstate_skipped_stops_total",
		Help: "Total stop-style mutations skipped for unknown attributes",
	})

	// replayDuration tracks wall time per replayed session.
	replayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vmstate_replay_duration_seconds",
		Help:    "Replay duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"result"})
)

// startReplaySpan creates a span covering one session replay.
func startReplaySpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "engine.Replay",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("engine.version", Version),
		),
	)
}

// setReplaySpanResult records the summary on a replay span.
func setReplaySpanResult(span trace.Span, s Summary) {
	span.SetAttributes(
		attribute.Int64("replay.events", s.Events),
		attribute.Int64("replay.ignored", s.Ignored),
		attribute.Int64("replay.dropped", s.Dropped),
		attribute.Int64("replay.mutations", s.Mutations),
		attribute.Int("replay.attributes", s.Attributes),
	)
}
