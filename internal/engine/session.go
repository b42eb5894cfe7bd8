package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/roach88/vmstate/internal/attrtree"
	"github.com/roach88/vmstate/internal/event"
	"github.com/roach88/vmstate/internal/history"
	"github.com/roach88/vmstate/internal/layout"
	"github.com/roach88/vmstate/internal/threads"
	"github.com/roach88/vmstate/internal/value"
)

// Version identifies the event-to-state mapping. Bump it whenever a recipe
// changes what a trace produces, so persisted histories built by different
// mappings are never mixed.
const Version = 1

// Applied describes one mutation written to the history.
type Applied struct {
	Seq   int64
	Kind  layout.Kind
	Path  []string
	At    int64
	Value value.Value
}

// Observer receives every applied mutation in order.
type Observer func(Applied)

// Session replays one trace into an attribute tree and interval history.
//
// A session is single-threaded: HandleEvent and Replay must be called from
// one goroutine. Independent sessions share nothing mutable and may run in
// parallel.
type Session struct {
	id     string
	cfg    config
	tree   *attrtree.Tree
	hist   *history.Store
	reg    *threads.Registry
	logger *slog.Logger

	finalized map[int64]struct{}
	warned    map[string]struct{}

	seq     int64
	summary Summary
}

type config struct {
	layout   *layout.Layout
	logger   *slog.Logger
	observer Observer
	ids      SessionIDGenerator
}

// SessionOption configures a Session.
type SessionOption func(*config)

// WithLayout sets the event layout. Default: layout.Default().
func WithLayout(l *layout.Layout) SessionOption {
	return func(c *config) {
		c.layout = l
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) SessionOption {
	return func(c *config) {
		c.logger = l
	}
}

// WithObserver registers a callback for every applied mutation.
func WithObserver(o Observer) SessionOption {
	return func(c *config) {
		c.observer = o
	}
}

// WithIDGenerator sets the session id source. Default: UUIDv7Generator.
func WithIDGenerator(g SessionIDGenerator) SessionOption {
	return func(c *config) {
		c.ids = g
	}
}

// NewSession creates an empty session.
func NewSession(opts ...SessionOption) *Session {
	cfg := config{
		layout: layout.Default(),
		logger: slog.Default(),
		ids:    UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return newSession(cfg)
}

func newSession(cfg config) *Session {
	id := cfg.ids.Generate()
	return &Session{
		id:        id,
		cfg:       cfg,
		tree:      attrtree.New(),
		hist:      history.New(),
		reg:       threads.NewRegistry(),
		logger:    cfg.logger.With("session", id),
		finalized: make(map[int64]struct{}),
		warned:    make(map[string]struct{}),
		summary:   Summary{SessionID: id},
	}
}

// NewInstance returns a fresh session with the same configuration and a
// new id. Nothing is shared with the receiver.
func (s *Session) NewInstance() *Session {
	return newSession(s.cfg)
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Tree returns the attribute tree.
func (s *Session) Tree() *attrtree.Tree { return s.tree }

// History returns the interval store.
func (s *Session) History() *history.Store { return s.hist }

// Threads returns the thread registry.
func (s *Session) Threads() *threads.Registry { return s.reg }

// Layout returns the event layout in use.
func (s *Session) Layout() *layout.Layout { return s.cfg.layout }

// HandleEvent dispatches one event.
//
// Unknown kinds are ignored and return nil. A returned *RuntimeError is
// either fatal (the session must stop) or scoped to this event; see
// RuntimeError.Fatal. An event that fails leaves the history untouched.
func (s *Session) HandleEvent(ev event.Event) error {
	s.seq++
	s.summary.Events++
	s.observeTime(ev.Timestamp)

	kind, ok := s.cfg.layout.Resolve(ev.Kind)
	if !ok {
		s.summary.Ignored++
		eventsTotal.WithLabelValues(kindUnknown, outcomeIgnored).Inc()
		return nil
	}

	in := &input{ev: ev, f: &s.cfg.layout.Fields, reg: s.reg, finalized: s.finalized}
	plan, err := recipes[kind](in)
	if err == nil {
		err = s.apply(kind, plan)
	}
	if err != nil {
		re := classify(err, ev, s.seq)
		if re.Fatal() {
			eventsTotal.WithLabelValues(string(kind), outcomeFatal).Inc()
		} else {
			s.summary.Dropped++
			eventsTotal.WithLabelValues(string(kind), outcomeDropped).Inc()
		}
		return re
	}

	eventsTotal.WithLabelValues(string(kind), outcomeApplied).Inc()
	return nil
}

// apply checks every mutation of the plan against the attributes that
// already exist, and only then resolves and writes. A rejected plan changes
// no interval and creates no attribute.
func (s *Session) apply(kind layout.Kind, p Plan) error {
	if s.hist.Closed() {
		return fmt.Errorf("%s: %w", kind, history.ErrClosed)
	}
	for _, m := range p.Mutations {
		h, ok := s.lookup(m)
		if !ok {
			continue
		}
		if last, seen := s.hist.LastMutation(h); seen && m.At < last {
			return &history.OrderingError{Handle: h, Last: last, At: m.At}
		}
	}

	for _, m := range p.Mutations {
		h, ok := s.resolve(m)
		if !ok {
			continue
		}
		if err := s.hist.Mutate(h, m.At, m.Value); err != nil {
			return fmt.Errorf("mutate %s: %w", strings.Join(m.Path(), "/"), err)
		}
		s.summary.Mutations++
		mutationsTotal.Inc()
		if s.cfg.observer != nil {
			s.cfg.observer(Applied{Seq: s.seq, Kind: kind, Path: m.Path(), At: m.At, Value: m.Value})
		}
	}

	for _, e := range p.Register {
		s.reg.Upsert(e.TID, e.PID, e.Name, e.Category)
	}
	for _, tid := range p.Finalize {
		s.finalized[tid] = struct{}{}
	}
	return nil
}

// lookup finds the handle of an existing attribute without creating it.
func (s *Session) lookup(m Mutation) (attrtree.Handle, bool) {
	entity, ok := s.tree.LookupAbsolute(m.Entity...)
	if !ok {
		return attrtree.Root, false
	}
	return s.tree.LookupRelative(entity, m.Field)
}

// resolve maps a mutation to its handle. MustExist mutations never create
// nodes; a miss is logged once per path and skipped.
func (s *Session) resolve(m Mutation) (attrtree.Handle, bool) {
	if !m.MustExist {
		entity := s.tree.ResolveAbsolute(m.Entity...)
		return s.tree.ResolveRelative(entity, m.Field), true
	}

	if h, ok := s.lookup(m); ok {
		return h, true
	}

	s.summary.SkippedStops++
	skippedStopsTotal.Inc()
	path := strings.Join(m.Path(), "/")
	if _, done := s.warned[path]; !done {
		s.warned[path] = struct{}{}
		s.logger.Info("stop event for unknown attribute, skipping",
			"path", path,
			"seq", s.seq,
			"ts", m.At,
		)
	}
	return attrtree.Root, false
}

func (s *Session) observeTime(ts int64) {
	if s.summary.Events == 1 || ts < s.summary.FirstTimestamp {
		s.summary.FirstTimestamp = ts
	}
	if s.summary.Events == 1 || ts > s.summary.LastTimestamp {
		s.summary.LastTimestamp = ts
	}
}

// Replay reads src to the end, dispatching every event.
//
// Malformed input lines and events with missing fields are logged and
// skipped. The replay stops at the first fatal error or when ctx is
// cancelled between events; the returned summary covers everything
// dispatched up to that point.
func (s *Session) Replay(ctx context.Context, src event.Source) (Summary, error) {
	ctx, span := startReplaySpan(ctx, s.id)
	defer span.End()

	start := time.Now()
	err := s.replay(ctx, src)

	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	replayDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())

	sum := s.Summary()
	setReplaySpanResult(span, sum)
	s.logger.Debug("replay finished",
		"events", sum.Events,
		"ignored", sum.Ignored,
		"dropped", sum.Dropped,
		"mutations", sum.Mutations,
		"attributes", sum.Attributes,
	)
	return sum, err
}

func (s *Session) replay(ctx context.Context, src event.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("replay cancelled after %d events: %w", s.seq, err)
		}

		ev, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var de *event.DecodeError
			if errors.As(err, &de) {
				s.summary.Malformed++
				s.logger.Warn("skipping malformed event", "line", de.Line, "error", de.Err)
				continue
			}
			return fmt.Errorf("read event: %w", err)
		}

		if err := s.HandleEvent(ev); err != nil {
			if IsFatal(err) {
				s.logger.Error("replay aborted", "error", err)
				return err
			}
			s.logEventError(ev, err)
		}
	}
}

// logEventError logs a dropped event with enough context to find it in
// the trace.
func (s *Session) logEventError(ev event.Event, err error) {
	s.logger.Warn("event dropped",
		"error", err,
		"kind", ev.Kind,
		"seq", s.seq,
		"ts", ev.Timestamp,
		"cpu", ev.CPU,
	)
}

// Close ends every open interval at t. Every later event of a known kind
// fails with a fatal SESSION_CLOSED error.
func (s *Session) Close(t int64) {
	s.hist.Close(t)
}

// Seal closes the history one tick past the latest time the session has
// seen, event or mutation, so values written at that instant stay
// queryable. It returns the closing time.
func (s *Session) Seal() int64 {
	end := s.summary.LastTimestamp
	if _, last, ok := s.hist.Span(); ok {
		end = max(end, last)
	}
	s.Close(end + 1)
	return end + 1
}
