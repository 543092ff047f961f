// Package events carries timestamped log lines and progress updates from long-running
// operations to whoever is watching (TUI, MCP, websocket clients).
//
// Events flow through one bounded channel drained by a single dispatcher goroutine, so
// every subscriber observes them in emission order. A subscriber that cannot keep up
// loses events (counted in Dropped) but never sees them out of order.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Level classifies an event.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelProgress Level = "progress"
)

// Event is one log line or progress checkpoint.
type Event struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Op      string    `json:"op"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Percent float64   `json:"percent"` // -1 when the total is unknown
	Rows    int64     `json:"rows,omitempty"`
}

// String renders the event as a single log line.
func (e Event) String() string {
	prefix := ""
	if e.Level == LevelWarn {
		prefix = "WARN "
	}
	return fmt.Sprintf("[%s] %s%s: %s", e.Time.Format("15:04:05"), prefix, e.Op, e.Message)
}

// Emitter is what operations report through.
type Emitter interface {
	Logf(op, format string, args ...any)
	Warnf(op, format string, args ...any)
	Progress(op string, percent float64, rows int64)
}

// Discard is an Emitter that drops everything.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Logf(string, string, ...any)     {}
func (discard) Warnf(string, string, ...any)    {}
func (discard) Progress(string, float64, int64) {}

// =============================================================================
// REPORTER
// =============================================================================

type subscriber struct {
	ch      chan Event
	dropped uint64
	closed  bool
}

// Reporter fans events out to subscribers in order.
type Reporter struct {
	in   chan Event
	done chan struct{}

	emitMu sync.Mutex // orders seq assignment with the channel send
	seq    uint64
	closed bool

	mu         sync.Mutex // guards subs and history
	subs       map[*subscriber]struct{}
	history    []Event
	historyCap int

	dropped atomic.Uint64
	now     func() time.Time
}

// NewReporter starts a reporter with the given channel capacity and history length.
func NewReporter(buffer, history int) *Reporter {
	if buffer <= 0 {
		buffer = 1
	}
	if history < 0 {
		history = 0
	}
	r := &Reporter{
		in:         make(chan Event, buffer),
		done:       make(chan struct{}),
		subs:       make(map[*subscriber]struct{}),
		historyCap: history,
		now:        time.Now,
	}
	go r.dispatch()
	return r
}

func (r *Reporter) dispatch() {
	defer close(r.done)
	for ev := range r.in {
		r.mu.Lock()
		if r.historyCap > 0 {
			if len(r.history) == r.historyCap {
				copy(r.history, r.history[1:])
				r.history = r.history[:len(r.history)-1]
			}
			r.history = append(r.history, ev)
		}
		for s := range r.subs {
			select {
			case s.ch <- ev:
			default:
				s.dropped++
				r.dropped.Add(1)
			}
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	for s := range r.subs {
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
	}
	r.subs = map[*subscriber]struct{}{}
	r.mu.Unlock()
}

func (r *Reporter) emit(op string, level Level, msg string, percent float64, rows int64) {
	if r == nil {
		return
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.closed {
		return
	}
	r.seq++
	r.in <- Event{
		Seq:     r.seq,
		Time:    r.now(),
		Op:      op,
		Level:   level,
		Message: msg,
		Percent: percent,
		Rows:    rows,
	}
}

// Logf emits an informational line.
func (r *Reporter) Logf(op, format string, args ...any) {
	r.emit(op, LevelInfo, fmt.Sprintf(format, args...), -1, 0)
}

// Warnf emits a warning line.
func (r *Reporter) Warnf(op, format string, args ...any) {
	r.emit(op, LevelWarn, fmt.Sprintf(format, args...), -1, 0)
}

// Progress emits a progress checkpoint. Pass a negative percent when the total is unknown.
func (r *Reporter) Progress(op string, percent float64, rows int64) {
	r.emit(op, LevelProgress, progressMessage(percent, rows), percent, rows)
}

func progressMessage(percent float64, rows int64) string {
	if percent < 0 {
		return fmt.Sprintf("%d rows", rows)
	}
	return fmt.Sprintf("%.1f%% (%d rows)", percent, rows)
}

// Subscribe registers a new subscriber. The current history is replayed first.
// Call cancel to unsubscribe; the channel is closed afterwards.
func (r *Reporter) Subscribe(buffer int) (<-chan Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buffer < len(r.history) {
		buffer = len(r.history)
	}
	if buffer <= 0 {
		buffer = 1
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	for _, ev := range r.history {
		s.ch <- ev
	}

	select {
	case <-r.done:
		s.closed = true
		close(s.ch)
		return s.ch, func() {}
	default:
	}
	r.subs[s] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subs, s)
			if !s.closed {
				s.closed = true
				close(s.ch)
			}
		})
	}
	return s.ch, cancel
}

// History returns a copy of the retained events, oldest first.
func (r *Reporter) History() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.history))
	copy(out, r.history)
	return out
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (r *Reporter) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops accepting events, drains the queue and closes every subscriber channel.
func (r *Reporter) Close() {
	r.emitMu.Lock()
	if r.closed {
		r.emitMu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.in)
	r.emitMu.Unlock()
	<-r.done
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder forwards to a parent Emitter and keeps the lines of one operation,
// e.g. the log returned with a deployment result.
type Recorder struct {
	parent Emitter
	mu     sync.Mutex
	lines  []string
}

// NewRecorder wraps parent. A nil parent discards forwarded events.
func NewRecorder(parent Emitter) *Recorder {
	if parent == nil {
		parent = Discard
	}
	return &Recorder{parent: parent}
}

func (r *Recorder) record(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *Recorder) Logf(op, format string, args ...any) {
	r.record(fmt.Sprintf(format, args...))
	r.parent.Logf(op, format, args...)
}

func (r *Recorder) Warnf(op, format string, args ...any) {
	r.record("WARN " + fmt.Sprintf(format, args...))
	r.parent.Warnf(op, format, args...)
}

// Progress is forwarded but not recorded.
func (r *Recorder) Progress(op string, percent float64, rows int64) {
	r.parent.Progress(op, percent, rows)
}

// Lines returns a copy of the recorded lines in order.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

type emitterKey struct{}

// WithEmitter returns a context whose operation-scoped events go to e, so
// lower layers log into the caller's Recorder instead of their own emitter.
func WithEmitter(ctx context.Context, e Emitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, e)
}

// FromContext returns the emitter set by WithEmitter, or fallback.
func FromContext(ctx context.Context, fallback Emitter) Emitter {
	if e, ok := ctx.Value(emitterKey{}).(Emitter); ok && e != nil {
		return e
	}
	if fallback == nil {
		return Discard
	}
	return fallback
}
