// Package runstate tracks the mutable state of one mirror run: the per-pair
// counters, the current status line, and the typed progress events pushed to
// an observing host (CLI renderer, UI, or nothing at all).
//
// The engine is single-threaded, so the counters need no internal locking;
// they are owned exclusively by the run in progress. The only concurrency
// boundary is the Sink, which must never block the engine.
package runstate

// Counters is a snapshot of the run's progress numbers. Everything except
// PairIndex resets at the start of each input/output pair's preparation
// phase; PairIndex increments once per pair and resets once per full run.
type Counters struct {
	Processed      int64 // files examined in the source tree
	Marked         int64 // units of work scheduled (new + changed + to-delete)
	New            int64 // files present only in the source
	Modified       int64 // files whose contents differ
	Deleted        int64 // files removed from the destination
	Errors         int64 // recoverable failures recorded
	Progress       int64 // units of work completed during apply
	BytesProcessed int64 // total size of examined source files

	PairIndex int // 1-based index of the input/output pair being processed

	Status    string // human-readable current operation
	LastError string // most recent recoverable failure
}

// ProgressPercent returns apply-phase completion as 0..100. Zero marked work
// reports zero, not a division error.
func (c Counters) ProgressPercent() float64 {
	if c.Marked == 0 {
		return 0
	}
	return float64(c.Progress) / float64(c.Marked) * 100
}

// EventKind discriminates the progress events a run publishes.
type EventKind int

const (
	// EventCounters signals that one or more numeric counters changed.
	EventCounters EventKind = iota
	// EventStatus signals a new current-operation status string.
	EventStatus
	// EventError signals a recorded recoverable failure.
	EventError
	// EventPair signals that processing advanced to the next pair.
	EventPair
)

// Event carries a counter snapshot to the observing host.
type Event struct {
	Kind     EventKind
	Counters Counters
}

// Sink receives progress events. Implementations must not block: the engine
// fires and forgets.
type Sink interface {
	Publish(Event)
}

// NoopSink discards all events.
type NoopSink struct{}

func (NoopSink) Publish(Event) {}

// ChannelSink forwards events to a channel with a non-blocking send. When the
// consumer lags, events are dropped; every event carries a full snapshot, so
// a dropped event only delays the host's view, it never corrupts it.
type ChannelSink struct {
	C chan Event
}

// NewChannelSink creates a sink with the given buffer depth.
func NewChannelSink(depth int) *ChannelSink {
	return &ChannelSink{C: make(chan Event, depth)}
}

func (s *ChannelSink) Publish(e Event) {
	select {
	case s.C <- e:
	default:
	}
}

// Tracker owns the counters for one run and publishes events on mutation.
type Tracker struct {
	c    Counters
	sink Sink
}

// NewTracker creates a tracker publishing to sink. A nil sink is replaced by
// a NoopSink.
func NewTracker(sink Sink) *Tracker {
	if sink == nil {
		sink = NoopSink{}
	}
	return &Tracker{sink: sink}
}

// Counters returns a copy of the current counter values.
func (t *Tracker) Counters() Counters {
	return t.c
}

// ResetPair clears all per-pair state ahead of a new preparation phase.
// The pair index survives.
func (t *Tracker) ResetPair() {
	idx := t.c.PairIndex
	t.c = Counters{PairIndex: idx}
	t.publish(EventCounters)
}

// NextPair advances to the next input/output pair.
func (t *Tracker) NextPair() {
	t.c.PairIndex++
	t.publish(EventPair)
}

// AddProcessed records n examined source files.
func (t *Tracker) AddProcessed(n int64) {
	t.c.Processed += n
	t.publish(EventCounters)
}

// AddMarked records n scheduled units of work.
func (t *Tracker) AddMarked(n int64) {
	t.c.Marked += n
	t.publish(EventCounters)
}

// AddNew records n newly discovered source files.
func (t *Tracker) AddNew(n int64) {
	t.c.New += n
	t.publish(EventCounters)
}

// AddModified records n changed files.
func (t *Tracker) AddModified(n int64) {
	t.c.Modified += n
	t.publish(EventCounters)
}

// AddDeleted records n destination files removed.
func (t *Tracker) AddDeleted(n int64) {
	t.c.Deleted += n
	t.publish(EventCounters)
}

// AddBytes records n bytes of examined source data.
func (t *Tracker) AddBytes(n int64) {
	t.c.BytesProcessed += n
	t.publish(EventCounters)
}

// AddProgress records n completed units of apply work.
func (t *Tracker) AddProgress(n int64) {
	t.c.Progress += n
	t.publish(EventCounters)
}

// RecordError notes one recoverable failure and its description.
func (t *Tracker) RecordError(desc string) {
	t.c.Errors++
	t.c.LastError = desc
	t.publish(EventError)
}

// SetStatus replaces the human-readable status line.
func (t *Tracker) SetStatus(status string) {
	t.c.Status = status
	t.publish(EventStatus)
}

func (t *Tracker) publish(kind EventKind) {
	t.sink.Publish(Event{Kind: kind, Counters: t.c})
}
