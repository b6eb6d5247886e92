// Package narration holds the agent narration log shared by every component
// of an intake session, plus a websocket feed for log viewers.
package narration

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fieldtriage/internal/domain"
)

// DefaultCapacity is the number of entries a log retains.
const DefaultCapacity = 80

// ReadyLines seed a fresh session log.
var ReadyLines = []string{
	"Agent A: Ready for multilingual intake.",
	"Agent B: Monitoring patient history retrieval.",
	"Agent C: Standing by for risk analysis.",
}

// Observer is notified after each append, outside the log lock.
type Observer interface {
	NarrationAppended(entry domain.NarrationEntry)
}

// Log is a bounded, append-only ring of narration entries. Reads return
// snapshots, newest first. Safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []domain.NarrationEntry // oldest first
	nextSeq  uint64

	subs      map[int]chan domain.NarrationEntry
	nextSub   int
	observers []Observer

	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Log.
type Option func(*Log)

// WithLogger mirrors every appended entry to logger at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithObserver registers an observer at construction.
func WithObserver(observer Observer) Option {
	return func(l *Log) {
		if observer != nil {
			l.observers = append(l.observers, observer)
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLog constructs an empty log. Non-positive capacity falls back to
// DefaultCapacity.
func NewLog(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		capacity: capacity,
		buffer:   make([]domain.NarrationEntry, 0, capacity),
		subs:     make(map[int]chan domain.NarrationEntry),
		logger:   slog.New(slog.DiscardHandler),
		now:      func() time.Time { return time.Now().UTC() },
	}
	l.cond = sync.NewCond(&l.mu)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Seed appends the given lines in order, so the last line ends up newest.
func (l *Log) Seed(lines ...string) {
	for _, line := range lines {
		l.Append(line)
	}
}

// Append records message as the newest entry and evicts the oldest entry
// once capacity is exceeded.
func (l *Log) Append(message string) domain.NarrationEntry {
	l.mu.Lock()
	l.nextSeq++
	entry := domain.NarrationEntry{
		Sequence:  l.nextSeq,
		Message:   strings.TrimSpace(message),
		Timestamp: l.now(),
	}
	if len(l.buffer) == l.capacity {
		copy(l.buffer, l.buffer[1:])
		l.buffer = l.buffer[:l.capacity-1]
	}
	l.buffer = append(l.buffer, entry)

	for _, ch := range l.subs {
		select {
		case ch <- entry:
		default:
		}
	}
	observers := append([]Observer(nil), l.observers...)
	l.cond.Broadcast()
	l.mu.Unlock()

	l.logger.Debug("narration", slog.Uint64("seq", entry.Sequence), slog.String("message", entry.Message))
	for _, observer := range observers {
		observer.NarrationAppended(entry)
	}
	return entry
}

// Entries returns a snapshot, newest first.
func (l *Log) Entries() []domain.NarrationEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Len reports the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}

// Capacity reports the retention bound.
func (l *Log) Capacity() int {
	return l.capacity
}

// LastSequence returns the sequence of the newest entry, or zero.
func (l *Log) LastSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq
}

// Since returns retained entries newer than seq, oldest first. When wait is
// true it blocks until at least one such entry exists or ctx ends.
func (l *Log) Since(ctx context.Context, seq uint64, wait bool) ([]domain.NarrationEntry, error) {
	stop := make(chan struct{})
	defer close(stop)
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				l.mu.Lock()
				l.cond.Broadcast()
				l.mu.Unlock()
			case <-stop:
			}
		}()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		var out []domain.NarrationEntry
		for _, entry := range l.buffer {
			if entry.Sequence > seq {
				out = append(out, entry)
			}
		}
		if len(out) > 0 || !wait {
			return out, nil
		}
		if ctx != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.cond.Wait()
		if ctx != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

// Subscribe returns a channel receiving entries appended after the call,
// along with a snapshot taken atomically with registration. Slow readers
// drop entries rather than block appends. Call cancel to unsubscribe.
func (l *Log) Subscribe(buffer int) (snapshot []domain.NarrationEntry, updates <-chan domain.NarrationEntry, cancel func()) {
	if buffer <= 0 {
		buffer = l.capacity
	}
	ch := make(chan domain.NarrationEntry, buffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	snapshot = l.snapshotLocked()
	l.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
	return snapshot, ch, cancel
}

func (l *Log) snapshotLocked() []domain.NarrationEntry {
	out := make([]domain.NarrationEntry, len(l.buffer))
	for i, entry := range l.buffer {
		out[len(l.buffer)-1-i] = entry
	}
	return out
}
