package eventlog

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultCapacity = 10000

	// sinkTimeout bounds a single sink write. Writes run detached from the
	// caller's context: a committed mutation is logged even if the caller
	// has gone away.
	sinkTimeout = 5 * time.Second
)

// Logger defines the logging interface used by the Pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sink persists entries. Implementations must accept IDs chosen by the
// Pipeline.
type Sink interface {
	Write(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Query(ctx context.Context, f Filter) ([]Entry, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Config configures a Pipeline.
type Config struct {
	// Capacity is the number of entries kept in memory. Default: 10000.
	Capacity int

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Pipeline is the single writer path of the event log.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Appends are linearised: IDs and timestamps follow the order in which
//     Append calls acquire the lock.
type Pipeline struct {
	sink     Sink
	clock    func() time.Time
	capacity int
	logger   Logger

	mu       sync.Mutex
	entries  []Entry // chronological, at most capacity
	nextID   int64
	lastTS   time.Time
	evicted  bool // memory no longer holds the full history
	degraded bool
	unsynced map[int64]struct{} // in memory but missing from the sink

	sinkFailures atomic.Int64

	subsMu sync.RWMutex
	subs   map[int]func(Entry)
	subSeq int
}

// New creates a Pipeline. sink may be nil for a memory-only log.
func New(sink Sink, cfg Config) *Pipeline {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Pipeline{
		sink:     sink,
		clock:    clock,
		capacity: capacity,
		logger:   noopLogger{},
		nextID:   1,
		unsynced: make(map[int64]struct{}),
		subs:     make(map[int]func(Entry)),
	}
}

// SetLogger sets the logger for the pipeline.
func (p *Pipeline) SetLogger(logger Logger) {
	p.logger = logger
}

// Load seeds memory from the sink and continues numbering after the
// highest stored ID. Call once at startup, before any Append.
func (p *Pipeline) Load(ctx context.Context) error {
	if p.sink == nil {
		return nil
	}

	recent, err := p.sink.Recent(ctx, p.capacity+1)
	if err != nil {
		return fmt.Errorf("loading event log: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(recent) > p.capacity {
		recent = recent[len(recent)-p.capacity:]
		p.evicted = true
	}
	p.entries = recent
	if n := len(recent); n > 0 {
		last := recent[n-1]
		p.nextID = last.ID + 1
		p.lastTS = last.Timestamp
	}

	p.logger.Info("event log loaded", "entries", len(recent), "next_id", p.nextID)
	return nil
}

// Append assigns an ID and timestamp to e, records it and returns the
// stored entry. It never fails: sink errors degrade to a warning.
func (p *Pipeline) Append(ctx context.Context, e Entry) Entry {
	if !e.Severity.Valid() {
		e.Severity = SeverityInfo
	}

	p.mu.Lock()
	e.ID = p.nextID
	p.nextID++

	now := p.clock().UTC()
	if now.Before(p.lastTS) {
		now = p.lastTS
	}
	e.Timestamp = now
	p.lastTS = now

	p.entries = append(p.entries, e)
	if len(p.entries) > p.capacity {
		// Copy down instead of reslicing so the backing array does not grow forever.
		drop := len(p.entries) - p.capacity
		for _, old := range p.entries[:drop] {
			delete(p.unsynced, old.ID)
		}
		n := copy(p.entries, p.entries[drop:])
		p.entries = p.entries[:n]
		p.evicted = true
	}

	p.writeSink(ctx, e)
	p.mu.Unlock()

	p.notify(e)
	return e
}

// writeSink must be called with p.mu held so sink order matches ID order.
func (p *Pipeline) writeSink(ctx context.Context, e Entry) {
	if p.sink == nil {
		return
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	if err := p.sink.Write(wctx, e); err != nil {
		p.sinkFailures.Add(1)
		p.unsynced[e.ID] = struct{}{}
		if !p.degraded {
			p.degraded = true
			p.logger.Warn("event log sink unavailable, keeping entries in memory",
				"entry_id", e.ID, "error", err)
		} else {
			p.logger.Debug("event log sink write failed", "entry_id", e.ID, "error", err)
		}
		return
	}

	if p.degraded {
		p.degraded = false
		p.logger.Info("event log sink recovered", "entry_id", e.ID)
	}
}

// Query returns entries matching f, oldest first unless f.Reverse.
//
// Memory answers the query while it still holds the whole history. Once
// entries have been evicted, a healthy sink is consulted instead, and
// entries whose sink write failed are merged in from memory.
func (p *Pipeline) Query(ctx context.Context, f Filter) ([]Entry, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	useSink := p.evicted && !p.degraded && p.sink != nil
	var matched []Entry
	for _, e := range p.entries {
		if useSink {
			if _, ok := p.unsynced[e.ID]; !ok {
				continue
			}
		}
		if f.Match(e) {
			matched = append(matched, e)
		}
	}
	p.mu.Unlock()

	if !useSink {
		return page(matched, f), nil
	}

	if len(matched) == 0 {
		entries, err := p.sink.Query(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("querying event log sink: %w", err)
		}
		return entries, nil
	}

	// Paginate after the merge: the sink cannot count entries it lacks.
	all := f
	all.Reverse, all.Limit, all.Offset = false, 0, 0
	stored, err := p.sink.Query(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("querying event log sink: %w", err)
	}
	merged := append(stored, matched...)
	slices.SortFunc(merged, func(a, b Entry) int { return cmp.Compare(a.ID, b.ID) })
	merged = slices.CompactFunc(merged, func(a, b Entry) bool { return a.ID == b.ID })
	return page(merged, f), nil
}

// page applies ordering and pagination to chronological entries.
func page(entries []Entry, f Filter) []Entry {
	if f.Reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}

	if f.Offset >= len(entries) {
		return []Entry{}
	}
	entries = entries[f.Offset:]
	if f.Limit > 0 && f.Limit < len(entries) {
		entries = entries[:f.Limit]
	}
	if entries == nil {
		return []Entry{}
	}
	return entries
}

// Prune deletes sink entries older than retention and drops them from
// memory. A zero retention keeps everything.
func (p *Pipeline) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := p.clock().UTC().Add(-retention)

	p.mu.Lock()
	keep := p.entries[:0]
	var dropped int
	for _, e := range p.entries {
		if e.Timestamp.Before(cutoff) {
			delete(p.unsynced, e.ID)
			dropped++
			continue
		}
		keep = append(keep, e)
	}
	p.entries = keep
	p.mu.Unlock()

	if p.sink == nil {
		return int64(dropped), nil
	}

	n, err := p.sink.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning event log: %w", err)
	}
	p.logger.Info("event log pruned", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// Subscribe registers fn to receive every appended entry. fn runs on the
// appending goroutine after the log lock is released and must not block.
// The returned function removes the subscription.
func (p *Pipeline) Subscribe(fn func(Entry)) (unsubscribe func()) {
	p.subsMu.Lock()
	id := p.subSeq
	p.subSeq++
	p.subs[id] = fn
	p.subsMu.Unlock()

	return func() {
		p.subsMu.Lock()
		delete(p.subs, id)
		p.subsMu.Unlock()
	}
}

func (p *Pipeline) notify(e Entry) {
	p.subsMu.RLock()
	defer p.subsMu.RUnlock()
	for _, fn := range p.subs {
		fn(e)
	}
}

// SinkFailures returns the number of entries the sink failed to store.
func (p *Pipeline) SinkFailures() int64 {
	return p.sinkFailures.Load()
}

// Degraded reports whether the last sink write failed.
func (p *Pipeline) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

// Len returns the number of entries held in memory.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
