package eventlog

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity categorizes a record for the user.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ParseSeverity converts a string into a known Severity.
func ParseSeverity(value string) (Severity, bool) {
	switch s := Severity(strings.ToLower(strings.TrimSpace(value))); s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return s, true
	case "warn":
		return SeverityWarning, true
	default:
		return "", false
	}
}

// TruncatedMessage is the message of the warning appended whenever records
// are evicted to respect the capacity.
const TruncatedMessage = "event log truncated"

// Record is one immutable entry of the event log.
type Record struct {
	Seq       uint64
	ID        string
	Timestamp time.Time
	Severity  Severity
	Message   string
	// ItemID is zero for records not tied to a work item.
	ItemID int64
	Detail map[string]any
}

// Log is an append-only, optionally bounded sequence of records. Observers can
// block in Fetch for new records or register a callback with Subscribe.
type Log struct {
	mu        sync.Mutex
	cond      *sync.Cond
	capacity  int
	records   []Record
	nextSeq   uint64
	dropped   uint64
	observers map[uint64]func()
	nextObs   uint64
	now       func() time.Time
}

// New constructs a log. A capacity of zero or less keeps every record.
func New(capacity int) *Log {
	if capacity > 0 && capacity < 2 {
		capacity = 2
	}
	l := &Log{
		capacity:  capacity,
		observers: make(map[uint64]func()),
		now:       func() time.Time { return time.Now().UTC() },
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Append stores a record with a fresh id and the current time.
func (l *Log) Append(severity Severity, message string, detail map[string]any) Record {
	return l.AppendItem(severity, 0, message, detail)
}

// AppendItem stores a record attributed to a work item.
func (l *Log) AppendItem(severity Severity, itemID int64, message string, detail map[string]any) Record {
	if l == nil {
		return Record{}
	}
	l.mu.Lock()
	rec := l.appendLocked(severity, itemID, message, maps.Clone(detail))
	if l.capacity > 0 && len(l.records) > l.capacity {
		l.truncateLocked()
	}
	observers := l.observersLocked()
	l.cond.Broadcast()
	l.mu.Unlock()

	notify(observers)
	return rec
}

func (l *Log) appendLocked(severity Severity, itemID int64, message string, detail map[string]any) Record {
	l.nextSeq++
	rec := Record{
		Seq:       l.nextSeq,
		ID:        uuid.NewString(),
		Timestamp: l.now(),
		Severity:  severity,
		Message:   message,
		ItemID:    itemID,
		Detail:    detail,
	}
	l.records = append(l.records, rec)
	return rec
}

// truncateLocked evicts the oldest records in one batch and records that it
// did so. The batch leaves headroom so a warning is not emitted per append.
func (l *Log) truncateLocked() {
	headroom := max(l.capacity/4, 1)
	drop := min(len(l.records)-l.capacity+headroom, len(l.records)-1)
	l.records = append(l.records[:0:0], l.records[drop:]...)
	l.dropped += uint64(drop)
	l.appendLocked(SeverityWarning, 0, TruncatedMessage, map[string]any{
		"dropped":       drop,
		"total_dropped": l.dropped,
	})
}

// All returns a snapshot of every retained record in append order.
func (l *Log) All() []Record {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of retained records.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Clear empties the log. Sequence numbers keep increasing afterwards so
// followers never see a number twice.
func (l *Log) Clear() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.records = nil
	l.dropped = 0
	observers := l.observersLocked()
	l.cond.Broadcast()
	l.mu.Unlock()

	notify(observers)
}

// Dropped reports how many records capacity eviction has removed since the
// last Clear.
func (l *Log) Dropped() uint64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Fetch returns up to limit records with sequence greater than since together
// with the cursor to pass as since on the next call: the last returned
// sequence, or the latest one when nothing was returned. When wait is true,
// Fetch blocks until at least one record is available or the context ends.
func (l *Log) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Record, uint64, error) {
	if l == nil {
		return nil, since, nil
	}

	cancelWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				l.mu.Lock()
				l.cond.Broadcast()
				l.mu.Unlock()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		records := l.snapshotLocked(since, limit)
		if len(records) > 0 {
			return records, records[len(records)-1].Seq, contextError(ctx)
		}
		if !wait {
			return nil, l.nextSeq, contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return nil, l.nextSeq, err
		}
		l.cond.Wait()
	}
}

// Tail returns the most recent limit records without blocking.
func (l *Log) Tail(limit int) ([]Record, uint64) {
	if l == nil {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	start := 0
	if limit > 0 && len(l.records) > limit {
		start = len(l.records) - limit
	}
	out := make([]Record, len(l.records)-start)
	copy(out, l.records[start:])
	return out, l.nextSeq
}

// Subscribe registers fn to run after every change. The returned function
// removes the subscription.
func (l *Log) Subscribe(fn func()) func() {
	if l == nil || fn == nil {
		return func() {}
	}
	l.mu.Lock()
	l.nextObs++
	id := l.nextObs
	l.observers[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.observers, id)
			l.mu.Unlock()
		})
	}
}

func (l *Log) snapshotLocked(since uint64, limit int) []Record {
	start := len(l.records)
	for i, rec := range l.records {
		if rec.Seq > since {
			start = i
			break
		}
	}
	end := len(l.records)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	if start == end {
		return nil
	}
	out := make([]Record, end-start)
	copy(out, l.records[start:end])
	return out
}

func (l *Log) observersLocked() []func() {
	if len(l.observers) == 0 {
		return nil
	}
	out := make([]func(), 0, len(l.observers))
	for _, fn := range l.observers {
		out = append(out, fn)
	}
	return out
}

func notify(observers []func()) {
	for _, fn := range observers {
		fn()
	}
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
