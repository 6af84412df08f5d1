// Package attendance defines the attendance ledger contract and the helpers shared by its backends.
//
// A ledger holds at most one record per identity per local calendar day. Backends live in
// internal/store.
package attendance

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/andresmejia3/securiface/internal/types"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

type Ledger interface {
	// RecordIfNew writes (name, date(now), time(now)) unless name already has a record for that date.
	// It reports whether a record was written.
	RecordIfNew(ctx context.Context, name string, now time.Time) (bool, error)
	// QueryAll returns every record, newest first.
	QueryAll(ctx context.Context) ([]types.AttendanceRecord, error)
	// Reset deletes every record.
	Reset(ctx context.Context) error
	Close() error
}

// PersistenceError wraps a backend failure. Fatal marks failures that will not clear up by retrying
// (read-only, full or corrupt store). An unreachable store is retryable.
type PersistenceError struct {
	Op    string
	Fatal bool
	Err   error
}

func (e *PersistenceError) Error() string {
	kind := "retryable"
	if e.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("attendance %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Stamp splits now into the local date and time strings stored in a record.
func Stamp(now time.Time) (date, clock string) {
	local := now.Local()
	return local.Format(DateLayout), local.Format(TimeLayout)
}

// SortNewestFirst orders records inserted oldest first by date and time, newest first.
// Records sharing a timestamp keep reverse insertion order.
func SortNewestFirst(records []types.AttendanceRecord) {
	slices.Reverse(records)
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date > records[j].Date
		}
		return records[i].Time > records[j].Time
	})
}

// Key identifies the dedup slot of one identity on one day.
func Key(name, date string) string {
	return date + "/" + name
}

// KeyLock is a set of mutexes addressed by string key. Entries are dropped when unused.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[string]*keyEntry)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *KeyLock) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *KeyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// Summary holds the dashboard KPIs.
type Summary struct {
	TodayCount  int    `json:"today_count"`
	LastEntry   string `json:"last_entry"`
	TotalCount  int    `json:"total_count"`
	ActiveFaces int    `json:"active_faces"`
}

// NoEntry is displayed in place of an empty LastEntry.
const NoEntry = "---"

// LastEntryOrPlaceholder returns LastEntry, or NoEntry when nobody was logged today.
func (s Summary) LastEntryOrPlaceholder() string {
	if s.LastEntry == "" {
		return NoEntry
	}
	return s.LastEntry
}

// Summarize computes KPIs from records ordered newest first, as QueryAll returns them.
func Summarize(records []types.AttendanceRecord, gallerySize int, now time.Time) Summary {
	today, _ := Stamp(now)
	s := Summary{TotalCount: len(records), ActiveFaces: gallerySize}
	for _, r := range records {
		if r.Date != today {
			continue
		}
		if s.TodayCount == 0 {
			s.LastEntry = r.Name
		}
		s.TodayCount++
	}
	return s
}
