package attendance

import (
	"context"
	"sync"
	"time"

	"github.com/andresmejia3/securiface/internal/types"
)

// MemoryLedger keeps records in process memory. Nothing survives a restart.
type MemoryLedger struct {
	mu      sync.Mutex
	records []types.AttendanceRecord
	seen    map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

func (m *MemoryLedger) RecordIfNew(ctx context.Context, name string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &PersistenceError{Op: "record", Err: err}
	}
	date, clock := Stamp(now)
	key := Key(name, date)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	m.records = append(m.records, types.AttendanceRecord{Name: name, Date: date, Time: clock})
	return true, nil
}

func (m *MemoryLedger) QueryAll(ctx context.Context) ([]types.AttendanceRecord, error) {
	m.mu.Lock()
	out := make([]types.AttendanceRecord, len(m.records))
	copy(out, m.records)
	m.mu.Unlock()

	SortNewestFirst(out)
	return out, nil
}

func (m *MemoryLedger) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	m.seen = make(map[string]struct{})
	return nil
}

func (m *MemoryLedger) Close() error { return nil }
