package attendance_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/securiface/internal/attendance"
	"github.com/andresmejia3/securiface/internal/attendance/attendancetest"
	"github.com/andresmejia3/securiface/internal/types"
)

func TestMemoryLedger(t *testing.T) {
	attendancetest.Run(t, func(t *testing.T) attendance.Ledger {
		return attendance.NewMemoryLedger()
	})
}

func TestSummarize(t *testing.T) {
	now := time.Date(2024, time.May, 2, 15, 0, 0, 0, time.Local)
	records := []types.AttendanceRecord{
		{Name: "bob", Date: "2024-05-02", Time: "10:00:00"},
		{Name: "alice", Date: "2024-05-02", Time: "09:00:00"},
		{Name: "alice", Date: "2024-05-01", Time: "09:00:00"},
	}

	tests := []struct {
		name    string
		records []types.AttendanceRecord
		want    attendance.Summary
		display string
	}{
		{
			name:    "today has entries",
			records: records,
			want:    attendance.Summary{TodayCount: 2, LastEntry: "bob", TotalCount: 3, ActiveFaces: 5},
			display: "bob",
		},
		{
			name:    "nothing today",
			records: records[2:],
			want:    attendance.Summary{TodayCount: 0, LastEntry: "", TotalCount: 1, ActiveFaces: 5},
			display: "---",
		},
		{
			name:    "empty ledger",
			want:    attendance.Summary{ActiveFaces: 5},
			display: "---",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := attendance.Summarize(tt.records, 5, now)
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
			if got.LastEntryOrPlaceholder() != tt.display {
				t.Errorf("expected display %q, got %q", tt.display, got.LastEntryOrPlaceholder())
			}
		})
	}
}

func TestStamp(t *testing.T) {
	date, clock := attendance.Stamp(time.Date(2024, time.January, 9, 7, 5, 3, 0, time.Local))
	if date != "2024-01-09" || clock != "07:05:03" {
		t.Errorf("unexpected stamp %s %s", date, clock)
	}
}

func TestSortNewestFirst(t *testing.T) {
	records := []types.AttendanceRecord{
		{Name: "a", Date: "2024-05-01", Time: "09:00:00"},
		{Name: "b", Date: "2024-05-02", Time: "09:00:00"},
		{Name: "c", Date: "2024-05-02", Time: "09:00:00"},
		{Name: "d", Date: "2024-05-01", Time: "10:00:00"},
	}
	attendance.SortNewestFirst(records)
	want := []string{"c", "b", "d", "a"}
	for i, name := range want {
		if records[i].Name != name {
			t.Fatalf("expected order %v, got %+v", want, records)
		}
	}
}

func TestPersistenceError(t *testing.T) {
	cause := errors.New("disk I/O error")
	var err error = &attendance.PersistenceError{Op: "record", Fatal: true, Err: cause}

	var pe *attendance.PersistenceError
	if !errors.As(err, &pe) || !pe.Fatal {
		t.Fatalf("expected fatal PersistenceError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("PersistenceError should unwrap to its cause")
	}
	if err.Error() != "attendance record failed (fatal): disk I/O error" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestKeyLock(t *testing.T) {
	k := attendance.NewKeyLock()

	var mu sync.Mutex
	inside := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		key := "a"
		if i%2 == 0 {
			key = "b"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(key)
			mu.Lock()
			inside[key]++
			if inside[key] > 1 {
				t.Errorf("two holders of key %s", key)
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside[key]--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if n := attendance.KeyLockSize(k); n != 0 {
		t.Errorf("expected unused keys to be dropped, %d left", n)
	}
}
