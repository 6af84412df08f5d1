// Package attendancetest holds the behaviour every attendance.Ledger backend must show.
package attendancetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/securiface/internal/attendance"
)

func day(d, h, m, s int) time.Time {
	return time.Date(2024, time.May, d, h, m, s, 0, time.Local)
}

// Run exercises a ledger. newLedger must return an empty ledger each call.
func Run(t *testing.T, newLedger func(t *testing.T) attendance.Ledger) {
	t.Run("RecordOncePerDay", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		ok, err := l.RecordIfNew(ctx, "alice", day(1, 9, 0, 0))
		if err != nil || !ok {
			t.Fatalf("first record: ok=%v err=%v", ok, err)
		}
		ok, err = l.RecordIfNew(ctx, "alice", day(1, 17, 30, 0))
		if err != nil || ok {
			t.Fatalf("same day should not record again: ok=%v err=%v", ok, err)
		}
		ok, err = l.RecordIfNew(ctx, "alice", day(2, 8, 0, 0))
		if err != nil || !ok {
			t.Fatalf("next day should record: ok=%v err=%v", ok, err)
		}

		records, err := l.QueryAll(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %+v", records)
		}
		if records[0].Date != "2024-05-02" || records[1].Date != "2024-05-01" {
			t.Errorf("expected newest first, got %+v", records)
		}
		if records[1].Time != "09:00:00" {
			t.Errorf("first sighting time should be kept, got %s", records[1].Time)
		}
	})

	t.Run("Concurrent", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		var written atomic.Int32
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := l.RecordIfNew(ctx, "bob", day(3, 10, 0, i))
				if err != nil {
					errs <- err
					return
				}
				if ok {
					written.Add(1)
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("concurrent record failed: %v", err)
		}
		if written.Load() != 1 {
			t.Errorf("expected exactly one write, got %d", written.Load())
		}
		records, _ := l.QueryAll(ctx)
		if len(records) != 1 {
			t.Errorf("expected 1 stored record, got %d", len(records))
		}
	})

	t.Run("Ordering", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		l.RecordIfNew(ctx, "carol", day(4, 8, 0, 0))
		l.RecordIfNew(ctx, "dave", day(4, 12, 0, 0))
		l.RecordIfNew(ctx, "erin", day(4, 12, 0, 0))
		l.RecordIfNew(ctx, "frank", day(3, 23, 0, 0))

		records, err := l.QueryAll(ctx)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"erin", "dave", "carol", "frank"}
		if len(records) != len(want) {
			t.Fatalf("expected %d records, got %+v", len(want), records)
		}
		for i, name := range want {
			if records[i].Name != name {
				t.Errorf("position %d: expected %s, got %s (%+v)", i, name, records[i].Name, records)
			}
		}
	})

	t.Run("Reset", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		l.RecordIfNew(ctx, "alice", day(5, 9, 0, 0))
		l.RecordIfNew(ctx, "bob", day(5, 9, 1, 0))

		if err := l.Reset(ctx); err != nil {
			t.Fatalf("reset failed: %v", err)
		}
		records, err := l.QueryAll(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 0 {
			t.Fatalf("expected empty ledger, got %+v", records)
		}
		ok, err := l.RecordIfNew(ctx, "alice", day(5, 10, 0, 0))
		if err != nil || !ok {
			t.Errorf("record after reset: ok=%v err=%v", ok, err)
		}
	})
}
