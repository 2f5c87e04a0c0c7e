package export

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chitieu/internal/gateway"
	"chitieu/internal/gateway/memory"
)

type fakeWriter struct {
	mu    sync.Mutex
	rows  [][]any
	calls int
	fails int
}

func (w *fakeWriter) AppendRows(_ context.Context, rows [][]any) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.fails > 0 {
		w.fails--
		return "", errors.New("quota exceeded")
	}
	w.rows = append(w.rows, rows...)
	return "Ledger!A1", nil
}

func (w *fakeWriter) snapshot() ([][]any, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]any(nil), w.rows...), w.calls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func seed(t *testing.T) (*memory.Store, int64) {
	t.Helper()
	store := memory.New(nil)
	row, err := store.Insert(context.Background(), gateway.TableCategories, gateway.Row{"name": "Food", "user_id": "u1"})
	if err != nil {
		t.Fatal(err)
	}
	id, _ := row["id"].(int64)
	return store, id
}

func record(t *testing.T, store *memory.Store, categoryID int64, amount int64, kind, note string) {
	t.Helper()
	_, err := store.Insert(context.Background(), gateway.TableExpenses, gateway.Row{
		"category_id": categoryID,
		"amount":      amount,
		"type":        kind,
		"note":        note,
		"user_id":     "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestExporterFlushesFullBatch(t *testing.T) {
	store, food := seed(t)
	w := &fakeWriter{}
	e := New(store, w, Config{BatchSize: 2, FlushInterval: time.Hour, Location: time.UTC}, nil)

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	record(t, store, food, 30000, "OUT", "lunch")
	record(t, store, food, 5000, "IN", "refund")

	waitFor(t, func() bool { rows, _ := w.snapshot(); return len(rows) == 2 })
	rows, calls := w.snapshot()
	if calls != 1 {
		t.Fatalf("expected one append, got %d", calls)
	}
	first := rows[0]
	if first[1] != "Food" || first[2] != "OUT" || first[3] != int64(30000) || first[4] != "lunch" {
		t.Fatalf("unexpected row %v", first)
	}
	if date, _ := first[0].(string); len(date) != len("2006-01-02") {
		t.Fatalf("unexpected date %v", first[0])
	}
}

func TestExporterFlushesOnInterval(t *testing.T) {
	store, food := seed(t)
	w := &fakeWriter{}
	e := New(store, w, Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, nil)

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	record(t, store, food, 1000, "OUT", "")
	waitFor(t, func() bool { rows, _ := w.snapshot(); return len(rows) == 1 })
}

func TestExporterStopFlushesPending(t *testing.T) {
	store, food := seed(t)
	w := &fakeWriter{}
	e := New(store, w, Config{BatchSize: 100, FlushInterval: time.Hour}, nil)

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	record(t, store, food, 1000, "OUT", "")
	// Give the loop time to receive the event before stopping.
	time.Sleep(20 * time.Millisecond)

	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rows, _ := w.snapshot(); len(rows) != 1 {
		t.Fatalf("expected the pending row on stop, got %d", len(rows))
	}
	if e.IsRunning() {
		t.Fatal("exporter still running")
	}
}

func TestExporterRetriesFailedBatch(t *testing.T) {
	store, food := seed(t)
	w := &fakeWriter{fails: 3}
	e := New(store, w, Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond, MaxRetries: 3}, nil)

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	record(t, store, food, 1000, "OUT", "")
	waitFor(t, func() bool { rows, _ := w.snapshot(); return len(rows) == 1 })
	// One attempt and three retries.
	if _, calls := w.snapshot(); calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
}

func TestExporterDropsAfterMaxRetries(t *testing.T) {
	store, food := seed(t)
	w := &fakeWriter{fails: 3}
	e := New(store, w, Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond, MaxRetries: 2}, nil)

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	record(t, store, food, 1000, "OUT", "dropped")
	waitFor(t, func() bool { _, calls := w.snapshot(); return calls >= 3 })
	record(t, store, food, 2000, "OUT", "kept")
	waitFor(t, func() bool { rows, _ := w.snapshot(); return len(rows) == 1 })

	rows, _ := w.snapshot()
	if rows[0][4] != "kept" {
		t.Fatalf("expected only the later entry, got %v", rows)
	}
}

func TestExporterIgnoresUpdatesAndDeletes(t *testing.T) {
	store, food := seed(t)
	record(t, store, food, 1000, "OUT", "before start")

	w := &fakeWriter{}
	e := New(store, w, Config{BatchSize: 1, FlushInterval: time.Hour}, nil)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := store.Update(ctx, gateway.TableExpenses, gateway.Eq("category_id", food), gateway.Row{"note": "edited"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Delete(ctx, gateway.TableExpenses, gateway.Eq("category_id", food)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := e.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if _, calls := w.snapshot(); calls != 0 {
		t.Fatalf("expected no appends, got %d", calls)
	}
}

func TestExporterUnknownCategory(t *testing.T) {
	e := New(memory.New(nil), &fakeWriter{}, Config{}, nil)
	if got := e.categoryName(context.Background(), 42); got != "#42" {
		t.Fatalf("categoryName = %q", got)
	}
}

func TestExporterStartTwice(t *testing.T) {
	e := New(memory.New(nil), &fakeWriter{}, Config{}, nil)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer e.Stop(ctx)
	if err := e.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}
