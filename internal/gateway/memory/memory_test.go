package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"chitieu/internal/gateway"
)

func mustInsert(t *testing.T, s *Store, table string, row gateway.Row) gateway.Row {
	t.Helper()
	out, err := s.Insert(context.Background(), table, row)
	if err != nil {
		t.Fatalf("insert %s: %v", table, err)
	}
	return out
}

func TestInsertAssignsKeysAndTimestamps(t *testing.T) {
	s := New(nil)
	c1 := mustInsert(t, s, gateway.TableCategories, gateway.Row{"name": "Food", "user_id": "u1"})
	c2 := mustInsert(t, s, gateway.TableCategories, gateway.Row{"name": "Rent", "user_id": "u1"})
	if c1["id"] != int64(1) || c2["id"] != int64(2) {
		t.Fatalf("expected serial ids 1,2; got %v,%v", c1["id"], c2["id"])
	}

	msg := mustInsert(t, s, gateway.TableMessages, gateway.Row{"sender_id": "a", "receiver_id": "b", "content": "hi"})
	if id, _ := msg["id"].(string); id == "" {
		t.Fatalf("expected uuid id, got %v", msg["id"])
	}
	if _, ok := msg["created_at"].(time.Time); !ok {
		t.Fatalf("expected created_at timestamp, got %v", msg["created_at"])
	}
}

func TestConstraints(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	cat := mustInsert(t, s, gateway.TableCategories, gateway.Row{"name": "Food", "user_id": "u1"})

	// Same name, other owner: allowed.
	mustInsert(t, s, gateway.TableCategories, gateway.Row{"name": "Food", "user_id": "u2"})

	tests := []struct {
		name  string
		table string
		row   gateway.Row
	}{
		{"duplicate name per owner", gateway.TableCategories, gateway.Row{"name": "Food", "user_id": "u1"}},
		{"balance without category", gateway.TableBalances, gateway.Row{"category_id": int64(42), "balance": int64(0)}},
		{"expense without category", gateway.TableExpenses, gateway.Row{"category_id": int64(42), "amount": int64(1), "type": "IN", "user_id": "u1"}},
		{"balance without key", gateway.TableBalances, gateway.Row{"balance": int64(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Insert(ctx, tt.table, tt.row); !errors.Is(err, gateway.ErrConstraint) {
				t.Fatalf("expected ErrConstraint, got %v", err)
			}
		})
	}

	mustInsert(t, s, gateway.TableBalances, gateway.Row{"category_id": cat["id"], "balance": int64(0)})
	if _, err := s.Insert(ctx, gateway.TableBalances, gateway.Row{"category_id": cat["id"], "balance": int64(5)}); !errors.Is(err, gateway.ErrConstraint) {
		t.Fatalf("expected duplicate balance to fail, got %v", err)
	}

	// Deleting a referenced category is restricted.
	if _, err := s.Delete(ctx, gateway.TableCategories, gateway.Eq("id", cat["id"])); !errors.Is(err, gateway.ErrConstraint) {
		t.Fatalf("expected restrict on delete, got %v", err)
	}
}

func TestQueryFilterOrderLimit(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	base := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	cat := mustInsert(t, s, gateway.TableCategories, gateway.Row{"name": "Food", "user_id": "u1"})
	for i, ts := range []int{3, 1, 2} {
		mustInsert(t, s, gateway.TableExpenses, gateway.Row{
			"category_id": cat["id"], "amount": int64(1000 * (i + 1)), "type": "OUT", "user_id": "u1",
			"created_at": base.Add(time.Duration(ts) * time.Minute),
		})
	}
	mustInsert(t, s, gateway.TableExpenses, gateway.Row{"category_id": cat["id"], "amount": int64(9), "type": "OUT", "user_id": "u2"})

	rows, err := s.Query(ctx, gateway.Query{
		Table:  gateway.TableExpenses,
		Filter: gateway.Eq("user_id", "u1"),
		Order:  []gateway.Order{{Column: "created_at", Descending: true}},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	want := []int64{1000, 3000, 2000}
	for i, r := range rows {
		if r["amount"] != want[i] {
			t.Fatalf("row %d amount = %v, want %d", i, r["amount"], want[i])
		}
	}

	limited, _ := s.Query(ctx, gateway.Query{Table: gateway.TableExpenses, Limit: 2})
	if len(limited) != 2 {
		t.Fatalf("expected limit 2, got %d", len(limited))
	}

	if _, err := s.Query(ctx, gateway.Query{Table: "vocabularies"}); !errors.Is(err, gateway.ErrUnknownTable) {
		t.Fatalf("expected ErrUnknownTable, got %v", err)
	}
}

func TestMutationsPublishEvents(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	sub, err := s.Subscribe(ctx, gateway.TableCategories)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	cat := mustInsert(t, s, gateway.TableCategories, gateway.Row{"name": "Food", "user_id": "u1"})
	if n, err := s.Update(ctx, gateway.TableCategories, gateway.Eq("id", cat["id"]), gateway.Row{"name": "Groceries"}); err != nil || n != 1 {
		t.Fatalf("Update: n=%d err=%v", n, err)
	}
	if n, err := s.Delete(ctx, gateway.TableCategories, gateway.Eq("id", cat["id"])); err != nil || n != 1 {
		t.Fatalf("Delete: n=%d err=%v", n, err)
	}

	wantKinds := []gateway.EventKind{gateway.EventInsert, gateway.EventUpdate, gateway.EventDelete}
	for _, want := range wantKinds {
		select {
		case ev := <-sub.Events():
			if ev.Kind != want {
				t.Fatalf("got %s, want %s", ev.Kind, want)
			}
			if want == gateway.EventUpdate && ev.Row["name"] != "Groceries" {
				t.Fatalf("update event should carry the new row, got %v", ev.Row)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestUpdateRejectsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	mustInsert(t, s, gateway.TableCategories, gateway.Row{"name": "Food", "user_id": "u1"})
	rent := mustInsert(t, s, gateway.TableCategories, gateway.Row{"name": "Rent", "user_id": "u1"})

	if _, err := s.Update(ctx, gateway.TableCategories, gateway.Eq("id", rent["id"]), gateway.Row{"name": "Food"}); !errors.Is(err, gateway.ErrConstraint) {
		t.Fatalf("expected ErrConstraint, got %v", err)
	}
	rows, _ := s.Query(ctx, gateway.Query{Table: gateway.TableCategories, Filter: gateway.Eq("id", rent["id"])})
	if rows[0]["name"] != "Rent" {
		t.Fatalf("failed update must not change the row, got %v", rows[0])
	}
}

func TestReturnedRowsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	row := mustInsert(t, s, gateway.TableCategories, gateway.Row{"name": "Food", "user_id": "u1"})
	row["name"] = "mutated"
	rows, _ := s.Query(ctx, gateway.Query{Table: gateway.TableCategories})
	if rows[0]["name"] != "Food" {
		t.Fatal("store must not share row maps with callers")
	}
}
