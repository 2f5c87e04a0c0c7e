package gateway

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFilterMatch(t *testing.T) {
	conversation := Or(
		And(Eq("sender_id", "a"), Eq("receiver_id", "b")),
		And(Eq("sender_id", "b"), Eq("receiver_id", "a")),
	)

	tests := []struct {
		name   string
		filter Filter
		row    Row
		want   bool
	}{
		{"empty matches all", Filter{}, Row{"x": 1}, true},
		{"eq int vs int64", Eq("id", 7), Row{"id": int64(7)}, true},
		{"eq int64 vs float64", Eq("id", int64(7)), Row{"id": float64(7)}, true},
		{"eq json number", Eq("id", int64(7)), Row{"id": json.Number("7")}, true},
		{"eq mismatch", Eq("id", 7), Row{"id": int64(8)}, false},
		{"neq", Neq("id", "me"), Row{"id": "other"}, true},
		{"neq self", Neq("id", "me"), Row{"id": "me"}, false},
		{"missing column", Eq("user_id", "u1"), Row{}, false},
		{"conversation a->b", conversation, Row{"sender_id": "a", "receiver_id": "b"}, true},
		{"conversation b->a", conversation, Row{"sender_id": "b", "receiver_id": "a"}, true},
		{"conversation a->c", conversation, Row{"sender_id": "a", "receiver_id": "c"}, false},
		{"and of or", And(conversation, Eq("content", "hi")), Row{"sender_id": "b", "receiver_id": "a", "content": "hi"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(tt.row); got != tt.want {
				t.Errorf("Match(%v) on %s = %v, want %v", tt.row, tt.filter, got, tt.want)
			}
		})
	}
}

func TestFilterClauses(t *testing.T) {
	f := And(Or(Eq("a", 1), Eq("a", 2)), Eq("b", 3))
	if got := len(f.Clauses()); got != 2 {
		t.Fatalf("expected 2 clauses after distributing, got %d", got)
	}
	for _, c := range f.Clauses() {
		if len(c) != 2 {
			t.Fatalf("expected 2 conditions per clause, got %v", c)
		}
	}
	if !Or(Eq("a", 1), Filter{}).IsEmpty() {
		t.Fatal("or with an empty filter should match everything")
	}
}

func TestCompare(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)
	if Compare(t1, t2) != -1 || Compare(t2.Format(TimeLayout), t1) != 1 {
		t.Fatal("times should compare chronologically, including text form")
	}
	if Compare(int64(2), 10) != -1 {
		t.Fatal("numbers should compare by value")
	}
	if Compare(nil, "x") != -1 {
		t.Fatal("nil sorts first")
	}
}

func TestTimeLayoutSortsLexically(t *testing.T) {
	base := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	a := base.Format(TimeLayout)
	b := base.Add(100 * time.Millisecond).Format(TimeLayout)
	c := base.Add(time.Second).Format(TimeLayout)
	if !(a < b && b < c) {
		t.Fatalf("fixed-width layout must sort lexically: %s %s %s", a, b, c)
	}
}
