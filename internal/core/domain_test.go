package core

import (
	"errors"
	"testing"
	"time"
)

func TestKindApply(t *testing.T) {
	if got := Debit.Apply(100000, 30000); got != 70000 {
		t.Fatalf("debit apply = %d, want 70000", got)
	}
	if got := Credit.Apply(70000, 5000); got != 75000 {
		t.Fatalf("credit apply = %d, want 75000", got)
	}
	if err := Kind("SIDEWAYS").Validate(); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestExpenseValidate(t *testing.T) {
	valid := Expense{CategoryID: 1, Amount: 30000, Kind: Debit, Note: "lunch", UserID: "u1"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid expense rejected: %v", err)
	}

	cases := []struct {
		name string
		mod  func(*Expense)
		want error
	}{
		{"no category", func(e *Expense) { e.CategoryID = 0 }, ErrMissingCategory},
		{"zero amount", func(e *Expense) { e.Amount = 0 }, ErrInvalidAmount},
		{"bad kind", func(e *Expense) { e.Kind = "x" }, ErrInvalidKind},
		{"no user", func(e *Expense) { e.UserID = "" }, ErrMissingUser},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := valid
			c.mod(&e)
			if err := e.Validate(); !errors.Is(err, c.want) {
				t.Fatalf("got %v, want %v", err, c.want)
			}
		})
	}
}

func TestCategoryValidate(t *testing.T) {
	if err := (Category{Name: "  ", UserID: "u1"}).Validate(); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if err := (Category{Name: "Food", UserID: "u1"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMessageBetween(t *testing.T) {
	m := Message{SenderID: "a", ReceiverID: "b", Content: "hi", CreatedAt: time.Now()}
	if !m.Between("a", "b") || !m.Between("b", "a") {
		t.Fatal("message should belong to a<->b")
	}
	if m.Between("a", "c") {
		t.Fatal("message should not belong to a<->c")
	}
	if err := (Message{SenderID: "a", ReceiverID: "b", Content: "   "}).Validate(); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	totals := Summarize([]Expense{
		{Amount: 100000, Kind: Credit},
		{Amount: 30000, Kind: Debit},
		{Amount: 5000, Kind: Debit},
	})
	if totals.In != 100000 || totals.Out != 35000 || totals.Count != 3 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
	if totals.Net() != 65000 {
		t.Fatalf("net = %d, want 65000", totals.Net())
	}
}
