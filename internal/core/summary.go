package core

// Totals aggregates credits and debits over a set of entries.
type Totals struct {
	In    Money
	Out   Money
	Count int
}

// Net is the balance change the entries produce.
func (t Totals) Net() Money {
	return t.In - t.Out
}

// Summarize totals entries by kind.
func Summarize(entries []Expense) Totals {
	var t Totals
	for _, e := range entries {
		switch e.Kind {
		case Credit:
			t.In += e.Amount
		case Debit:
			t.Out += e.Amount
		}
		t.Count++
	}
	return t
}
