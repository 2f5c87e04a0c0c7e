package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"chitieu/internal/core"
	"chitieu/internal/ledger"
)

func writeCategories(w io.Writer, cats []ledger.CategoryBalance) {
	if len(cats) == 0 {
		fmt.Fprintln(w, "No categories yet. Create one with: chitieu category add <name>")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tBALANCE")
	var total core.Money
	for _, c := range cats {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", c.ID, c.Name, c.Balance)
		total += c.Balance
	}
	fmt.Fprintf(tw, "\tTotal\t%s\n", total)
	tw.Flush()
}

func categoryNames(cats []ledger.CategoryBalance) map[int64]string {
	names := make(map[int64]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Name
	}
	return names
}

// writeEntries prints entries and their totals. Entries still waiting for
// the server show "…" instead of an id.
func writeEntries(w io.Writer, entries []core.Expense, names map[int64]string) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tCATEGORY\tTYPE\tAMOUNT\tNOTE\tRECEIPT")
	for _, e := range entries {
		id := "…"
		if e.ID != 0 {
			id = fmt.Sprint(e.ID)
		}
		receipt := ""
		if e.ReceiptURL != "" {
			receipt = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			id, e.CreatedAt.Local().Format("2006-01-02 15:04"), names[e.CategoryID], e.Kind, e.Amount, e.Note, receipt)
	}
	tw.Flush()

	t := core.Summarize(entries)
	fmt.Fprintf(w, "%d entries, in %s, out %s, net %s\n", t.Count, t.In, t.Out, t.Net())
}

func writeUsers(w io.Writer, users []core.User) {
	if len(users) == 0 {
		fmt.Fprintln(w, "No other users yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL\tID")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\n", u.Email, u.ID)
	}
	tw.Flush()
}

func writeWords(w io.Writer, words []core.Vocabulary) {
	if len(words) == 0 {
		fmt.Fprintln(w, "No words.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORD\tMEANING\tSTATUS\tEXAMPLE")
	learned := 0
	for _, v := range words {
		if v.Status == core.Learned {
			learned++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Word, v.Meaning, v.Status, v.Example)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d words, %d learned\n", len(words), learned)
}

// messagePrinter prints each message once. Messages are keyed by their
// correlation token when they have one, so a confirmed copy of a message
// already shown optimistically is not printed again.
type messagePrinter struct {
	w     io.Writer
	names map[string]string
	seen  map[string]bool
}

func newMessagePrinter(w io.Writer, names map[string]string) *messagePrinter {
	return &messagePrinter{w: w, names: names, seen: make(map[string]bool)}
}

func (p *messagePrinter) write(msgs []core.Message) {
	for _, m := range msgs {
		key := m.ClientToken
		if key == "" {
			key = m.ID
		}
		if p.seen[key] {
			continue
		}
		p.seen[key] = true
		fmt.Fprintf(p.w, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), p.names[m.SenderID], m.Content)
	}
}

// notifyContext is cancelled on SIGINT or SIGTERM.
func notifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
