package vocab

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"chitieu/internal/collection"
	"chitieu/internal/core"
	"chitieu/internal/gateway"
	"chitieu/internal/gateway/memory"
)

type failingGateway struct {
	*memory.Store
	err error
}

func (f *failingGateway) Insert(context.Context, string, gateway.Row) (gateway.Row, error) {
	return nil, f.err
}

func (f *failingGateway) Update(context.Context, string, gateway.Filter, gateway.Row) (int, error) {
	return 0, f.err
}

func (f *failingGateway) Delete(context.Context, string, gateway.Filter) (int, error) {
	return 0, f.err
}

func open(t *testing.T, gw gateway.Gateway, user string) *Book {
	t.Helper()
	b, err := Open(context.Background(), gw, user, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func words(vs []core.Vocabulary) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Word
	}
	return out
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	b := open(t, memory.New(nil), "u1")

	tests := []struct {
		name    string
		word    string
		meaning string
		wantErr error
	}{
		{"valid", "apple", "quả táo", nil},
		{"missing word", "  ", "quả táo", core.ErrMissingWord},
		{"missing meaning", "pear", "", core.ErrMissingWord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := b.Add(ctx, tt.word, tt.meaning, "")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Add() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if v.ID == "" || v.Status != core.Unlearned || v.UserID != "u1" {
				t.Fatalf("added word = %+v", v)
			}
		})
	}
	if got := words(b.Words()); len(got) != 1 || got[0] != "apple" {
		t.Fatalf("words = %v", got)
	}
}

func TestSetStatusAndDelete(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	b := open(t, store, "u1")
	v, err := b.Add(ctx, "river", "dòng sông", "The river is wide.")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	learned, err := b.SetStatus(ctx, v.ID, core.Learned)
	if err != nil || learned.Status != core.Learned {
		t.Fatalf("SetStatus = %+v, %v", learned, err)
	}
	rows, _ := store.Query(ctx, gateway.Query{Table: gateway.TableVocabularies, Filter: gateway.Eq("id", v.ID)})
	if len(rows) != 1 || rows[0]["status"] != "learned" {
		t.Fatalf("stored rows = %v", rows)
	}
	if got, _ := b.Lookup("RIVER"); got.Status != core.Learned {
		t.Fatalf("mirrored status = %s", got.Status)
	}

	if _, err := b.SetStatus(ctx, v.ID, "forgotten"); !errors.Is(err, core.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := b.SetStatus(ctx, "missing", core.Learned); !errors.Is(err, ErrUnknownWord) {
		t.Fatalf("expected ErrUnknownWord, got %v", err)
	}

	if err := b.Delete(ctx, v.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(b.Words()) != 0 {
		t.Fatalf("words after delete = %v", words(b.Words()))
	}
	if err := b.Delete(ctx, v.ID); !errors.Is(err, ErrUnknownWord) {
		t.Fatalf("second Delete: %v, want ErrUnknownWord", err)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	b := open(t, memory.New(nil), "u1")
	for _, w := range [][2]string{{"Apple", "quả táo"}, {"pineapple", "quả dứa"}, {"river", "dòng sông"}} {
		if _, err := b.Add(ctx, w[0], w[1], ""); err != nil {
			t.Fatalf("Add %s: %v", w[0], err)
		}
	}

	tests := []struct {
		term string
		want []string
	}{
		{"", []string{"Apple", "pineapple", "river"}},
		{"APPLE", []string{"Apple", "pineapple"}},
		{"quả", []string{"Apple", "pineapple"}},
		{"sông", []string{"river"}},
		{"cloud", nil},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			got := words(b.Search(tt.term))
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Fatalf("Search(%q) = %v, want %v", tt.term, got, tt.want)
			}
		})
	}
}

func TestWordsFromOtherClients(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	b := open(t, store, "u1")

	for _, r := range []gateway.Row{
		{"word": "cloud", "meaning": "đám mây", "user_id": "u1"},
		{"word": "rain", "meaning": "mưa", "user_id": "u2"},
	} {
		if _, err := store.Insert(ctx, gateway.TableVocabularies, r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for len(b.Words()) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("words = %v, want the pushed word of u1 only", words(b.Words()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	// A row stored without a status reads as unlearned.
	if v := b.Words()[0]; v.Word != "cloud" || v.Status != core.Unlearned {
		t.Fatalf("pushed word = %+v", v)
	}
}

func TestWriteFailures(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	seed, err := store.Insert(ctx, gateway.TableVocabularies, gateway.Row{
		"word": "sun", "meaning": "mặt trời", "status": "unlearned", "user_id": "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
	down := fmt.Errorf("%w: connection refused", gateway.ErrTransport)
	b := open(t, &failingGateway{Store: store, err: down}, "u1")
	id := seed["id"].(string)

	if _, err := b.Add(ctx, "moon", "mặt trăng", ""); !errors.Is(err, ErrWriteFailed) || !errors.Is(err, gateway.ErrTransport) {
		t.Fatalf("Add: %v", err)
	}
	if _, err := b.SetStatus(ctx, id, core.Learned); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := b.Delete(ctx, id); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Delete: %v", err)
	}
	if got := b.Words(); len(got) != 1 || got[0].Status != core.Unlearned {
		t.Fatalf("mirror changed after failed writes: %+v", got)
	}
}

func TestOpenWithoutUser(t *testing.T) {
	if _, err := Open(context.Background(), memory.New(nil), "", nil); !errors.Is(err, collection.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
