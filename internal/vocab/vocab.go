// Package vocab keeps the word list a user is learning in a synchronized
// collection: words can be added, marked learned or unlearned, deleted and
// searched.
package vocab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chitieu/internal/collection"
	"chitieu/internal/core"
	"chitieu/internal/gateway"
)

var (
	ErrUnknownWord = errors.New("unknown word")
	// ErrWriteFailed wraps the gateway error of a failed write. Nothing was
	// changed remotely.
	ErrWriteFailed = errors.New("vocabulary write failed")
)

// WordSpec orders words oldest first, the order they were added in.
var WordSpec = collection.Spec[core.Vocabulary]{
	Table:  gateway.TableVocabularies,
	Decode: decodeWord,
	Key:    func(v core.Vocabulary) string { return v.ID },
	Time:   func(v core.Vocabulary) time.Time { return v.CreatedAt },
	Order:  collection.Ascending,
}

// decodeWord treats a missing status as unlearned.
func decodeWord(r gateway.Row) (core.Vocabulary, error) {
	v, err := gateway.DecodeAs[core.Vocabulary](r)
	if err != nil {
		return v, err
	}
	if v.Status == "" {
		v.Status = core.Unlearned
	}
	return v, nil
}

type Book struct {
	gw     gateway.Gateway
	userID string
	words  *collection.Collection[core.Vocabulary]
	logger *slog.Logger
}

// Open subscribes to the user's words, then loads them.
func Open(ctx context.Context, gw gateway.Gateway, userID string, logger *slog.Logger) (*Book, error) {
	if userID == "" {
		return nil, fmt.Errorf("open vocabulary: %w", collection.ErrUnauthorized)
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Book{
		gw:     gw,
		userID: userID,
		words:  collection.New(gw, WordSpec, logger),
		logger: logger,
	}
	if err := b.words.Subscribe(ctx, func(v core.Vocabulary) bool { return v.UserID == userID }); err != nil {
		b.words.Close()
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	if err := b.words.Load(ctx, gateway.Eq("user_id", userID), 0); err != nil {
		b.words.Close()
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	return b, nil
}

// Add stores a new unlearned word. Word and meaning are required.
func (b *Book) Add(ctx context.Context, word, meaning, example string) (core.Vocabulary, error) {
	v := core.Vocabulary{
		Word:    strings.TrimSpace(word),
		Meaning: strings.TrimSpace(meaning),
		Example: strings.TrimSpace(example),
		Status:  core.Unlearned,
		UserID:  b.userID,
	}
	if err := v.Validate(); err != nil {
		return core.Vocabulary{}, err
	}

	row, err := b.gw.Insert(ctx, gateway.TableVocabularies, gateway.Row{
		"word":             v.Word,
		"meaning":          v.Meaning,
		"example_sentence": v.Example,
		"status":           string(v.Status),
		"user_id":          v.UserID,
	})
	if err != nil {
		return core.Vocabulary{}, fmt.Errorf("add word %q: %w: %w", v.Word, ErrWriteFailed, err)
	}
	added, err := decodeWord(row)
	if err != nil {
		return core.Vocabulary{}, fmt.Errorf("add word: %w", err)
	}
	b.words.Merge(added)

	b.logger.InfoContext(ctx, "Word added", "word_id", added.ID, "word", added.Word)
	return added, nil
}

// SetStatus marks a word learned or unlearned.
func (b *Book) SetStatus(ctx context.Context, id string, status core.VocabStatus) (core.Vocabulary, error) {
	if err := status.Validate(); err != nil {
		return core.Vocabulary{}, err
	}
	v, ok := b.words.Find(id)
	if !ok {
		return core.Vocabulary{}, fmt.Errorf("set status of %s: %w", id, ErrUnknownWord)
	}
	if v.Status == status {
		return v, nil
	}

	n, err := b.gw.Update(ctx, gateway.TableVocabularies, gateway.Eq("id", id),
		gateway.Row{"status": string(status)})
	if err != nil {
		return core.Vocabulary{}, fmt.Errorf("set status of %q: %w: %w", v.Word, ErrWriteFailed, err)
	}
	if n == 0 {
		return core.Vocabulary{}, fmt.Errorf("set status of %q: %w", v.Word, ErrUnknownWord)
	}
	v.Status = status
	b.words.Merge(v)
	return v, nil
}

// Delete removes a word.
func (b *Book) Delete(ctx context.Context, id string) error {
	v, ok := b.words.Find(id)
	if !ok {
		return fmt.Errorf("delete word %s: %w", id, ErrUnknownWord)
	}
	if _, err := b.gw.Delete(ctx, gateway.TableVocabularies, gateway.Eq("id", id)); err != nil {
		return fmt.Errorf("delete word %q: %w: %w", v.Word, ErrWriteFailed, err)
	}
	b.words.Remove(id)
	b.logger.InfoContext(ctx, "Word deleted", "word_id", id)
	return nil
}

// Words returns every word in the order it was added.
func (b *Book) Words() []core.Vocabulary {
	return b.words.Items()
}

// Search returns the words whose text or meaning contains term, ignoring
// case.
func (b *Book) Search(term string) []core.Vocabulary {
	return b.words.Filter(func(v core.Vocabulary) bool { return v.Matches(term) })
}

// Lookup finds a word by id, or else by its exact text ignoring case.
func (b *Book) Lookup(ref string) (core.Vocabulary, bool) {
	if v, ok := b.words.Find(ref); ok {
		return v, true
	}
	found := b.words.Filter(func(v core.Vocabulary) bool { return strings.EqualFold(v.Word, strings.TrimSpace(ref)) })
	if len(found) == 0 {
		return core.Vocabulary{}, false
	}
	return found[0], true
}

func (b *Book) Changes() <-chan struct{} {
	return b.words.Changes()
}

func (b *Book) Close() error {
	return b.words.Close()
}
