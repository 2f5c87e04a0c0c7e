package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Credit Kind = "IN"
	Debit  Kind = "OUT"
)

type (
	// Kind tells whether an entry adds to (IN) or draws from (OUT) a category balance.
	Kind string

	// Money is an amount in whole đồng.
	Money int64

	Category struct {
		ID     int64  `row:"id"`
		Name   string `row:"name"`
		UserID string `row:"user_id"`
	}

	// Balance is the single mutable amount owned by one Category.
	Balance struct {
		CategoryID int64     `row:"category_id"`
		Amount     Money     `row:"balance"`
		UpdatedAt  time.Time `row:"updated_at"`
	}

	// Expense is a ledger entry. ClientToken correlates an optimistic local copy
	// with the row the backend eventually assigns an ID to.
	Expense struct {
		ID          int64     `row:"id"`
		CategoryID  int64     `row:"category_id"`
		Amount      Money     `row:"amount"`
		Kind        Kind      `row:"type"`
		Note        string    `row:"note"`
		UserID      string    `row:"user_id"`
		ReceiptURL  string    `row:"receipt_url"`
		ClientToken string    `row:"client_token"`
		CreatedAt   time.Time `row:"created_at"`
	}

	Message struct {
		ID          string    `row:"id"`
		SenderID    string    `row:"sender_id"`
		ReceiverID  string    `row:"receiver_id"`
		Content     string    `row:"content"`
		ClientToken string    `row:"client_token"`
		CreatedAt   time.Time `row:"created_at"`
	}

	User struct {
		ID    string `row:"id"`
		Email string `row:"email"`
	}

	// VocabStatus tracks whether a word has been learned yet.
	VocabStatus string

	// Vocabulary is a word the user is learning.
	Vocabulary struct {
		ID        string      `row:"id"`
		Word      string      `row:"word"`
		Meaning   string      `row:"meaning"`
		Example   string      `row:"example_sentence"`
		Status    VocabStatus `row:"status"`
		UserID    string      `row:"user_id"`
		CreatedAt time.Time   `row:"created_at"`
	}
)

const (
	Unlearned VocabStatus = "unlearned"
	Learned   VocabStatus = "learned"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidKind     = errors.New("invalid entry type")
	ErrEmptyName       = errors.New("empty category name")
	ErrEmptyContent    = errors.New("empty message")
	ErrMissingCategory = errors.New("missing category")
	ErrMissingUser     = errors.New("missing user")
	ErrMissingWord     = errors.New("word and meaning are required")
	ErrInvalidStatus   = errors.New("invalid word status")
)

const (
	maxNoteLength    = 200
	maxNameLength    = 60
	maxContentLength = 2000
	maxWordLength    = 100
	maxMeaningLength = 500
)

func (k Kind) Validate() error {
	switch k {
	case Credit, Debit:
		return nil
	default:
		return ErrInvalidKind
	}
}

// Apply returns the balance after an entry of kind k and amount m is recorded.
func (k Kind) Apply(balance, m Money) Money {
	if k == Debit {
		return balance - m
	}
	return balance + m
}

func (m Money) Validate() error {
	if m <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (c Category) Validate() error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > maxNameLength {
		return errors.New("category name too long (max 60 characters)")
	}
	if c.UserID == "" {
		return ErrMissingUser
	}
	return nil
}

func (e Expense) Validate() error {
	if e.CategoryID <= 0 {
		return ErrMissingCategory
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if err := e.Kind.Validate(); err != nil {
		return err
	}
	if len(e.Note) > maxNoteLength {
		return errors.New("note too long (max 200 characters)")
	}
	if e.UserID == "" {
		return ErrMissingUser
	}
	return nil
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	if len(m.Content) > maxContentLength {
		return errors.New("message too long (max 2000 characters)")
	}
	if m.SenderID == "" || m.ReceiverID == "" {
		return ErrMissingUser
	}
	return nil
}

// Between reports whether the message belongs to the conversation of a and b,
// in either direction.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) ||
		(m.SenderID == b && m.ReceiverID == a)
}

func (s VocabStatus) Validate() error {
	switch s {
	case Unlearned, Learned:
		return nil
	default:
		return ErrInvalidStatus
	}
}

func (v Vocabulary) Validate() error {
	if strings.TrimSpace(v.Word) == "" || strings.TrimSpace(v.Meaning) == "" {
		return ErrMissingWord
	}
	if len(v.Word) > maxWordLength {
		return errors.New("word too long (max 100 characters)")
	}
	if len(v.Meaning) > maxMeaningLength || len(v.Example) > maxMeaningLength {
		return errors.New("meaning or example too long (max 500 characters)")
	}
	if err := v.Status.Validate(); err != nil {
		return err
	}
	if v.UserID == "" {
		return ErrMissingUser
	}
	return nil
}

// Matches reports whether term appears in the word or its meaning, ignoring
// case. An empty term matches every word.
func (v Vocabulary) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(v.Word), term) ||
		strings.Contains(strings.ToLower(v.Meaning), term)
}
