// Package chat mirrors the conversation between two users. The messages
// feed is table-wide, so each conversation keeps only the messages whose
// sender and receiver are exactly its two participants.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chitieu/internal/collection"
	"chitieu/internal/core"
	"chitieu/internal/gateway"
)

// ErrSendFailed wraps the gateway error of a message insert.
var ErrSendFailed = errors.New("send failed")

type Conversation struct {
	gw       gateway.Gateway
	me       string
	other    string
	messages *collection.Collection[core.Message]
	logger   *slog.Logger

	optimistic bool
	token      func() string
}

type Option func(*Conversation)

// PushOnly disables optimistic rendering: a sent message appears only once
// its push event arrives.
func PushOnly() Option {
	return func(c *Conversation) { c.optimistic = false }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Conversation) { c.logger = logger }
}

// MessageSpec orders messages oldest first.
var MessageSpec = collection.Spec[core.Message]{
	Table:  gateway.TableMessages,
	Decode: gateway.DecodeAs[core.Message],
	Key:    func(m core.Message) string { return m.ID },
	Token:  func(m core.Message) string { return m.ClientToken },
	Time:   func(m core.Message) time.Time { return m.CreatedAt },
	Order:  collection.Ascending,
	Same: func(optimistic, confirmed core.Message) bool {
		return optimistic.SenderID == confirmed.SenderID &&
			optimistic.ReceiverID == confirmed.ReceiverID &&
			optimistic.Content == confirmed.Content
	},
}

// Open subscribes to the conversation between me and other, then loads its
// history. Messages committed while the history loads are kept.
func Open(ctx context.Context, gw gateway.Gateway, me, other string, opts ...Option) (*Conversation, error) {
	if me == "" {
		return nil, fmt.Errorf("open conversation: %w", collection.ErrUnauthorized)
	}
	if other == "" || other == me {
		return nil, fmt.Errorf("open conversation: invalid peer %q", other)
	}

	c := &Conversation{
		gw:         gw,
		me:         me,
		other:      other,
		logger:     slog.Default(),
		optimistic: true,
		token:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.messages = collection.New(gw, MessageSpec, c.logger)

	if err := c.messages.Subscribe(ctx, func(m core.Message) bool {
		return m.Between(c.me, c.other)
	}); err != nil {
		c.messages.Close()
		return nil, fmt.Errorf("open conversation: %w", err)
	}
	if err := c.messages.Load(ctx, Between(me, other), 0); err != nil {
		c.messages.Close()
		return nil, fmt.Errorf("open conversation: %w", err)
	}

	c.logger.DebugContext(ctx, "Conversation opened",
		"user_id", me,
		"peer", other,
		"messages", c.messages.Len())
	return c, nil
}

// Between selects the messages exchanged by a and b in either direction.
func Between(a, b string) gateway.Filter {
	return gateway.Or(
		gateway.And(gateway.Eq("sender_id", a), gateway.Eq("receiver_id", b)),
		gateway.And(gateway.Eq("sender_id", b), gateway.Eq("receiver_id", a)),
	)
}

// Send writes a message to the peer. Unless the conversation is push-only
// the message is shown at once and reconciled with the pushed copy through
// its correlation token; a failed insert removes it again.
func (c *Conversation) Send(ctx context.Context, content string) (core.Message, error) {
	m := core.Message{
		SenderID:    c.me,
		ReceiverID:  c.other,
		Content:     strings.TrimSpace(content),
		ClientToken: c.token(),
		CreatedAt:   gateway.Now(),
	}
	if err := m.Validate(); err != nil {
		return core.Message{}, err
	}

	if c.optimistic {
		c.messages.ApplyLocalInsert(m)
	}
	row, err := c.gw.Insert(ctx, gateway.TableMessages, gateway.Row{
		"sender_id":    m.SenderID,
		"receiver_id":  m.ReceiverID,
		"content":      m.Content,
		"client_token": m.ClientToken,
		"created_at":   m.CreatedAt,
	})
	if err != nil {
		c.messages.Rollback(m.ClientToken)
		c.logger.WarnContext(ctx, "Message insert failed", "token", m.ClientToken, "error", err)
		return core.Message{}, fmt.Errorf("send message: %w: %w", ErrSendFailed, err)
	}

	sent, err := gateway.DecodeAs[core.Message](row)
	if err != nil {
		return m, nil
	}
	if c.optimistic {
		c.messages.Merge(sent)
	}
	return sent, nil
}

// Messages returns the conversation oldest first.
func (c *Conversation) Messages() []core.Message {
	return c.messages.Items()
}

func (c *Conversation) Changes() <-chan struct{} {
	return c.messages.Changes()
}

func (c *Conversation) Me() string   { return c.me }
func (c *Conversation) Peer() string { return c.other }

// Close releases the push channel. No message is applied after it returns.
func (c *Conversation) Close() error {
	return c.messages.Close()
}
