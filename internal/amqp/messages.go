package amqp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chitieu/internal/gateway"
)

var ErrMalformedMessage = errors.New("malformed change message")

// ChangeMessage carries one committed row change between processes sharing
// a backend. Origin identifies the publishing relay so it can skip its own
// messages.
type ChangeMessage struct {
	Origin    string            `json:"origin"`
	Table     string            `json:"table"`
	Kind      gateway.EventKind `json:"kind"`
	Row       gateway.Row       `json:"row"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewChangeMessage wraps ev for publishing
func NewChangeMessage(origin string, ev gateway.Event) *ChangeMessage {
	return &ChangeMessage{
		Origin:    origin,
		Table:     ev.Table,
		Kind:      ev.Kind,
		Row:       ev.Row,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Event returns the change as a gateway event.
func (m *ChangeMessage) Event() gateway.Event {
	return gateway.Event{Table: m.Table, Kind: m.Kind, Row: m.Row}
}

// ChangeMessageFromJSON parses and validates a message. Integral numbers come
// back as int64 so keys compare equal to the ones the gateway hands out.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var msg ChangeMessage
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if _, err := gateway.Lookup(msg.Table); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	switch msg.Kind {
	case gateway.EventInsert, gateway.EventUpdate, gateway.EventDelete:
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, msg.Kind)
	}
	if msg.Row == nil {
		return nil, fmt.Errorf("%w: missing row", ErrMalformedMessage)
	}
	for k, v := range msg.Row {
		if n, ok := v.(json.Number); ok {
			msg.Row[k] = number(n)
		}
	}
	return &msg, nil
}

func number(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
