package amqp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"chitieu/internal/gateway"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // capped at 30s
		{10, 30 * time.Second}, // capped at 30s
		{64, 30 * time.Second}, // capped at 30s
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			result := exponentialBackoff(tt.attempt)
			if result != tt.expected {
				t.Errorf("exponentialBackoff(%d) = %v, want %v", tt.attempt, result, tt.expected)
			}
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection error", errors.New("connection refused"), true},
		{"closed connection error", errors.New("connection closed"), true},
		{"EOF error", errors.New("unexpected EOF"), true},
		{"broken pipe error", errors.New("broken pipe"), true},
		{"closed network connection error", errors.New("use of closed network connection"), true},
		{"amqp closed", fmt.Errorf("publish: %w", amqp091.ErrClosed), true},
		{"other error", errors.New("some other error"), false},
		{"validation error", errors.New("invalid input"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isConnectionError(tt.err)
			if result != tt.expected {
				t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestClient_CircuitBreaker(t *testing.T) {
	client := &Client{exchangeName: "test_exchange", origin: "me"}

	t.Run("initial state is closed", func(t *testing.T) {
		if client.isCircuitOpen() {
			t.Error("Circuit breaker should be closed initially")
		}
	})

	t.Run("record success resets state", func(t *testing.T) {
		atomic.StoreInt64(&client.failureCount, 3)
		atomic.StoreInt32(&client.state, StateOpen)

		client.recordSuccess()

		if client.isCircuitOpen() {
			t.Error("Circuit breaker should be closed after success")
		}
		if atomic.LoadInt64(&client.failureCount) != 0 {
			t.Error("Failure count should be reset to 0 after success")
		}
	})

	t.Run("multiple failures open circuit", func(t *testing.T) {
		atomic.StoreInt64(&client.failureCount, 0)
		atomic.StoreInt32(&client.state, StateClosed)

		for i := 0; i < maxFailures; i++ {
			client.recordFailure()
		}

		if !client.isCircuitOpen() {
			t.Error("Circuit breaker should be open after max failures")
		}
	})

	t.Run("circuit transitions to half-open after timeout", func(t *testing.T) {
		atomic.StoreInt32(&client.state, StateOpen)
		client.lastFailure = time.Now().Add(-openTimeout - time.Second)

		if client.isCircuitOpen() {
			t.Error("Circuit should transition to half-open after timeout")
		}
		if atomic.LoadInt32(&client.state) != StateHalfOpen {
			t.Error("State should be StateHalfOpen after timeout")
		}
	})

	t.Run("failure while half-open reopens", func(t *testing.T) {
		atomic.StoreInt64(&client.failureCount, 0)
		atomic.StoreInt32(&client.state, StateHalfOpen)

		client.recordFailure()

		if atomic.LoadInt32(&client.state) != StateOpen {
			t.Error("A half-open failure should reopen the circuit")
		}
	})
}

func TestClient_Publish(t *testing.T) {
	ev := gateway.Event{Table: gateway.TableExpenses, Kind: gateway.EventInsert, Row: gateway.Row{"id": int64(1)}}

	t.Run("fails when circuit is open", func(t *testing.T) {
		client := &Client{exchangeName: "test_exchange"}
		atomic.StoreInt32(&client.state, StateOpen)
		client.lastFailure = time.Now()

		err := client.Publish(context.Background(), ev)
		if !errors.Is(err, ErrCircuitOpen) {
			t.Errorf("expected ErrCircuitOpen, got %v", err)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		client := &Client{exchangeName: "test_exchange"}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := client.Publish(ctx, ev); err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("fails without a channel", func(t *testing.T) {
		client := &Client{exchangeName: "test_exchange"}
		err := client.Publish(context.Background(), ev)
		if !errors.Is(err, amqp091.ErrClosed) {
			t.Errorf("expected amqp091.ErrClosed, got %v", err)
		}
		if atomic.LoadInt64(&client.failureCount) != 1 {
			t.Error("A missing channel should count as a failure")
		}
	})
}

type fakeAck struct {
	acks, nacks int
	requeued    bool
}

func (a *fakeAck) Ack(uint64, bool) error { a.acks++; return nil }
func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeued = requeue
	return nil
}
func (a *fakeAck) Reject(uint64, bool) error { return nil }

type sinkFunc func(gateway.Event)

func (f sinkFunc) Publish(ev gateway.Event) { f(ev) }

func TestClient_Handle(t *testing.T) {
	client := &Client{origin: "me", logger: discardLogger()}

	own, _ := NewChangeMessage("me", gateway.Event{Table: gateway.TableMessages, Kind: gateway.EventInsert, Row: gateway.Row{"id": "m1"}}).ToJSON()
	foreign, _ := NewChangeMessage("other", gateway.Event{Table: gateway.TableMessages, Kind: gateway.EventInsert, Row: gateway.Row{"id": "m2"}}).ToJSON()

	tests := []struct {
		name      string
		body      []byte
		wantEvent string
		wantAck   int
		wantNack  int
	}{
		{"foreign change is injected", foreign, "m2", 1, 0},
		{"own change is skipped", own, "", 1, 0},
		{"malformed message is dropped", []byte(`{"table":`), "", 0, 1},
		{"unknown table is dropped", []byte(`{"origin":"x","table":"nope","kind":"INSERT","row":{}}`), "", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAck{}
			var got []gateway.Event
			client.handle(context.Background(), amqp091.Delivery{Acknowledger: ack, Body: tt.body}, sinkFunc(func(ev gateway.Event) {
				got = append(got, ev)
			}))

			if ack.acks != tt.wantAck || ack.nacks != tt.wantNack {
				t.Fatalf("acks/nacks = %d/%d, want %d/%d", ack.acks, ack.nacks, tt.wantAck, tt.wantNack)
			}
			if ack.requeued {
				t.Fatal("malformed messages must not be requeued")
			}
			if tt.wantEvent == "" {
				if len(got) != 0 {
					t.Fatalf("unexpected events %v", got)
				}
				return
			}
			if len(got) != 1 || got[0].Row["id"] != tt.wantEvent {
				t.Fatalf("got %v, want event %s", got, tt.wantEvent)
			}
		})
	}
}

func TestChangeMessageNumbers(t *testing.T) {
	created := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	msg := NewChangeMessage("o1", gateway.Event{
		Table: gateway.TableExpenses,
		Kind:  gateway.EventUpdate,
		Row: gateway.Row{
			"id":         int64(7),
			"amount":     int64(30000),
			"ratio":      0.5,
			"note":       "lunch",
			"created_at": created,
		},
	})
	data, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	parsed, err := ChangeMessageFromJSON(data)
	if err != nil {
		t.Fatalf("ChangeMessageFromJSON: %v", err)
	}
	ev := parsed.Event()
	if ev.Kind != gateway.EventUpdate || ev.Table != gateway.TableExpenses {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Row["id"] != int64(7) || ev.Row["amount"] != int64(30000) || ev.Row["ratio"] != 0.5 {
		t.Fatalf("numbers not restored: %v", ev.Row)
	}

	var decoded struct {
		CreatedAt time.Time `row:"created_at"`
	}
	if err := gateway.Decode(ev.Row, &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !decoded.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %v, want %v", decoded.CreatedAt, created)
	}
}

func TestChangeMessageValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad kind", `{"table":"expenses","kind":"UPSERT","row":{}}`},
		{"missing row", `{"table":"expenses","kind":"INSERT"}`},
		{"not json", `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ChangeMessageFromJSON([]byte(tt.body))
			if !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("expected ErrMalformedMessage, got %v", err)
			}
			if !strings.Contains(err.Error(), "malformed") {
				t.Fatalf("unexpected message %q", err)
			}
		})
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
