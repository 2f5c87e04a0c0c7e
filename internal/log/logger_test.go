package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNewFormats(t *testing.T) {
	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{FormatText, func(t *testing.T, out string) {
			if !strings.Contains(out, "component=ledger") {
				t.Errorf("expected component in text output, got %q", out)
			}
		}},
		{FormatJSON, func(t *testing.T, out string) {
			var m map[string]any
			if err := json.Unmarshal([]byte(out), &m); err != nil {
				t.Fatalf("json output: %v", err)
			}
			if m[FieldComponent] != "ledger" {
				t.Errorf("component = %v", m[FieldComponent])
			}
		}},
		{FormatConsole, func(t *testing.T, out string) {
			if !strings.Contains(out, "Recorded entry") {
				t.Errorf("expected message in console output, got %q", out)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			l := New(Config{Level: slog.LevelInfo, Component: ComponentLedger, Format: tt.format, Writer: &buf})
			l.Info("Recorded entry", FieldAmount, 30000)
			tt.check(t, strings.TrimSpace(buf.String()))
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: ParseLevel("warn"), Format: FormatText, Writer: &buf})
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	l := New(DefaultConfig()).WithComponent(ComponentChat)
	ctx := NewContext(context.Background(), l)
	if got := FromContext(ctx); got.Component() != ComponentChat {
		t.Fatalf("component = %q", got.Component())
	}
	if got := FromContext(context.Background()); got.Component() != "unknown" {
		t.Fatalf("fallback component = %q", got.Component())
	}
}

func TestLogFields(t *testing.T) {
	f := NewFields().WithComponent(ComponentLedger).WithOperation(OpRecord).WithError(errors.New("boom")).WithEntry(1, 500, "")
	if f[FieldError] != "boom" || f[FieldCategoryID] != int64(1) {
		t.Fatalf("unexpected fields %v", f)
	}
	if _, ok := f[FieldToken]; ok {
		t.Fatal("empty token should be omitted")
	}
	if len(f.ToSlice()) != 2*len(f) {
		t.Fatalf("ToSlice length mismatch")
	}
}
