package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chitieu/internal/gateway"
)

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "")

	if err := s.PutObject(context.Background(), "receipts", "u1/7/scan.png", []byte("png")); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "receipts", "u1", "7", "scan.png"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "png" {
		t.Fatalf("stored %q", got)
	}

	// Overwrite keeps a single object.
	if err := s.PutObject(context.Background(), "receipts", "u1/7/scan.png", []byte("v2")); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "receipts", "u1", "7"))
	if len(entries) != 1 {
		t.Fatalf("expected one file, got %d", len(entries))
	}
}

func TestPutObjectRejectsEscapingKeys(t *testing.T) {
	s := New(t.TempDir(), "")
	tests := []struct {
		name   string
		bucket string
		key    string
	}{
		{"parent", "receipts", "../../etc/passwd"},
		{"bucket only", "receipts", ".."},
		{"empty key", "receipts", ""},
		{"empty bucket", "", "a.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.PutObject(context.Background(), tt.bucket, tt.key, []byte("x"))
			if !errors.Is(err, gateway.ErrStorage) {
				t.Fatalf("expected ErrStorage, got %v", err)
			}
		})
	}
}

func TestPutObjectCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(t.TempDir(), "").PutObject(ctx, "receipts", "a.png", nil)
	if !errors.Is(err, gateway.ErrStorage) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected a canceled storage error, got %v", err)
	}
}

func TestPublicURL(t *testing.T) {
	withBase := New("/srv/objects", "https://cdn.example.com/files/")
	if got := withBase.PublicURL("receipts", "u1/7/scan.png"); got != "https://cdn.example.com/files/receipts/u1/7/scan.png" {
		t.Fatalf("PublicURL = %q", got)
	}

	dir := t.TempDir()
	got := New(dir, "").PublicURL("receipts", "u1/scan.png")
	if !strings.HasPrefix(got, "file://") || !strings.HasSuffix(got, "/receipts/u1/scan.png") {
		t.Fatalf("PublicURL = %q", got)
	}
}
