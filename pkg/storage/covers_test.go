package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCoverKey(t *testing.T) {
	at := time.Unix(0, 1700000000000000000)
	if got := CoverKey(12, "image/png", at); got != "covers/12/1700000000000000000.png" {
		t.Fatalf("cover key = %q", got)
	}
	if got := CoverKey(12, "application/pdf", at); !strings.HasSuffix(got, ".bin") {
		t.Fatalf("unsupported type should fall back to .bin, got %q", got)
	}
	if _, ok := CoverExtension("text/plain"); ok {
		t.Fatalf("text/plain must not be a cover type")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("http://covers.local")
	if _, err := s.PresignGet(ctx, "missing", time.Minute); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if err := s.Put(ctx, "covers/1/a.png", strings.NewReader("png"), 3, "image/png"); err != nil {
		t.Fatalf("put: %v", err)
	}
	url, err := s.PresignGet(ctx, "covers/1/a.png", time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(url, "http://covers.local/") || !strings.Contains(url, "expires=60") {
		t.Fatalf("unexpected url %q", url)
	}
	data, ct, ok := s.Object("covers/1/a.png")
	if !ok || string(data) != "png" || ct != "image/png" {
		t.Fatalf("unexpected object %q %q %v", data, ct, ok)
	}
	if err := s.Delete(ctx, "covers/1/a.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, ok := s.Object("covers/1/a.png"); ok {
		t.Fatalf("object should be gone")
	}
}
