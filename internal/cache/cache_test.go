package cache

import (
	"testing"
	"time"
)

func TestInMemoryCacheRoundTrip(t *testing.T) {
	c := NewInMemoryCache()

	if _, _, ok := c.Get(t.Context(), "https://example.com/a.png"); ok {
		t.Fatal("empty cache must miss")
	}

	if err := c.Set(t.Context(), "https://example.com/a.png", []byte("pixels"), "image/png", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	data, contentType, ok := c.Get(t.Context(), "https://example.com/a.png")
	if !ok {
		t.Fatal("expected a hit")
	}
	if string(data) != "pixels" || contentType != "image/png" {
		t.Errorf("got %q %q", data, contentType)
	}
}

func TestInMemoryCacheExpiry(t *testing.T) {
	c := NewInMemoryCache()

	if err := c.Set(t.Context(), "u", []byte("x"), "text/plain", 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, _, ok := c.Get(t.Context(), "u"); ok {
		t.Error("expired entries must miss")
	}
}
