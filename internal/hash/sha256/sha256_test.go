// Package sha256 includes tests for the SHA-256 hasher adapter.
package sha256

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New(0)
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	again, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

// TestHasherTruncates ensures the configured length is applied.
func TestHasherTruncates(t *testing.T) {
	t.Parallel()

	got, err := New(16).Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if got != "b94d27b9934d3e08" {
		t.Fatalf("unexpected truncated digest %s", got)
	}
}

// TestHasherHashJSON ensures structurally equal values share a digest.
func TestHasherHashJSON(t *testing.T) {
	t.Parallel()

	h := New(0)
	a, err := h.HashJSON(map[string]int{"id": 1})
	if err != nil {
		t.Fatalf("HashJSON() error = %v", err)
	}
	b, err := h.HashJSON(map[string]int{"id": 1})
	if err != nil {
		t.Fatalf("HashJSON() error = %v", err)
	}
	if a != b {
		t.Fatalf("expected equal digests, got %s vs %s", a, b)
	}
	if _, err := h.HashJSON(make(chan int)); err == nil {
		t.Fatal("expected marshal error for channel value")
	}
}
