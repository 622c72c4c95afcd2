package testlib

import (
	"context"
	"testing"
)

func TestHashEmbedder(t *testing.T) {
	TestEmbedder(t, NewHashEmbedder(384))
}

func TestHashEmbedderDeterministic(t *testing.T) {
	emb := NewHashEmbedder(64)
	a, err := emb.GenerateEmbeddings(t.Context(), "same text")
	if err != nil {
		t.Fatal(err)
	}
	b, err := emb.GenerateEmbeddings(t.Context(), "Same, TEXT!")
	if err != nil {
		t.Fatal(err)
	}

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("component %d differs: %v != %v", i, a[i], b[i])
		}
	}
}

func TestHashEmbedderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := NewHashEmbedder(8).GenerateEmbeddings(ctx, "text"); err == nil {
		t.Error("expected error for canceled context")
	}
}
