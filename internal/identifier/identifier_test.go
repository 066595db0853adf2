package identifier

import (
	"context"
	"strings"
	"testing"
)

func TestRandom_LengthAndAlphabet(t *testing.T) {
	g := New(6)

	for i := 0; i < 100; i++ {
		id := g.Random()
		if len(id) != 6 {
			t.Fatalf("Expected length 6, got %d (%s)", len(id), id)
		}
		for _, r := range id {
			if !strings.ContainsRune(alphabet, r) {
				t.Fatalf("Unexpected character %q in %s", r, id)
			}
		}
	}
}

func TestNew_NonPositiveLengthFallsBack(t *testing.T) {
	g := New(0)
	if got := len(g.Random()); got != DefaultLength {
		t.Errorf("Expected default length %d, got %d", DefaultLength, got)
	}
}

func TestGenerate_RetriesOnCollision(t *testing.T) {
	g := New(6)

	collisions := 3
	exists := func(ctx context.Context, id string) (bool, error) {
		if collisions > 0 {
			collisions--
			return true, nil
		}
		return false, nil
	}

	id, err := g.Generate(context.Background(), exists)
	if err != nil {
		t.Fatalf("Expected generation to succeed after retries: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a non-empty identifier")
	}
	if collisions != 0 {
		t.Errorf("Expected all collisions consumed, %d left", collisions)
	}
}

func TestGenerate_GivesUpWhenSpaceExhausted(t *testing.T) {
	g := New(4)

	exists := func(ctx context.Context, id string) (bool, error) {
		return true, nil
	}

	if _, err := g.Generate(context.Background(), exists); err == nil {
		t.Fatal("Expected an error when every candidate collides")
	}
}
