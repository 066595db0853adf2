package identifier

import (
	"context"
	"fmt"
	"math/rand"
)

const (
	// DefaultLength is the length of generated identifiers.
	DefaultLength = 6

	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// maxAttempts bounds regeneration when the identifier space is crowded.
	maxAttempts = 25
)

// ExistsFunc reports whether an identifier is already taken.
type ExistsFunc func(ctx context.Context, identifier string) (bool, error)

// Generator mints short random alphanumeric identifiers, regenerating on
// collision.
type Generator struct {
	length int
}

// New creates a generator producing identifiers of the given length.
// Non-positive lengths fall back to DefaultLength.
func New(length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{length: length}
}

// Random returns a random identifier without any collision check.
func (g *Generator) Random() string {
	b := make([]byte, g.length)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

// Generate returns a random identifier that exists reports as free.
func (g *Generator) Generate(ctx context.Context, exists ExistsFunc) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate := g.Random()

		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("identifier collision check: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("identifier space exhausted after %d attempts", maxAttempts)
}
