// Package idgen allocates short collision-checked opaque identifiers for
// sessions and pages.
package idgen

import (
	"crypto/rand"
	"fmt"
)

const (
	length   = 8
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// maxAttempts bounds the retry loop so a pathologically full id space fails
// loudly instead of spinning forever; with 8 chars over a 62-symbol alphabet
// the space is ~218 trillion, so collisions this deep never happen in
// practice.
const maxAttempts = 100

// Existing reports whether id is already taken. Implementations must be
// safe to call while holding whatever lock guards the live-id set; Allocate
// does not lock on the caller's behalf.
type Existing func(id string) bool

// Allocate produces an 8-character alphanumeric id from a cryptographically
// seeded source, retrying on collision against existing. Collisions are
// invisible to callers: the contract is total as long as the space is not
// exhausted.
func Allocate(existing Existing) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := generate()
		if err != nil {
			return "", err
		}
		if existing == nil || !existing(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("idgen: exhausted %d attempts without a free id", maxAttempts)
}

func generate() (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("idgen: read entropy: %w", err)
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}
