// Package rand provides the random identifiers and handshake entropy used by
// the streaming core.
package rand

import (
	cryptoRand "crypto/rand"

	"github.com/google/uuid"
)

// Fill fills b with cryptographically-safe random data.
func Fill(b []byte) error {
	_, err := cryptoRand.Read(b)
	return err
}

// NewID returns a fresh UUID in string form (including hyphens), used for
// session and relay task identifiers.
func NewID() string {
	return uuid.NewString()
}
