// Package fingerprint derives stable content keys for cached classification results.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidFingerprint is returned when a stored key is not a hex sha256 digest.
var ErrInvalidFingerprint = errors.New("invalid fingerprint")

// Size is the length of a fingerprint in hex characters.
const Size = sha256.Size * 2

// Of returns the SHA-256 hex digest of text. The text is hashed as-is: callers
// truncate before hashing so the key matches the payload sent upstream.
func Of(text string) string {
	sum := sha256.Sum256([]byte(text))

	return hex.EncodeToString(sum[:])
}

// Validate checks that key looks like a value produced by Of.
func Validate(key string) error {
	if len(key) != Size {
		return fmt.Errorf("%w: length %d", ErrInvalidFingerprint, len(key))
	}

	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFingerprint, err)
	}

	return nil
}
