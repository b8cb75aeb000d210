// Package ids generates and checks principal identifiers.
package ids

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a 26-char ULID stamped with now. IDs minted within the
// same millisecond still sort in creation order.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now()
	}
	id, err := ulid.New(ulid.Timestamp(now.UTC()), ulid.DefaultEntropy())
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Valid reports whether s is a canonical ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
