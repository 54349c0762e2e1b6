// Package ids provides ID generation and the legacy integer key mapping.
package ids

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Generator creates UUID strings for jobs and datasets.
type Generator struct{}

// NewGenerator creates a Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// legacyPrefix marks UUID-shaped strings that encode a legacy integer key.
// The 12 hex digits after it hold the zero-padded integer, so two distinct
// integers can never collide and the mapping is reversible.
const legacyPrefix = "00000000-0000-4000-8000-"

// FromLegacy maps a legacy integer primary key onto a UUID-shaped string so
// result rows keyed by old integer tables share one key type with native
// UUID rows. The transform is purely cosmetic and carries no semantics.
func FromLegacy(id int64) (string, error) {
	if id < 0 {
		return "", fmt.Errorf("legacy id must be non-negative, got %d", id)
	}
	return fmt.Sprintf("%s%012x", legacyPrefix, id), nil
}

// ToLegacy reverses FromLegacy. It returns an error if the input was not
// produced by FromLegacy.
func ToLegacy(id string) (int64, error) {
	lower := strings.ToLower(strings.TrimSpace(id))
	if !strings.HasPrefix(lower, legacyPrefix) {
		return 0, fmt.Errorf("id %q is not a legacy-mapped uuid", id)
	}
	hexPart := strings.TrimPrefix(lower, legacyPrefix)
	if len(hexPart) != 12 {
		return 0, fmt.Errorf("id %q has malformed legacy suffix", id)
	}
	n, err := strconv.ParseInt(hexPart, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("decode legacy suffix: %w", err)
	}
	return n, nil
}

// IsLegacy reports whether the id encodes a legacy integer key.
func IsLegacy(id string) bool {
	_, err := ToLegacy(id)
	return err == nil
}
