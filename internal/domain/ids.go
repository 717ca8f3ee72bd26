package domain

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns prefix + "_" + 16 hex characters, e.g. "chunk_1f0c9a...".
func NewID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + hex[:16]
}
