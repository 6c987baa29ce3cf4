// Package contenthash derives the deduplication key of a memory.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/Dannytownkins/Ember-sub000/internal/model"
)

// Length is the number of hex characters kept from the digest.
const Length = 16

// Normalize lowercases, trims and collapses whitespace runs to one space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Hash returns the content hash for factual content in a category.
func Hash(factualContent string, category model.Category) string {
	sum := sha256.Sum256([]byte(Normalize(factualContent) + "|" + string(category)))
	return hex.EncodeToString(sum[:])[:Length]
}
