package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// idPrefixLen is the number of hex characters kept from the digest: 64 bits
// of entropy, collision probability ~2.7e-8 at a million items.
const idPrefixLen = 16

// DateLayout is the normalized date representation fed into the digest, so
// two fetches of the same content on the same day agree on identity.
const DateLayout = "2006-01-02"

// GenerateID produces a stable content-addressed identifier in the form
// "{sourceType}:{prefix}". It is a pure function of its inputs: the same
// logical content yields the same ID across process restarts. Title emptiness
// is the caller's validation concern, not handled here.
func GenerateID(sourceType, title, date string) string {
	return sourceType + ":" + GenerateSourceID(title, date)
}

// GenerateSourceID returns just the content hash prefix, the source-local
// part of the identifier.
func GenerateSourceID(title, date string) string {
	normalized := normalizeTitle(title) + ":" + strings.TrimSpace(date)
	digest := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(digest[:])[:idPrefixLen]
}

// normalizeTitle trims, lowercases, NFC-normalizes and collapses internal
// whitespace so cosmetic variants of the same title hash identically.
func normalizeTitle(title string) string {
	t := norm.NFC.String(strings.TrimSpace(title))
	t = strings.ToLower(t)
	return strings.Join(strings.Fields(t), " ")
}
