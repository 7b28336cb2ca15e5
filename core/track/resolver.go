package track

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// TrackIDPrefix namespaces every track identifier. The ID doubles as a
// filesystem path component and an asset namespace key, so it must stay
// free of path separators and stable across runs.
const TrackIDPrefix = "cfm_"

// trackIDHashLen is the number of hex characters kept from the hash.
const trackIDHashLen = 16

// ErrUnsupportedInput is returned for an empty or blank source URL.
var ErrUnsupportedInput = errors.New("unsupported source input")

// Resolve maps a source URL to its stable track identifier.
// Identical URLs always yield identical IDs; collisions between distinct
// URLs are astronomically unlikely with a truncated sha256 and are not
// defended against.
func Resolve(sourceURL string) (string, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return "", ErrUnsupportedInput
	}

	sum := sha256.Sum256([]byte(sourceURL))
	return TrackIDPrefix + hex.EncodeToString(sum[:])[:trackIDHashLen], nil
}
