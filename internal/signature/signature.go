// Package signature derives the stable identifiers used to exclude individual
// findings. Signatures are compatible with tartufo's exclude-signatures.
package signature

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2s"
)

// Separator joins the finding text and the relative path before hashing.
const Separator = "$$"

// Size is the length of a signature in hex characters.
const Size = blake2s.Size * 2

// Of returns the hex BLAKE2s-256 digest of text+Separator+relPath.
// relPath should use forward slashes so signatures are portable.
func Of(text, relPath string) string {
	sum := blake2s.Sum256([]byte(text + Separator + relPath))
	return hex.EncodeToString(sum[:])
}

// Valid reports whether s looks like a signature produced by Of.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
