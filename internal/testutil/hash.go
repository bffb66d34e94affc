package testutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// ArchiveChecksum returns the vault address of an unencrypted pre-image: the
// lowercase hex sha256 of its raw bytes.
func ArchiveChecksum(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
