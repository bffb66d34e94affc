package testutil

import (
	"svpatch/internal/encryption"
	"svpatch/internal/patch"
)

// NewTestEncryptor creates a reversible, keyless encryptor for tests.
func NewTestEncryptor() patch.Encryptor {
	return encryption.NewTestEncryptor()
}
