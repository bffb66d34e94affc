package encryption

import (
	"fmt"

	"svpatch/internal/config"
	"svpatch/internal/patch"
)

// NewEncryptorFromConfig creates the encryptor for archived pre-images. Type
// "none" (or empty) stores pre-images in plaintext and returns a nil Encryptor.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (patch.Encryptor, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "age":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
