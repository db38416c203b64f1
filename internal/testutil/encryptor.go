package testutil

import (
	"chara-go/internal/encryption"
)

// NewTestEncryptor returns the deterministic header-based encryptor.
func NewTestEncryptor() *encryption.TestEncryptor {
	return encryption.NewTestEncryptor()
}

// NewPlainEncryptor returns an encryptor that leaves snapshots unencrypted.
func NewPlainEncryptor() encryption.NoneEncryptor {
	return encryption.NoneEncryptor{}
}
