package testutil

import (
	"chara-go/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVault("test-vault")
}
