package chara

import "io"

// Encryptor encrypts snapshot content before it goes to the vault.
// Encryption uses the public key only; decryption requires unlocking the
// private key with a passphrase.
type Encryptor interface {
	// Setup generates a key pair and stores the private key protected by
	// passphrase. Called by `chara keys init`.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a DecryptionContext for
	// the session. A wrong passphrase is an error.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether snapshots will be encrypted. When false,
	// snapshots are stored in plaintext.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for the
// duration of a restore.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
