package encryption

import (
	"errors"
	"fmt"
	"io"

	"chara-go/internal/chara"
)

// ErrEncryptionDisabled is returned by NoneEncryptor for key operations.
var ErrEncryptionDisabled = errors.New("snapshot encryption is disabled")

// NoneEncryptor stores snapshots in plaintext.
type NoneEncryptor struct{}

var _ chara.Encryptor = NoneEncryptor{}

func (NoneEncryptor) Setup(string) error {
	return ErrEncryptionDisabled
}

// Encrypt copies r to w unchanged.
func (NoneEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (NoneEncryptor) Unlock(string) (chara.DecryptionContext, error) {
	return nil, ErrEncryptionDisabled
}

func (NoneEncryptor) IsConfigured() bool {
	return false
}
