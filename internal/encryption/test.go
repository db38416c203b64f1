package encryption

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"chara-go/internal/chara"
)

// testHeader marks data produced by TestEncryptor.
var testHeader = []byte("CHARAENC")

// testMask is XORed into every payload byte so ciphertext never equals
// the plaintext, even for data that happens to start with the header.
const testMask = 0x5a

// TestEncryptor backs the "test" encryption type: deterministic, keyless
// and reversible. Output is testHeader followed by the masked input.
type TestEncryptor struct {
	passphrase *string // set by Setup
}

var (
	_ chara.Encryptor         = (*TestEncryptor)(nil)
	_ chara.DecryptionContext = (*TestDecryptionContext)(nil)
)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = &passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	return mask(r, w)
}

// Unlock accepts any passphrase before Setup, and afterwards only the one
// given to Setup.
func (e *TestEncryptor) Unlock(passphrase string) (chara.DecryptionContext, error) {
	if e.passphrase != nil && *e.passphrase != passphrase {
		return nil, errors.New("wrong passphrase")
	}
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

// TestDecryptionContext reverses TestEncryptor.Encrypt.
type TestDecryptionContext struct{}

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(br, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return errors.New("not produced by the test encryptor")
	}
	return mask(br, w)
}

func mask(r io.Reader, w io.Writer) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		for i := range buf[:n] {
			buf[i] ^= testMask
		}
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing data: %w", werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading data: %w", err)
		}
	}
}
