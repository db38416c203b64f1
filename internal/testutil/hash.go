package testutil

import (
	"crypto/sha256"
	"fmt"
)

// SHA256Hex is the content checksum the card service records for a file.
func SHA256Hex(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
