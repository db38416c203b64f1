package chara

import "io"

// Vault stores snapshot content and per-host metadata. Operations stream
// through io.Reader/io.Writer.
type Vault interface {
	// PutContent stores content identified by its checksum. Storing the same
	// checksum twice is safe. size is the number of bytes read from r.
	PutContent(checksum string, r io.Reader, size int64) error

	// GetContent retrieves content by checksum and writes it to w.
	GetContent(checksum string, w io.Writer) error

	// HasContent reports whether content with the checksum is stored.
	HasContent(checksum string) (bool, error)

	// PutMetadata stores a named metadata item for a host. version is
	// stored alongside for consistency checks. The library database is
	// stored under the name "db".
	PutMetadata(hostID string, name string, r io.Reader, size int64, version int64) error

	// GetMetadata retrieves a named metadata item for a host and writes it to w.
	GetMetadata(hostID string, name string, w io.Writer) error

	// GetMetadataVersion returns the stored version of a metadata item, or 0
	// when nothing has been stored.
	GetMetadataVersion(hostID string, name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible.
	ValidateSetup() error
}
