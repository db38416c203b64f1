package model

import (
	"database/sql"
	"time"
)

// Library card statuses recorded by a scan.
const (
	StatusOK      = "ok"
	StatusEmpty   = "empty"   // valid PNG without card metadata
	StatusCorrupt = "corrupt" // card metadata present but undecodable
	StatusInvalid = "invalid" // not a PNG stream
)

// LibraryCard is the index row for one card image in the library directory.
type LibraryCard struct {
	ID        string // UUID
	Path      string // Absolute path on host
	Name      string
	Tags      []string
	Tokens    int
	Checksum  string // SHA-256 of the file bytes
	Status    string
	ScannedAt time.Time
}

// Content records a card image stored in the vault.
// The ID is the SHA-256 checksum of the plaintext bytes.
type Content struct {
	ID                 string
	EncryptedContentID sql.NullString // checksum of the ciphertext, when encrypted
	CreatedAt          time.Time
}

// Snapshot is a previous version of a card file, taken before it was
// overwritten.
type Snapshot struct {
	ID        string // UUID
	CardPath  string
	ContentID string // Foreign key to Content
	Size      int64
	CreatedAt time.Time
}

// Operation is one recorded CLI command that changed cards or the library.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string
}
