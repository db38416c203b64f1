package chara

import "chara-go/internal/model"

// Database stores the library index, snapshot records and the operation
// history.
type Database interface {
	// Library operations

	// UpsertLibraryCard inserts or replaces the row for card.Path. A new row
	// keeps card.ID; an existing row keeps its own.
	UpsertLibraryCard(card *model.LibraryCard) error

	// FindLibraryCard returns the row for path, or nil.
	FindLibraryCard(path string) (*model.LibraryCard, error)

	// ListLibraryCards returns the rows whose path lies under dirPrefix
	// (every row when empty), ordered by path.
	ListLibraryCards(dirPrefix string) ([]*model.LibraryCard, error)

	// DeleteLibraryCard removes the row for path. Missing rows are not an error.
	DeleteLibraryCard(path string) error

	// Content and snapshot operations

	// CreateContent records that content with the checksum is in the vault.
	// encryptedID is the vault key of the ciphertext, or "" when stored in
	// plaintext.
	CreateContent(checksum string, encryptedID string) (*model.Content, error)

	// FindContentByChecksum returns content metadata, or nil.
	FindContentByChecksum(checksum string) (*model.Content, error)

	// CreateSnapshot records a snapshot row.
	CreateSnapshot(snapshot *model.Snapshot) error

	// FindSnapshotsForPath returns the snapshots of a card, oldest first.
	FindSnapshotsForPath(cardPath string) ([]*model.Snapshot, error)

	// FindSnapshotByChecksum returns the newest snapshot of a card whose
	// content checksum starts with checksum, or nil.
	FindSnapshotByChecksum(cardPath string, checksum string) (*model.Snapshot, error)

	// Operation tracking

	CreateOperation(operation string, parameters string) (*model.Operation, error)
	FinishOperation(id int64, status string) error

	// ListOperations returns the most recent operations, newest first.
	ListOperations(limit int) ([]*model.Operation, error)

	// MaxOperationID returns the highest operation ID, or 0.
	MaxOperationID() (int64, error)

	// CheckMigrations verifies the schema is up to date.
	CheckMigrations() error

	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(destPath string) error

	Close() error
}
