package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chara-go/internal/chara"
	"chara-go/internal/database/migrations"
	"chara-go/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements the Database interface using SQLite.
type SQLiteDatabase struct {
	db    *sql.DB
	path  string
	clock chara.Clock
}

// NewSQLiteDatabase opens a SQLite database. path can be a file path or
// ":memory:". A nil clock uses the real time.
func NewSQLiteDatabase(path string, clock chara.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteDatabaseFromDB(db, path, clock), nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already configured connection.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string, clock chara.Clock) *SQLiteDatabase {
	if clock == nil {
		clock = chara.UTCClock
	}
	return &SQLiteDatabase{
		db:    db,
		path:  path,
		clock: clock,
	}
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database exists per connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Library operations

const libraryColumns = "id, path, name, tags, tokens, checksum, status, scanned_at"

func (s *SQLiteDatabase) UpsertLibraryCard(card *model.LibraryCard) error {
	tags, err := json.Marshal(nonNilTags(card.Tags))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}

	var id string
	err = s.db.QueryRow(`
		INSERT INTO library_cards (`+libraryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			tags = excluded.tags,
			tokens = excluded.tokens,
			checksum = excluded.checksum,
			status = excluded.status,
			scanned_at = excluded.scanned_at
		RETURNING id`,
		card.ID, card.Path, card.Name, string(tags), card.Tokens, card.Checksum, card.Status, card.ScannedAt,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("upserting library card: %w", err)
	}
	card.ID = id
	return nil
}

func (s *SQLiteDatabase) FindLibraryCard(path string) (*model.LibraryCard, error) {
	row := s.db.QueryRow("SELECT "+libraryColumns+" FROM library_cards WHERE path = ?", path)
	card, err := scanLibraryCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding library card: %w", err)
	}
	return card, nil
}

func (s *SQLiteDatabase) ListLibraryCards(dirPrefix string) ([]*model.LibraryCard, error) {
	query := "SELECT " + libraryColumns + " FROM library_cards"
	var args []any
	if dirPrefix != "" {
		query += ` WHERE path LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(strings.TrimSuffix(dirPrefix, "/"))+"/%")
	}
	query += " ORDER BY path"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing library cards: %w", err)
	}
	defer rows.Close()

	var cards []*model.LibraryCard
	for rows.Next() {
		card, err := scanLibraryCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning library card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing library cards: %w", err)
	}
	return cards, nil
}

func (s *SQLiteDatabase) DeleteLibraryCard(path string) error {
	if _, err := s.db.Exec("DELETE FROM library_cards WHERE path = ?", path); err != nil {
		return fmt.Errorf("deleting library card: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLibraryCard(r rowScanner) (*model.LibraryCard, error) {
	var card model.LibraryCard
	var tags string
	if err := r.Scan(&card.ID, &card.Path, &card.Name, &tags, &card.Tokens, &card.Checksum, &card.Status, &card.ScannedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &card.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of %s: %w", card.Path, err)
	}
	card.Tags = nonNilTags(card.Tags)
	return &card, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// escapeLike escapes the LIKE wildcards of s for use with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Content operations

func (s *SQLiteDatabase) CreateContent(checksum string, encryptedID string) (*model.Content, error) {
	content := &model.Content{
		ID:                 checksum,
		EncryptedContentID: sql.NullString{String: encryptedID, Valid: encryptedID != ""},
		CreatedAt:          s.clock.Now(),
	}
	_, err := s.db.Exec("INSERT INTO contents (id, encrypted_content_id, created_at) VALUES (?, ?, ?)",
		content.ID, content.EncryptedContentID, content.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating content: %w", err)
	}
	return content, nil
}

func (s *SQLiteDatabase) FindContentByChecksum(checksum string) (*model.Content, error) {
	var content model.Content
	err := s.db.QueryRow("SELECT id, encrypted_content_id, created_at FROM contents WHERE id = ?", checksum).
		Scan(&content.ID, &content.EncryptedContentID, &content.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding content by checksum: %w", err)
	}
	return &content, nil
}

// Snapshot operations

const snapshotColumns = "id, card_path, content_id, size, created_at"

func (s *SQLiteDatabase) CreateSnapshot(snapshot *model.Snapshot) error {
	_, err := s.db.Exec("INSERT INTO snapshots ("+snapshotColumns+") VALUES (?, ?, ?, ?, ?)",
		snapshot.ID, snapshot.CardPath, snapshot.ContentID, snapshot.Size, snapshot.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindSnapshotsForPath(cardPath string) ([]*model.Snapshot, error) {
	rows, err := s.db.Query("SELECT "+snapshotColumns+" FROM snapshots WHERE card_path = ? ORDER BY created_at, rowid", cardPath)
	if err != nil {
		return nil, fmt.Errorf("finding snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*model.Snapshot
	for rows.Next() {
		var snap model.Snapshot
		if err := rows.Scan(&snap.ID, &snap.CardPath, &snap.ContentID, &snap.Size, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snapshots = append(snapshots, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finding snapshots: %w", err)
	}
	return snapshots, nil
}

func (s *SQLiteDatabase) FindSnapshotByChecksum(cardPath string, checksum string) (*model.Snapshot, error) {
	var snap model.Snapshot
	err := s.db.QueryRow(`
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE card_path = ? AND content_id LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`,
		cardPath, escapeLike(checksum)+"%",
	).Scan(&snap.ID, &snap.CardPath, &snap.ContentID, &snap.Size, &snap.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding snapshot by checksum: %w", err)
	}
	return &snap, nil
}

// Operation tracking

func (s *SQLiteDatabase) CreateOperation(operation string, parameters string) (*model.Operation, error) {
	op := &model.Operation{
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  s.clock.Now(),
		Status:     "running",
	}
	res, err := s.db.Exec("INSERT INTO operations (operation, parameters, started_at, status) VALUES (?, ?, ?, ?)",
		op.Operation, op.Parameters, op.StartedAt, op.Status)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("reading operation ID: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	_, err := s.db.Exec("UPDATE operations SET finished_at = ?, status = ? WHERE id = ?", s.clock.Now(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(limit int) ([]*model.Operation, error) {
	rows, err := s.db.Query(`
		SELECT id, operation, parameters, started_at, finished_at, status
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	ops := []*model.Operation{}
	for rows.Next() {
		var op model.Operation
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &op.FinishedAt, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

func (s *SQLiteDatabase) MaxOperationID() (int64, error) {
	var id int64
	if err := s.db.QueryRow("SELECT COALESCE(MAX(id), 0) FROM operations").Scan(&id); err != nil {
		return 0, fmt.Errorf("getting max operation ID: %w", err)
	}
	return id, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate applies pending schema migrations.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.Up(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.Check(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ chara.Database = (*SQLiteDatabase)(nil)
