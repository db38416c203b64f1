// Package migrations holds the library database schema and applies it with
// golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var schemaFiles embed.FS

// ErrUnversioned is returned by Check for a database no migration has run on.
var ErrUnversioned = errors.New("database has no schema version (needs migration)")

func openSource() (source.Driver, error) {
	src, err := iofs.New(schemaFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("reading schema files: %w", err)
	}
	return src, nil
}

// Latest returns the highest schema version embedded in the binary.
func Latest() (uint, error) {
	src, err := openSource()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			// os.ErrNotExist past the last file
			return v, nil
		}
		v = next
	}
}

// Check returns nil when db is at the latest schema version.
func Check(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	// m is not closed: that would close db, which the caller owns.

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return ErrUnversioned
	case err != nil:
		return fmt.Errorf("reading schema version: %w", err)
	case dirty:
		return fmt.Errorf("database is in dirty state at version %d (migration failed previously)", version)
	}

	latest, err := Latest()
	if err != nil {
		return fmt.Errorf("determining latest schema version: %w", err)
	}
	if version < latest {
		return fmt.Errorf("database is at version %d but latest is %d (%d migrations behind)",
			version, latest, latest-version)
	}
	if version > latest {
		return fmt.Errorf("database version %d is newer than this chara binary (%d); upgrade chara",
			version, latest)
	}
	return nil
}

// Up applies every pending migration. A database already at the latest
// version is left alone.
func Up(db *sql.DB) error {
	m, err := open(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func open(db *sql.DB) (*migrate.Migrate, error) {
	src, err := openSource()
	if err != nil {
		return nil, err
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}
