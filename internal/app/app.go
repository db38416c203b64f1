package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chara-go/internal/card"
	"chara-go/internal/chara"
	"chara-go/internal/config"
	"chara-go/internal/database"
	"chara-go/internal/encryption"
	"chara-go/internal/fs"
	"chara-go/internal/model"
	"chara-go/internal/pngmeta"
	"chara-go/internal/vault"
)

// CharaApp is the application layer between the CLI and CardService.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and manages the DB lifecycle on Close.
type CharaApp struct {
	cfg       *config.Config
	db        chara.Database
	vault     chara.Vault
	fsmgr     chara.FilesystemManager
	encryptor chara.Encryptor
	service   *chara.CardService
	op        *Operation
	logFile   *os.File
}

// NewCharaApp creates a fully wired CharaApp from the given config.
// operation identifies the CLI command being run (e.g. "set", "library scan")
// and parameters its arguments. The caller must call Close when done.
func NewCharaApp(cfg *config.Config, operation, parameters string) (*CharaApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fsmgr := fs.NewOSFilesystemManager(cfg.Library.Ignore, filepath.Join(cfg.BaseDir, "locks"))

	v, err := vault.NewVaultFromConfig(cfg.Vaults[0])
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	// A newer copy of the database in the vault means another run was
	// recorded there that this host never saw.
	remoteVersion, err := v.GetMetadataVersion(cfg.HostID, "db")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking remote metadata version: %w", err)
	}

	localMax, err := db.MaxOperationID()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking local metadata version: %w", err)
	}

	if remoteVersion > localMax {
		db.Close()
		return nil, fmt.Errorf("local database is behind vault copy (local=%d, remote=%d)", localMax, remoteVersion)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	opts := chara.Options{
		CharsPerToken:     cfg.Library.CharsPerToken,
		MaxImageDimension: cfg.Images.MaxDimension,
	}
	svc := chara.NewCardService(db, v, fsmgr, enc, logger, chara.UTCClock, chara.RandomIDs, opts)

	return &CharaApp{
		cfg:       cfg,
		db:        db,
		vault:     v,
		fsmgr:     fsmgr,
		encryptor: enc,
		service:   svc,
		op:        NewOperation(operation, parameters),
		logFile:   logFile,
	}, nil
}

// persistOperation saves the operation to the database, giving it an
// auto-increment ID. Only commands that write cards or the library call it.
func (a *CharaApp) persistOperation() error {
	if a.op.Persisted() {
		return nil
	}
	dbOp, err := a.db.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// track persists the operation, runs fn and records its outcome.
func (a *CharaApp) track(fn func() error) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	return a.op.Observe(fn())
}

func (a *CharaApp) resolve(rawPath string) (*chara.Path, error) {
	p, err := a.fsmgr.Resolve(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	return p, nil
}

// Open reads the card in the PNG at rawPath.
func (a *CharaApp) Open(rawPath string) (*chara.Document, error) {
	p, err := a.resolve(rawPath)
	if err != nil {
		return nil, err
	}
	return a.service.Open(p)
}

// TextChunks returns every text entry of the PNG at rawPath.
func (a *CharaApp) TextChunks(rawPath string) (map[string]string, error) {
	p, err := a.resolve(rawPath)
	if err != nil {
		return nil, err
	}
	data, err := a.fsmgr.ReadFile(p.String())
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p.String(), err)
	}
	return pngmeta.ReadText(data)
}

// EstimateTokens returns the token estimate of the card at rawPath and the
// divisor used. charsPerToken overrides the configured divisor when > 0.
func (a *CharaApp) EstimateTokens(rawPath string, charsPerToken int) (int, int, error) {
	doc, err := a.Open(rawPath)
	if err != nil {
		return 0, 0, err
	}
	if charsPerToken > 0 {
		return card.EstimateTokens(&doc.Card.Data, charsPerToken), charsPerToken, nil
	}
	return a.service.EstimateTokens(doc), a.service.CharsPerToken(), nil
}

// NewCard creates a card named name inside a copy of the image at
// rawImage. destPath defaults to a file named after the card next to the
// image.
func (a *CharaApp) NewCard(name, rawImage, destPath string) (*chara.Document, error) {
	var doc *chara.Document
	err := a.track(func() error {
		img, err := a.resolve(rawImage)
		if err != nil {
			return err
		}
		doc = a.service.NewCard(name)
		dest, err := a.destination(destPath, img, doc.Card)
		if err != nil {
			return err
		}
		return a.service.SaveToImage(doc, img, dest)
	})
	return doc, err
}

// destination returns the absolute output path for a card attached to img.
func (a *CharaApp) destination(destPath string, img *chara.Path, c *card.Card) (string, error) {
	if destPath == "" {
		destPath = filepath.Join(filepath.Dir(img.String()), card.SuggestFilename(c))
	}
	abs, err := filepath.Abs(destPath)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	if abs == img.String() {
		return "", fmt.Errorf("output would overwrite the source image: %s", abs)
	}
	return abs, nil
}

// Update applies fn to the card at rawPath and saves it.
func (a *CharaApp) Update(rawPath string, fn func(c *card.Card) error) (*chara.Document, error) {
	var doc *chara.Document
	err := a.track(func() error {
		p, err := a.resolve(rawPath)
		if err != nil {
			return err
		}
		doc, err = a.service.Update(p, fn)
		return err
	})
	return doc, err
}

// SetFields assigns named card fields (see Fields) and saves the card.
func (a *CharaApp) SetFields(rawPath string, values map[string]string) (*chara.Document, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("no fields to set")
	}
	for name := range values {
		if _, ok := fieldSetters[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
	}
	return a.Update(rawPath, func(c *card.Card) error {
		for name, value := range values {
			fieldSetters[name](&c.Data, value)
			delete(c.Data.Extra, name)
		}
		return nil
	})
}

// SetPath stores raw JSON at a dotted path of the card, e.g.
// "data.extensions.depth_prompt".
func (a *CharaApp) SetPath(rawPath, path string, value []byte) (*chara.Document, error) {
	return a.Update(rawPath, func(c *card.Card) error {
		updated, err := card.SetPath(c, path, value)
		if err != nil {
			return err
		}
		*c = *updated
		return nil
	})
}

// DeletePath removes the value at a dotted path of the card.
func (a *CharaApp) DeletePath(rawPath, path string) (*chara.Document, error) {
	return a.Update(rawPath, func(c *card.Card) error {
		updated, err := card.DeletePath(c, path)
		if err != nil {
			return err
		}
		*c = *updated
		return nil
	})
}

// GetPath returns the raw JSON at a dotted path of the card at rawPath.
func (a *CharaApp) GetPath(rawPath, path string) (string, bool, error) {
	doc, err := a.Open(rawPath)
	if err != nil {
		return "", false, err
	}
	return card.GetPath(doc.Card, path)
}

// AddBookEntry appends a lore entry to the card's character book, creating
// the book when the card has none.
func (a *CharaApp) AddBookEntry(rawPath string, entry card.BookEntry) (*chara.Document, error) {
	return a.Update(rawPath, func(c *card.Card) error {
		if c.Data.CharacterBook == nil {
			c.Data.CharacterBook = card.NewBook()
		}
		c.Data.CharacterBook.Entries = append(c.Data.CharacterBook.Entries, entry)
		return nil
	})
}

// ImportWorldbook merges the worldbook at rawWorldbook into the card at
// rawCard and returns the number of entries added.
func (a *CharaApp) ImportWorldbook(rawCard, rawWorldbook string) (int, error) {
	var added int
	err := a.track(func() error {
		wb, err := a.resolve(rawWorldbook)
		if err != nil {
			return err
		}
		p, err := a.resolve(rawCard)
		if err != nil {
			return err
		}
		doc, err := a.service.Open(p)
		if err != nil {
			return err
		}
		if added, err = a.service.ImportWorldbook(doc, wb); err != nil {
			return err
		}
		return a.service.Save(doc)
	})
	return added, err
}

// ExportJSON writes the card at rawCard to destPath as indented JSON.
func (a *CharaApp) ExportJSON(rawCard, destPath string) error {
	doc, err := a.Open(rawCard)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(destPath)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	return a.service.ExportJSON(doc, abs)
}

// ImportJSON reads a card from the JSON file at rawJSON and attaches it to
// a copy of the image at rawImage.
func (a *CharaApp) ImportJSON(rawJSON, rawImage, destPath string, repair bool) (*chara.Document, error) {
	var doc *chara.Document
	err := a.track(func() error {
		src, err := a.resolve(rawJSON)
		if err != nil {
			return err
		}
		img, err := a.resolve(rawImage)
		if err != nil {
			return err
		}
		if doc, err = a.service.ImportJSON(src, repair); err != nil {
			return err
		}
		dest, err := a.destination(destPath, img, doc.Card)
		if err != nil {
			return err
		}
		return a.service.SaveToImage(doc, img, dest)
	})
	return doc, err
}

// Attach copies the card of the PNG at rawCard into a copy of the image at
// rawImage.
func (a *CharaApp) Attach(rawCard, rawImage, destPath string) (*chara.Document, error) {
	var doc *chara.Document
	err := a.track(func() error {
		img, err := a.resolve(rawImage)
		if err != nil {
			return err
		}
		src, err := a.resolve(rawCard)
		if err != nil {
			return err
		}
		if doc, err = a.service.Open(src); err != nil {
			return err
		}
		doc.Path = ""
		dest, err := a.destination(destPath, img, doc.Card)
		if err != nil {
			return err
		}
		return a.service.SaveToImage(doc, img, dest)
	})
	return doc, err
}

// SwapImage replaces the pixels of the card at rawCard with the image at
// rawImage, keeping the card.
func (a *CharaApp) SwapImage(rawCard, rawImage string) error {
	return a.track(func() error {
		img, err := a.resolve(rawImage)
		if err != nil {
			return err
		}
		p, err := a.resolve(rawCard)
		if err != nil {
			return err
		}
		doc, err := a.service.Open(p)
		if err != nil {
			return err
		}
		return a.service.ChangeImage(doc, img)
	})
}

// ScanLibrary indexes the cards in rawDir, or in the configured library
// directory when rawDir is empty.
func (a *CharaApp) ScanLibrary(rawDir string) (*chara.ScanResult, error) {
	if rawDir == "" {
		rawDir = a.cfg.Library.Dir
	}
	if rawDir == "" {
		return nil, fmt.Errorf("no directory given and library.dir is not configured")
	}
	var result *chara.ScanResult
	err := a.track(func() error {
		dir, err := a.resolve(rawDir)
		if err != nil {
			return err
		}
		result, err = a.service.ScanLibrary(dir)
		return err
	})
	return result, err
}

// ListLibrary returns the indexed cards, optionally filtered by tag.
func (a *CharaApp) ListLibrary(tag string) ([]*model.LibraryCard, error) {
	return a.service.ListLibrary(tag)
}

// Snapshots returns the stored versions of a card, newest first. The card
// itself need not exist any more.
func (a *CharaApp) Snapshots(rawPath string) ([]*chara.SnapshotEntry, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	return a.service.Snapshots(absPath)
}

// RestoreSnapshot writes a stored version of the card next to it and
// returns the path written. passphrase is asked for only when the chosen
// snapshot is encrypted.
func (a *CharaApp) RestoreSnapshot(rawPath, checksum string, passphrase func() (string, error)) (string, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	entries, err := a.service.Snapshots(absPath)
	if err != nil {
		return "", err
	}
	var decryptCtx chara.DecryptionContext
	for _, e := range entries {
		if !strings.HasPrefix(e.Checksum, checksum) {
			continue
		}
		if e.Encrypted {
			pass, err := passphrase()
			if err != nil {
				return "", fmt.Errorf("reading passphrase: %w", err)
			}
			if decryptCtx, err = a.encryptor.Unlock(pass); err != nil {
				return "", fmt.Errorf("unlocking private key: %w", err)
			}
		}
		break
	}
	return a.service.RestoreSnapshot(absPath, checksum, decryptCtx)
}

// GetHistory returns the most recent operations.
func (a *CharaApp) GetHistory(limit int) ([]*model.Operation, error) {
	return a.service.GetHistory(limit)
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record, backs up the DB, and uploads to vault.
// For non-persisted operations: just closes the database.
func (a *CharaApp) Close() error {
	var errs []error

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
			errs = append(errs, fmt.Errorf("finishing operation: %w", err))
		}

		tmpPath, err := a.backupDatabase()
		if err != nil {
			errs = append(errs, err)
		}

		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}

		// Upload DB snapshot to vault with version = operation ID
		if tmpPath != "" {
			if err := a.uploadMetadata(tmpPath, a.op.ID); err != nil {
				errs = append(errs, err)
			}
			os.Remove(tmpPath)
		}
	} else if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return errors.Join(errs...)
}

// backupDatabase writes a copy of the database to a temp file and returns
// its path.
func (a *CharaApp) backupDatabase() (string, error) {
	tmpFile, err := os.CreateTemp("", "chara-db-backup-*.db")
	if err != nil {
		return "", fmt.Errorf("creating temp file for db backup: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	if err := a.db.BackupTo(tmpPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("backing up database: %w", err)
	}
	return tmpPath, nil
}

// uploadMetadata opens the temp DB file and uploads it to the vault as metadata.
func (a *CharaApp) uploadMetadata(path string, version int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening db backup for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat db backup: %w", err)
	}

	if err := a.vault.PutMetadata(a.cfg.HostID, "db", f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading metadata to vault: %w", err)
	}

	return nil
}
