package chara

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"

	"chara-go/internal/card"
	"chara-go/internal/imaging"
	"chara-go/internal/pngmeta"
)

var (
	// ErrNotAttached is returned when saving a card that has no image yet.
	ErrNotAttached = errors.New("card is not attached to an image")

	// ErrNotAWorldbook is returned when an imported file has no lore entries
	// in any recognized layout.
	ErrNotAWorldbook = errors.New("file is not a worldbook")
)

// Options tunes the card service.
type Options struct {
	// CharsPerToken is the divisor of the token estimate.
	CharsPerToken int

	// MaxImageDimension bounds the longer side of images converted for a
	// card. 0 keeps the source size.
	MaxImageDimension int
}

// Document is a card together with the image file it lives in. Path is
// empty for a card that has not been attached to an image yet.
type Document struct {
	Card *card.Card
	Path string

	// HadMetadata reports whether the image carried card metadata when
	// it was opened.
	HadMetadata bool
}

// CardService coordinates the codec, the library database, the snapshot
// vault and the filesystem to perform the operations the CLI needs.
type CardService struct {
	database  Database
	vault     Vault
	fsmgr     FilesystemManager
	encryptor Encryptor
	logger    Logger
	clock     Clock
	idgen     IDGenerator
	opts      Options
}

// NewCardService creates a CardService with the provided dependencies.
func NewCardService(database Database, vault Vault, fsmgr FilesystemManager, encryptor Encryptor, logger Logger, clock Clock, idgen IDGenerator, opts Options) *CardService {
	if opts.CharsPerToken <= 0 {
		opts.CharsPerToken = card.BigVocabCharsPerToken
	}
	return &CardService{
		database:  database,
		vault:     vault,
		fsmgr:     fsmgr,
		encryptor: encryptor,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		opts:      opts,
	}
}

// NewCard returns a virtual card named name, or "New Card" when blank.
func (s *CardService) NewCard(name string) *Document {
	return &Document{Card: card.NewNamed(name)}
}

// Open reads the card embedded in a PNG file. An image without card
// metadata opens as a default card.
func (s *CardService) Open(path *Path) (*Document, error) {
	if path.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a card: %s", path.String())
	}
	data, err := s.fsmgr.ReadFile(path.String())
	if err != nil {
		return nil, fmt.Errorf("reading card: %w", err)
	}
	c, found, err := pngmeta.LookupCard(data)
	if err != nil {
		return nil, fmt.Errorf("reading card %s: %w", path.String(), err)
	}
	s.logger.Debug("card opened", "path", path.String(), "metadata", found)
	return &Document{Card: c, Path: path.String(), HadMetadata: found}, nil
}

// Update opens the card at path, applies fn and saves the result.
func (s *CardService) Update(path *Path, fn func(c *card.Card) error) (*Document, error) {
	doc, err := s.Open(path)
	if err != nil {
		return nil, err
	}
	if err := fn(doc.Card); err != nil {
		return nil, err
	}
	if err := s.Save(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Save writes the card back into its image. The previous file contents are
// snapshotted to the vault first.
func (s *CardService) Save(doc *Document) error {
	if doc.Path == "" {
		return ErrNotAttached
	}

	unlock, err := s.fsmgr.Lock(doc.Path)
	if err != nil {
		return fmt.Errorf("locking card: %w", err)
	}
	defer unlock()

	current, err := s.fsmgr.ReadFile(doc.Path)
	if err != nil {
		return fmt.Errorf("reading card: %w", err)
	}
	out, err := pngmeta.WriteCard(current, doc.Card)
	if err != nil {
		return fmt.Errorf("encoding card: %w", err)
	}
	if err := s.snapshot(doc.Path, current); err != nil {
		return err
	}
	if err := s.fsmgr.WriteFile(doc.Path, out); err != nil {
		return fmt.Errorf("writing card: %w", err)
	}
	if err := s.indexCard(doc.Path, out, doc.Card); err != nil {
		return err
	}

	doc.HadMetadata = true
	s.logger.Info("card saved", "path", doc.Path, "name", doc.Card.Data.Name)
	return nil
}

// SaveToImage attaches the card to a new image: the image at src is copied
// (PNG) or converted to destPath, and the card is written into it. An
// existing file at destPath is snapshotted before it is replaced.
func (s *CardService) SaveToImage(doc *Document, src *Path, destPath string) error {
	pixels, err := s.loadImage(src)
	if err != nil {
		return err
	}
	out, err := pngmeta.WriteCard(pixels, doc.Card)
	if err != nil {
		return fmt.Errorf("encoding card: %w", err)
	}

	unlock, err := s.fsmgr.Lock(destPath)
	if err != nil {
		return fmt.Errorf("locking card: %w", err)
	}
	defer unlock()

	if s.fsmgr.Exists(destPath) {
		current, err := s.fsmgr.ReadFile(destPath)
		if err != nil {
			return fmt.Errorf("reading existing file: %w", err)
		}
		if err := s.snapshot(destPath, current); err != nil {
			return err
		}
	}
	if err := s.fsmgr.WriteFile(destPath, out); err != nil {
		return fmt.Errorf("writing card: %w", err)
	}
	if err := s.indexCard(destPath, out, doc.Card); err != nil {
		return err
	}

	doc.Path = destPath
	doc.HadMetadata = true
	s.logger.Info("card attached to image", "path", destPath, "image", src.String())
	return nil
}

// ChangeImage keeps the card and swaps the pixels of its image. The
// original file is moved to <path>.bak while the new one is written and
// moved back if the write fails.
func (s *CardService) ChangeImage(doc *Document, src *Path) error {
	if doc.Path == "" {
		return ErrNotAttached
	}
	pixels, err := s.loadImage(src)
	if err != nil {
		return err
	}
	out, err := pngmeta.WriteCard(pixels, doc.Card)
	if err != nil {
		return fmt.Errorf("encoding card: %w", err)
	}

	unlock, err := s.fsmgr.Lock(doc.Path)
	if err != nil {
		return fmt.Errorf("locking card: %w", err)
	}
	defer unlock()

	current, err := s.fsmgr.ReadFile(doc.Path)
	if err != nil {
		return fmt.Errorf("reading card: %w", err)
	}
	if err := s.snapshot(doc.Path, current); err != nil {
		return err
	}

	backup := doc.Path + ".bak"
	if err := s.fsmgr.Rename(doc.Path, backup); err != nil {
		return fmt.Errorf("backing up image: %w", err)
	}
	if err := s.fsmgr.WriteFile(doc.Path, out); err != nil {
		if rerr := s.fsmgr.Rename(backup, doc.Path); rerr != nil {
			s.logger.Error("restoring backup failed", "path", backup, "error", rerr)
		}
		return fmt.Errorf("writing new image: %w", err)
	}
	if err := s.fsmgr.Remove(backup); err != nil {
		s.logger.Warn("removing backup failed", "path", backup, "error", err)
	}
	if err := s.indexCard(doc.Path, out, doc.Card); err != nil {
		return err
	}

	s.logger.Info("card image changed", "path", doc.Path, "image", src.String())
	return nil
}

// loadImage returns PNG bytes for the image at src, converting other
// formats and applying the configured size limit.
func (s *CardService) loadImage(src *Path) ([]byte, error) {
	if src.IsDir() {
		return nil, fmt.Errorf("image path is a directory: %s", src.String())
	}
	raw, err := s.fsmgr.ReadFile(src.String())
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	pixels, err := imaging.ToPNG(raw, s.opts.MaxImageDimension)
	if err != nil {
		return nil, fmt.Errorf("preparing image %s: %w", src.String(), err)
	}
	return pixels, nil
}

// ExportJSON writes the card as indented JSON.
func (s *CardService) ExportJSON(doc *Document, destPath string) error {
	b, err := card.MarshalIndent(doc.Card)
	if err != nil {
		return fmt.Errorf("encoding card: %w", err)
	}
	if err := s.fsmgr.WriteFile(destPath, b); err != nil {
		return fmt.Errorf("writing %s: %w", destPath, err)
	}
	s.logger.Info("card exported", "path", destPath)
	return nil
}

// ImportJSON reads a card from a JSON file. With repair set, input that is
// not valid JSON is run through a lenient repairer before normalizing. The
// imported card is virtual until it is attached to an image.
func (s *CardService) ImportJSON(path *Path, repair bool) (*Document, error) {
	raw, err := s.fsmgr.ReadFile(path.String())
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path.String(), err)
	}
	c, err := card.Parse(raw)
	if err != nil && repair {
		fixed, rerr := repairJSON(raw)
		if rerr != nil {
			return nil, fmt.Errorf("repairing %s: %w", path.String(), rerr)
		}
		s.logger.Warn("imported JSON needed repair", "path", path.String())
		c, err = card.Parse(fixed)
	}
	if err != nil {
		return nil, fmt.Errorf("importing %s: %w", path.String(), err)
	}
	s.logger.Info("card imported", "path", path.String(), "name", c.Data.Name)
	return &Document{Card: c}, nil
}

// ImportWorldbook merges the lore entries of a worldbook file into the
// card's character book and returns the number of entries added.
func (s *CardService) ImportWorldbook(doc *Document, path *Path) (int, error) {
	raw, err := s.fsmgr.ReadFile(path.String())
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path.String(), err)
	}
	wb := card.NormalizeWorldbook(raw)
	if wb == nil {
		return 0, fmt.Errorf("%s: %w", path.String(), ErrNotAWorldbook)
	}
	n := doc.Card.Data.ImportWorldbook(wb)
	s.logger.Info("worldbook imported", "path", path.String(), "entries", n)
	return n, nil
}

// EstimateTokens returns the approximate token count of the card.
func (s *CardService) EstimateTokens(doc *Document) int {
	return card.EstimateTokens(&doc.Card.Data, s.opts.CharsPerToken)
}

// CharsPerToken returns the divisor used by EstimateTokens.
func (s *CardService) CharsPerToken() int {
	return s.opts.CharsPerToken
}

func checksum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// restorePath returns the file a snapshot is restored to:
// <dir>/<base>.<checksum[:12]>.restored.png
func restorePath(cardPath, contentID string) string {
	short := contentID
	if len(short) > 12 {
		short = short[:12]
	}
	return filepath.Join(filepath.Dir(cardPath), fmt.Sprintf("%s.%s.restored.png", filepath.Base(cardPath), short))
}
