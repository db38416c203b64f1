package chara

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"chara-go/internal/card"
	"chara-go/internal/model"
	"chara-go/internal/pngmeta"
)

// ScanResult summarizes a library scan.
type ScanResult struct {
	Cards   []*model.LibraryCard
	Removed int
}

// ScanLibrary indexes every PNG directly inside dir. Each file gets a row
// with its name, tags, token estimate, checksum and a status describing
// whether it carries a readable card. Rows for files of dir that no longer
// exist are removed.
func (s *CardService) ScanLibrary(dir *Path) (*ScanResult, error) {
	if !dir.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir.String())
	}

	files, err := s.fsmgr.FindCards(dir)
	if err != nil {
		return nil, fmt.Errorf("finding cards: %w", err)
	}

	result := &ScanResult{}
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		data, err := s.fsmgr.ReadFile(f.String())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.String(), err)
		}
		row := s.describe(f.String(), data)
		if err := s.database.UpsertLibraryCard(row); err != nil {
			return nil, fmt.Errorf("indexing %s: %w", f.String(), err)
		}
		seen[f.String()] = true
		result.Cards = append(result.Cards, row)
		s.logger.Debug("card indexed", "path", f.String(), "status", row.Status)
	}

	rows, err := s.database.ListLibraryCards(dir.String())
	if err != nil {
		return nil, fmt.Errorf("listing library: %w", err)
	}
	for _, row := range rows {
		if filepath.Dir(row.Path) != dir.String() || seen[row.Path] {
			continue
		}
		if err := s.database.DeleteLibraryCard(row.Path); err != nil {
			return nil, fmt.Errorf("removing %s from library: %w", row.Path, err)
		}
		result.Removed++
	}

	s.logger.Info("library scanned", "dir", dir.String(), "cards", len(result.Cards), "removed", result.Removed)
	return result, nil
}

// ListLibrary returns the indexed cards, optionally only those carrying tag
// (compared case-insensitively).
func (s *CardService) ListLibrary(tag string) ([]*model.LibraryCard, error) {
	rows, err := s.database.ListLibraryCards("")
	if err != nil {
		return nil, fmt.Errorf("listing library: %w", err)
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return rows, nil
	}
	var out []*model.LibraryCard
	for _, row := range rows {
		if slices.ContainsFunc(row.Tags, func(t string) bool { return strings.EqualFold(t, tag) }) {
			out = append(out, row)
		}
	}
	return out, nil
}

// describe builds the library row for a file's bytes.
func (s *CardService) describe(path string, data []byte) *model.LibraryCard {
	row := &model.LibraryCard{
		ID:        s.idgen.New(),
		Path:      path,
		Tags:      []string{},
		Checksum:  checksum(data),
		ScannedAt: s.clock.Now(),
	}

	c, found, err := pngmeta.LookupCard(data)
	switch {
	case errors.Is(err, pngmeta.ErrInvalidImage):
		row.Status = model.StatusInvalid
	case err != nil:
		row.Status = model.StatusCorrupt
	case !found:
		row.Status = model.StatusEmpty
	default:
		row.Status = model.StatusOK
		s.fillFromCard(row, c)
	}
	return row
}

// indexCard refreshes the library row of a card that was just written.
func (s *CardService) indexCard(path string, data []byte, c *card.Card) error {
	row := &model.LibraryCard{
		ID:        s.idgen.New(),
		Path:      path,
		Checksum:  checksum(data),
		Status:    model.StatusOK,
		ScannedAt: s.clock.Now(),
	}
	s.fillFromCard(row, c)
	if err := s.database.UpsertLibraryCard(row); err != nil {
		return fmt.Errorf("indexing card: %w", err)
	}
	return nil
}

func (s *CardService) fillFromCard(row *model.LibraryCard, c *card.Card) {
	row.Name = c.Data.Name
	row.Tags = slices.Clone(c.Data.Tags)
	if row.Tags == nil {
		row.Tags = []string{}
	}
	row.Tokens = card.EstimateTokens(&c.Data, s.opts.CharsPerToken)
}
