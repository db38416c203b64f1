package chara

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"chara-go/internal/model"
)

// SnapshotEntry is one stored previous version of a card file.
type SnapshotEntry struct {
	Checksum  string
	TakenAt   time.Time
	Size      int64
	Encrypted bool
}

// snapshot stores data, the current contents of cardPath, in the vault and
// records it. Content already in the vault is not uploaded again, and a
// file identical to its latest snapshot is not recorded twice.
func (s *CardService) snapshot(cardPath string, data []byte) error {
	sum := checksum(data)

	existing, err := s.database.FindSnapshotsForPath(cardPath)
	if err != nil {
		return fmt.Errorf("finding snapshots: %w", err)
	}
	if n := len(existing); n > 0 && existing[n-1].ContentID == sum {
		s.logger.Debug("snapshot unchanged", "path", cardPath, "checksum", sum)
		return nil
	}

	content, err := s.database.FindContentByChecksum(sum)
	if err != nil {
		return fmt.Errorf("checking for existing content: %w", err)
	}
	if content == nil {
		encryptedID, err := s.storeContent(sum, data)
		if err != nil {
			return err
		}
		if _, err := s.database.CreateContent(sum, encryptedID); err != nil {
			return fmt.Errorf("recording content: %w", err)
		}
	} else {
		s.logger.Debug("content deduplicated", "checksum", sum)
	}

	snap := &model.Snapshot{
		ID:        s.idgen.New(),
		CardPath:  cardPath,
		ContentID: sum,
		Size:      int64(len(data)),
		CreatedAt: s.clock.Now(),
	}
	if err := s.database.CreateSnapshot(snap); err != nil {
		return fmt.Errorf("recording snapshot: %w", err)
	}
	s.logger.Info("snapshot taken", "path", cardPath, "checksum", sum)
	return nil
}

// storeContent uploads data to the vault, encrypted when an encryptor is
// configured. It returns the vault key of the ciphertext, or "" for
// plaintext content stored under its own checksum.
func (s *CardService) storeContent(sum string, data []byte) (string, error) {
	if !s.encryptor.IsConfigured() {
		return "", s.upload(sum, data)
	}

	var ciphertext bytes.Buffer
	if err := s.encryptor.Encrypt(bytes.NewReader(data), &ciphertext); err != nil {
		return "", fmt.Errorf("encrypting snapshot: %w", err)
	}
	encryptedID := checksum(ciphertext.Bytes())
	if err := s.upload(encryptedID, ciphertext.Bytes()); err != nil {
		return "", err
	}
	return encryptedID, nil
}

// upload puts data into the vault under key unless the vault already holds
// it, as it does when another library shares the vault.
func (s *CardService) upload(key string, data []byte) error {
	has, err := s.vault.HasContent(key)
	if err != nil {
		return fmt.Errorf("checking vault for %s: %w", key, err)
	}
	if has {
		s.logger.Debug("content already in vault", "checksum", key)
		return nil
	}
	if err := s.vault.PutContent(key, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("uploading to vault: %w", err)
	}
	return nil
}

// Snapshots returns the stored versions of the card at cardPath, newest
// first.
func (s *CardService) Snapshots(cardPath string) ([]*SnapshotEntry, error) {
	snaps, err := s.database.FindSnapshotsForPath(cardPath)
	if err != nil {
		return nil, fmt.Errorf("finding snapshots: %w", err)
	}

	entries := make([]*SnapshotEntry, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		snap := snaps[i]
		content, err := s.database.FindContentByChecksum(snap.ContentID)
		if err != nil {
			return nil, fmt.Errorf("finding content record: %w", err)
		}
		entries = append(entries, &SnapshotEntry{
			Checksum:  snap.ContentID,
			TakenAt:   snap.CreatedAt,
			Size:      snap.Size,
			Encrypted: content != nil && content.EncryptedContentID.Valid,
		})
	}
	return entries, nil
}

// RestoreSnapshot writes a stored version of a card next to it, as
// <name>.png.<checksum[:12]>.restored.png, and returns that path. sum may
// be a checksum prefix; empty selects the newest snapshot. decryptCtx is
// needed only for encrypted snapshots.
func (s *CardService) RestoreSnapshot(cardPath string, sum string, decryptCtx DecryptionContext) (string, error) {
	snap, err := s.database.FindSnapshotByChecksum(cardPath, sum)
	if err != nil {
		return "", fmt.Errorf("finding snapshot: %w", err)
	}
	if snap == nil {
		if sum == "" {
			return "", fmt.Errorf("card has no snapshots: %s", cardPath)
		}
		return "", fmt.Errorf("no snapshot of %s with checksum %s", cardPath, sum)
	}

	outPath := restorePath(cardPath, snap.ContentID)
	if s.fsmgr.Exists(outPath) {
		return "", fmt.Errorf("output file already exists: %s", outPath)
	}

	content, err := s.database.FindContentByChecksum(snap.ContentID)
	if err != nil {
		return "", fmt.Errorf("finding content record: %w", err)
	}
	if content == nil {
		return "", fmt.Errorf("content not found for checksum: %s", snap.ContentID)
	}

	var buf bytes.Buffer
	if content.EncryptedContentID.Valid {
		if decryptCtx == nil {
			return "", fmt.Errorf("snapshot is encrypted but no passphrase was provided")
		}
		// Stream the vault output straight into the decryptor.
		pr, pw := io.Pipe()
		vaultErrCh := make(chan error, 1)
		go func() {
			err := s.vault.GetContent(content.EncryptedContentID.String, pw)
			pw.CloseWithError(err)
			vaultErrCh <- err
		}()

		decryptErr := decryptCtx.Decrypt(pr, &buf)
		pr.CloseWithError(decryptErr)
		vaultErr := <-vaultErrCh

		if decryptErr != nil {
			return "", fmt.Errorf("decrypting snapshot: %w", decryptErr)
		}
		if vaultErr != nil {
			return "", fmt.Errorf("retrieving snapshot from vault: %w", vaultErr)
		}
	} else if err := s.vault.GetContent(snap.ContentID, &buf); err != nil {
		return "", fmt.Errorf("retrieving snapshot from vault: %w", err)
	}

	if got := checksum(buf.Bytes()); got != snap.ContentID {
		return "", fmt.Errorf("restored content checksum %s does not match %s", got, snap.ContentID)
	}
	if err := s.fsmgr.WriteFile(outPath, buf.Bytes()); err != nil {
		return "", fmt.Errorf("writing restored card: %w", err)
	}

	s.logger.Info("snapshot restored", "path", outPath)
	return outPath, nil
}
