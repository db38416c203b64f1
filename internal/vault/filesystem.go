package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"chara-go/internal/chara"
)

// FileSystemVault stores snapshots and metadata as files:
//
//	<root>/
//	  content/
//	    <ab>/<checksum>        (snapshot bytes, sharded by checksum prefix)
//	  metadata/
//	    <hostID>/<name>        (e.g. the library database as "db")
//	    <hostID>/<name>.version
type FileSystemVault struct {
	name        string
	root        string
	contentDir  string
	metadataDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	contentDir := filepath.Join(root, "content")
	metadataDir := filepath.Join(root, "metadata")

	for _, dir := range []string{contentDir, metadataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create vault directory: %w", err)
		}
	}

	return &FileSystemVault{
		name:        name,
		root:        root,
		contentDir:  contentDir,
		metadataDir: metadataDir,
	}, nil
}

func (v *FileSystemVault) contentPath(checksum string) string {
	shard := "_"
	if len(checksum) >= 2 {
		shard = checksum[:2]
	}
	return filepath.Join(v.contentDir, shard, checksum)
}

func (v *FileSystemVault) metadataPath(hostID, name string) string {
	return filepath.Join(v.metadataDir, hostID, name)
}

// PutContent stores content identified by its checksum. Content already
// present is left untouched.
func (v *FileSystemVault) PutContent(checksum string, r io.Reader, size int64) error {
	destPath := v.contentPath(checksum)

	if _, err := os.Stat(destPath); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	return writeAtomic(destPath, r, size)
}

// HasContent reports whether content with the checksum is stored.
func (v *FileSystemVault) HasContent(checksum string) (bool, error) {
	_, err := os.Stat(v.contentPath(checksum))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking content: %w", err)
}

// GetContent retrieves content by checksum and writes it to w.
func (v *FileSystemVault) GetContent(checksum string, w io.Writer) error {
	return copyFile(v.contentPath(checksum), w, fmt.Sprintf("content not found: %s", checksum))
}

// PutMetadata stores a named metadata item for a host along with its version.
func (v *FileSystemVault) PutMetadata(hostID string, name string, r io.Reader, size int64, version int64) error {
	destPath := v.metadataPath(hostID, name)
	if err := writeAtomic(destPath, r, size); err != nil {
		return err
	}

	data := strconv.FormatInt(version, 10)
	return writeAtomic(destPath+".version", strings.NewReader(data), int64(len(data)))
}

// GetMetadataVersion returns the version of a metadata item, or 0 when it
// has never been stored.
func (v *FileSystemVault) GetMetadataVersion(hostID string, name string) (int64, error) {
	data, err := os.ReadFile(v.metadataPath(hostID, name) + ".version")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// GetMetadata retrieves a named metadata item for a host and writes it to w.
func (v *FileSystemVault) GetMetadata(hostID string, name string, w io.Writer) error {
	return copyFile(v.metadataPath(hostID, name), w, fmt.Sprintf("metadata %q not found for host: %s", name, hostID))
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.contentDir, v.metadataDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeAtomic writes r to destPath through a temp file in the same
// directory and renames it into place once size bytes were written.
func writeAtomic(destPath string, r io.Reader, expectedSize int64) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func copyFile(srcPath string, w io.Writer, notFoundMsg string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errors.New(notFoundMsg)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

var _ chara.Vault = (*FileSystemVault)(nil)
