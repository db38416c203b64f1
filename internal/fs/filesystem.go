package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"chara-go/internal/chara"
)

// LockTimeout bounds how long a write waits for another process holding
// the same card.
const LockTimeout = 5 * time.Second

// ErrLocked is returned when a card stays locked past LockTimeout.
var ErrLocked = errors.New("card is locked by another process")

// OSFilesystemManager is the real filesystem implementation of FilesystemManager.
type OSFilesystemManager struct {
	ignore  []string
	lockDir string
}

// NewOSFilesystemManager creates a filesystem manager. ignore holds glob
// patterns skipped by FindCards in addition to the directory's
// .charaignore file. Lock files live in lockDir, or next to the card when
// lockDir is empty.
func NewOSFilesystemManager(ignore []string, lockDir string) *OSFilesystemManager {
	return &OSFilesystemManager{ignore: ignore, lockDir: lockDir}
}

// Resolve validates a raw path and returns a Path object.
func (m *OSFilesystemManager) Resolve(rawPath string) (*chara.Path, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}

	mode := info.Mode()
	if mode&os.ModeDevice != 0 {
		return nil, fmt.Errorf("device files not supported: %s", absPath)
	}
	if mode&os.ModeNamedPipe != 0 {
		return nil, fmt.Errorf("named pipes not supported: %s", absPath)
	}
	if mode&os.ModeSocket != 0 {
		return nil, fmt.Errorf("sockets not supported: %s", absPath)
	}

	return chara.NewPath(absPath, info.IsDir(), info), nil
}

func (m *OSFilesystemManager) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes data to a temp file in the same directory and renames
// it over path. An existing file keeps its permissions.
func (m *OSFilesystemManager) WriteFile(path string, data []byte) error {
	perm := fs.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".chara-tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}

	success = true
	return nil
}

func (m *OSFilesystemManager) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func (m *OSFilesystemManager) Remove(path string) error {
	return os.Remove(path)
}

func (m *OSFilesystemManager) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// lockPath returns the lock file guarding path.
func (m *OSFilesystemManager) lockPath(path string) string {
	if m.lockDir == "" {
		return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".lock")
	}
	sum := sha256.Sum256([]byte(path))
	return filepath.Join(m.lockDir, hex.EncodeToString(sum[:8])+".lock")
}

// Lock takes an exclusive flock on the lock file of path, waiting up to
// LockTimeout.
func (m *OSFilesystemManager) Lock(path string) (func() error, error) {
	lockPath := m.lockPath(path)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	fl := flock.New(lockPath)
	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return fl.Unlock, nil
}

// FindCards lists the PNG files directly inside dir, sorted by name.
func (m *OSFilesystemManager) FindCards(dir *chara.Path) ([]*chara.Path, error) {
	if !dir.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir.String())
	}

	filePatterns, err := ParseIgnoreFile(filepath.Join(dir.String(), IgnoreFileName))
	if err != nil {
		return nil, err
	}
	matcher := NewIgnoreMatcher(append(append([]string{}, m.ignore...), filePatterns...))

	entries, err := os.ReadDir(dir.String())
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var paths []*chara.Path
	for _, entry := range entries {
		if !entry.Type().IsRegular() || matcher.Match(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		p := chara.NewPath(filepath.Join(dir.String(), entry.Name()), false, info)
		if p.IsPNG() {
			paths = append(paths, p)
		}
	}

	sort.Slice(paths, func(i, j int) bool { return paths[i].String() < paths[j].String() })
	return paths, nil
}

var _ chara.FilesystemManager = (*OSFilesystemManager)(nil)
