package testutil

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"chara-go/internal/chara"
	charafs "chara-go/internal/fs"
)

// MockFile represents a file in the mock filesystem.
type MockFile struct {
	Content     []byte
	Permissions fs.FileMode
	ModTime     time.Time
	IsDirectory bool
}

// MockFilesystemManager is an in-memory filesystem for testing. Paths are
// used as given; Resolve makes them absolute.
type MockFilesystemManager struct {
	mu         sync.Mutex
	files      map[string]*MockFile
	ignore     *charafs.IgnoreMatcher
	failWrites map[string]error
	locked     map[string]bool
}

// NewMockFilesystemManager creates a new mock filesystem.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files:      make(map[string]*MockFile),
		ignore:     charafs.NewIgnoreMatcher(nil),
		failWrites: make(map[string]error),
		locked:     make(map[string]bool),
	}
}

// AddFile adds a file to the mock filesystem.
func (m *MockFilesystemManager) AddFile(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = &MockFile{
		Content:     content,
		Permissions: 0644,
		ModTime:     time.Now(),
	}
}

// AddDirectory adds a directory to the mock filesystem.
func (m *MockFilesystemManager) AddDirectory(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = &MockFile{
		Permissions: 0755,
		ModTime:     time.Now(),
		IsDirectory: true,
	}
}

// SetIgnore sets the patterns FindCards skips.
func (m *MockFilesystemManager) SetIgnore(patterns []string) {
	m.ignore = charafs.NewIgnoreMatcher(patterns)
}

// FailWrites makes every WriteFile to path return err until cleared with nil.
func (m *MockFilesystemManager) FailWrites(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failWrites, path)
		return
	}
	m.failWrites[path] = err
}

// Content returns the bytes stored at path, or nil.
func (m *MockFilesystemManager) Content(path string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[path]; ok && !f.IsDirectory {
		return f.Content
	}
	return nil
}

// Paths returns every stored path, sorted.
func (m *MockFilesystemManager) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// IsLocked reports whether path is currently locked.
func (m *MockFilesystemManager) IsLocked(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked[path]
}

func (m *MockFilesystemManager) Resolve(rawPath string) (*chara.Path, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[absPath]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", absPath)
	}
	return chara.NewPath(absPath, file.IsDirectory, fileInfo(absPath, file)), nil
}

func (m *MockFilesystemManager) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	if file.IsDirectory {
		return nil, fmt.Errorf("is a directory: %s", path)
	}
	return append([]byte(nil), file.Content...), nil
}

func (m *MockFilesystemManager) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failWrites[path]; err != nil {
		return err
	}
	if f, ok := m.files[path]; ok && f.IsDirectory {
		return fmt.Errorf("is a directory: %s", path)
	}
	m.files[path] = &MockFile{
		Content:     append([]byte(nil), data...),
		Permissions: 0644,
		ModTime:     time.Now(),
	}
	return nil
}

func (m *MockFilesystemManager) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[oldPath]
	if !ok {
		return fmt.Errorf("file not found: %s", oldPath)
	}
	m.files[newPath] = file
	delete(m.files, oldPath)
	return nil
}

func (m *MockFilesystemManager) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; !ok {
		return fmt.Errorf("file not found: %s", path)
	}
	delete(m.files, path)
	return nil
}

func (m *MockFilesystemManager) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

// Lock fails when path is already locked instead of waiting.
func (m *MockFilesystemManager) Lock(path string) (func() error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked[path] {
		return nil, fmt.Errorf("%w: %s", charafs.ErrLocked, path)
	}
	m.locked[path] = true
	return func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.locked, path)
		return nil
	}, nil
}

func (m *MockFilesystemManager) FindCards(dir *chara.Path) ([]*chara.Path, error) {
	if !dir.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir.String())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var paths []*chara.Path
	for p, file := range m.files {
		if file.IsDirectory || filepath.Dir(p) != dir.String() || m.ignore.Match(p) {
			continue
		}
		path := chara.NewPath(p, false, fileInfo(p, file))
		if path.IsPNG() {
			paths = append(paths, path)
		}
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].String() < paths[j].String() })
	return paths, nil
}

func fileInfo(path string, file *MockFile) fs.FileInfo {
	return &mockFileInfo{
		name:    filepath.Base(path),
		size:    int64(len(file.Content)),
		mode:    file.Permissions,
		modTime: file.ModTime,
		isDir:   file.IsDirectory,
	}
}

type mockFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() fs.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return nil }

var _ chara.FilesystemManager = (*MockFilesystemManager)(nil)
