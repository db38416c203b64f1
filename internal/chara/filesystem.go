package chara

// FilesystemManager abstracts file access so the card service can be tested
// without touching the real filesystem.
type FilesystemManager interface {
	// Resolve makes rawPath absolute, stats it and rejects anything that is
	// not a regular file or directory.
	Resolve(rawPath string) (*Path, error)

	// ReadFile returns the contents of a regular file.
	ReadFile(path string) ([]byte, error)

	// WriteFile replaces path with data atomically: readers see either the
	// old or the new contents, never a partial write.
	WriteFile(path string, data []byte) error

	// Rename moves a file, replacing the destination.
	Rename(oldPath, newPath string) error

	// Remove deletes a file.
	Remove(path string) error

	// Exists reports whether anything exists at path.
	Exists(path string) bool

	// Lock takes an exclusive advisory lock for writing path. The returned
	// function releases it.
	Lock(path string) (unlock func() error, err error)

	// FindCards lists the PNG files directly inside dir, sorted by name,
	// skipping files matched by the configured ignore patterns.
	FindCards(dir *Path) ([]*Path, error)
}
