package chara

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Path is a resolved absolute filesystem path with the stat info taken when
// it was resolved. Paths are created by FilesystemManager.Resolve.
type Path struct {
	absPath string
	isDir   bool
	info    fs.FileInfo
}

// NewPath creates a Path from its components. Intended for
// FilesystemManager implementations.
func NewPath(absPath string, isDir bool, info fs.FileInfo) *Path {
	return &Path{
		absPath: absPath,
		isDir:   isDir,
		info:    info,
	}
}

func (p *Path) String() string {
	return p.absPath
}

func (p *Path) IsDir() bool {
	return p.isDir
}

// Info returns the cached file info.
func (p *Path) Info() fs.FileInfo {
	return p.info
}

// IsPNG reports whether the path has a .png extension, in any case.
func (p *Path) IsPNG() bool {
	return !p.isDir && strings.EqualFold(filepath.Ext(p.absPath), ".png")
}
