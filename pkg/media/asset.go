// Package media resolves stored audio assets and streams their bytes over
// HTTP with range support.
package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LegacyContentType is sent for every asset when content types are not
// derived from the file extension.
const LegacyContentType = "audio/mpeg"

// Asset is an immutable reference to a stored audio file.
type Asset struct {
	Path        string
	Size        uint64
	ContentType string
}

// Library maps owner/file name pairs onto files below a media root.
type Library struct {
	root    string
	allowed map[string]bool
	legacy  bool
}

// NewLibrary creates a library rooted at root serving files whose extension
// is in allowed. When legacyContentType is set every asset is typed audio/mpeg.
func NewLibrary(root string, allowed map[string]bool, legacyContentType bool) *Library {
	return &Library{
		root:    root,
		allowed: allowed,
		legacy:  legacyContentType,
	}
}

// Root returns the media root directory.
func (l *Library) Root() string {
	return l.root
}

// Allowed reports whether files with extension ext may be stored and served.
func (l *Library) Allowed(ext string) bool {
	return l.allowed[strings.ToLower(ext)]
}

// Path returns the on-disk path for owner/filename after validating both
// components.
func (l *Library) Path(owner, filename string) (string, error) {
	if err := checkComponent(owner); err != nil {
		return "", fmt.Errorf("owner %q: %w", owner, err)
	}
	if err := checkComponent(filename); err != nil {
		return "", fmt.Errorf("file %q: %w", filename, err)
	}
	if !l.Allowed(filepath.Ext(filename)) {
		return "", fmt.Errorf("file type %q: %w", filepath.Ext(filename), ErrInvalidPath)
	}
	return filepath.Join(l.root, owner, filename), nil
}

// Resolve stats owner/filename and returns the asset describing it.
func (l *Library) Resolve(owner, filename string) (Asset, error) {
	path, err := l.Path(owner, filename)
	if err != nil {
		return Asset{}, err
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Asset{}, fmt.Errorf("%s/%s: %w", owner, filename, ErrNotFound)
	}
	if err != nil {
		return Asset{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return Asset{}, fmt.Errorf("%s/%s is not a regular file: %w", owner, filename, ErrNotFound)
	}

	return Asset{
		Path:        path,
		Size:        uint64(info.Size()),
		ContentType: l.ContentType(filename),
	}, nil
}

// Create opens a new file for owner/filename, creating the owner directory.
// It never overwrites an existing file.
func (l *Library) Create(owner, filename string) (*os.File, error) {
	path, err := l.Path(owner, filename)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create owner dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

// ContentType returns the media type sent for filename.
func (l *Library) ContentType(filename string) string {
	if l.legacy {
		return LegacyContentType
	}
	return ContentTypeFor(filepath.Ext(filename))
}

// ContentTypeFor maps an audio file extension to its media type.
func ContentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".aac":
		return "audio/aac"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// checkComponent rejects anything that is not a single plain path element.
func checkComponent(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidPath
	case strings.ContainsAny(name, "/\\\x00"):
		return ErrInvalidPath
	case strings.HasPrefix(name, "."):
		return ErrInvalidPath
	case filepath.Base(name) != name:
		return ErrInvalidPath
	}
	return nil
}
