package media

import "errors"

var (
	// ErrNotFound means the asset is not on disk.
	ErrNotFound = errors.New("media not found")
	// ErrBadRange means a Range header was malformed or out of bounds.
	ErrBadRange = errors.New("requested range not satisfiable")
	// ErrInvalidPath means an owner or file name tried to escape the media root.
	ErrInvalidPath = errors.New("invalid media path")
)
