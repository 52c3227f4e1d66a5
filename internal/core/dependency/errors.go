package dependency

import "errors"

var (
	// ErrNoSource means a dependency declared neither a url nor contents.
	ErrNoSource = errors.New("dependency: either url or contents must be set")
	// ErrAmbiguousSource means a dependency declared both a url and contents.
	ErrAmbiguousSource = errors.New("dependency: url and contents are mutually exclusive")
	// ErrContentsNotInline means literal contents were combined with a
	// load mode other than inline.
	ErrContentsNotInline = errors.New("dependency: literal contents require the inline load mode")
	// ErrUnknownKind is returned when parsing an unrecognized kind name.
	ErrUnknownKind = errors.New("dependency: unknown kind")
	// ErrUnknownLoadMode is returned when parsing an unrecognized load mode name.
	ErrUnknownLoadMode = errors.New("dependency: unknown load mode")
)
