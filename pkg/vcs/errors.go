package vcs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrRepositoryNotFound = fmt.Errorf("repository %w", ErrNotFound)
	ErrChangesetNotFound  = fmt.Errorf("changeset %w", ErrNotFound)
	ErrFileNotFound       = fmt.Errorf("file %w", ErrNotFound)
	// ErrAmbiguous is a not-found: callers that only care about unique matches treat both alike.
	ErrAmbiguous       = fmt.Errorf("ambiguous revision: %w", ErrNotFound)
	ErrInvalidValue    = errors.New("invalid value")
	ErrInvalidRevision = fmt.Errorf("revision: %w", ErrInvalidValue)
	ErrUnsupported     = errors.New("unsupported expression")
)
