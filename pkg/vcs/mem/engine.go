package mem

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/treeverse/vcsgate/pkg/vcs"
)

// Engine serves repositories registered by absolute path.
type Engine struct {
	mu    sync.RWMutex
	repos map[string]*Repository
}

func NewEngine() *Engine {
	return &Engine{repos: make(map[string]*Repository)}
}

// Create registers and returns a new empty repository at path.
func (e *Engine) Create(path string) *Repository {
	repo := NewRepository(filepath.Clean(path))
	e.mu.Lock()
	e.repos[repo.root] = repo
	e.mu.Unlock()
	return repo
}

func (e *Engine) Open(_ context.Context, path string) (vcs.Repository, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	repo, ok := e.repos[filepath.Clean(path)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, vcs.ErrRepositoryNotFound)
	}
	return repo, nil
}
