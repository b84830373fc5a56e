package service

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/treeverse/vcsgate/pkg/vcs"
	"gitlab.com/gitlab-org/gitaly/v16/proto/go/gitalypb"
)

var ErrStorageNotFound = fmt.Errorf("storage %w", vcs.ErrNotFound)

// Locator turns a (storage name, relative path) pair into an open repository.
type Locator struct {
	storages map[string]string
	engine   vcs.Engine
}

func NewLocator(storages map[string]string, engine vcs.Engine) *Locator {
	return &Locator{storages: storages, engine: engine}
}

// Path returns the absolute path of repo.  The relative path may not leave the storage root.
func (l *Locator) Path(repo *gitalypb.Repository) (string, error) {
	if repo == nil {
		return "", fmt.Errorf("missing repository: %w", vcs.ErrInvalidValue)
	}
	root, ok := l.storages[repo.StorageName]
	if !ok {
		return "", fmt.Errorf("%q: %w", repo.StorageName, ErrStorageNotFound)
	}
	if !filepath.IsLocal(repo.RelativePath) {
		return "", fmt.Errorf("relative path %q: %w", repo.RelativePath, vcs.ErrRepositoryNotFound)
	}
	return filepath.Join(root, repo.RelativePath), nil
}

func (l *Locator) Open(ctx context.Context, repo *gitalypb.Repository) (vcs.Repository, error) {
	path, err := l.Path(repo)
	if err != nil {
		return nil, err
	}
	return l.engine.Open(ctx, path)
}
