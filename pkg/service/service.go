// Package service implements the Gitaly commit, ref, diff and repository services over the
// native engine.  Every request opens its own repository handle.
package service

import (
	"context"
	"errors"

	"github.com/treeverse/vcsgate/pkg/cache"
	"github.com/treeverse/vcsgate/pkg/diff"
	"github.com/treeverse/vcsgate/pkg/logging"
	"github.com/treeverse/vcsgate/pkg/refs"
	"github.com/treeverse/vcsgate/pkg/revision"
	"github.com/treeverse/vcsgate/pkg/state"
	"github.com/treeverse/vcsgate/pkg/stream"
	"github.com/treeverse/vcsgate/pkg/vcs"
	"gitlab.com/gitlab-org/gitaly/v16/proto/go/gitalypb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Config struct {
	Storages map[string]string
	Engine   vcs.Engine
	// StateCache is shared by every request of the process; nil disables caching.
	StateCache       cache.Cache
	RenameSimilarity int
	BlockSize        int
}

// refPatternCacheSize bounds the compiled ListRefs patterns kept per process.
const refPatternCacheSize = 256

type Service struct {
	locator    *Locator
	stateCache cache.Cache
	matchers   cache.Cache
	diffOpts   []diff.Option
	blockSize  int
}

func New(cfg Config) *Service {
	stateCache := cfg.StateCache
	if stateCache == nil {
		stateCache = cache.NoCache
	}
	var diffOpts []diff.Option
	if cfg.RenameSimilarity > 0 {
		diffOpts = append(diffOpts, diff.WithRenameSimilarity(cfg.RenameSimilarity))
	}
	var matchers cache.Cache = cache.NoCache
	if c, err := cache.NewCache(cache.Params{Name: "ref_patterns", Size: refPatternCacheSize}); err == nil {
		matchers = c
	}
	return &Service{
		locator:    NewLocator(cfg.Storages, cfg.Engine),
		stateCache: stateCache,
		matchers:   matchers,
		diffOpts:   diffOpts,
		blockSize:  stream.BlockSize(cfg.BlockSize),
	}
}

// Register adds the four services to srv.
func (s *Service) Register(srv grpc.ServiceRegistrar) {
	gitalypb.RegisterCommitServiceServer(srv, &CommitServer{Service: s})
	gitalypb.RegisterRefServiceServer(srv, &RefServer{Service: s})
	gitalypb.RegisterDiffServiceServer(srv, &DiffServer{Service: s})
	gitalypb.RegisterRepositoryServiceServer(srv, &RepositoryServer{Service: s})
}

// repositoryRequest is implemented by every request carrying a repository locator.
type repositoryRequest interface {
	GetRepository() *gitalypb.Repository
}

// handle bundles the per request helpers over one repository.
type handle struct {
	repo     vcs.Repository
	store    *state.Store
	mapper   *refs.Mapper
	resolver *revision.Resolver
}

// open locates and opens the request repository.  Failing to do so is NOT_FOUND.
func (s *Service) open(ctx context.Context, req repositoryRequest) (context.Context, *handle, error) {
	r := req.GetRepository()
	if r != nil {
		ctx = logging.AddFields(ctx, logging.Fields{
			logging.StorageFieldKey:      r.GetStorageName(),
			logging.RelativePathFieldKey: r.GetRelativePath(),
		})
	}
	repo, err := s.locator.Open(ctx, r)
	if err != nil {
		if errors.Is(err, vcs.ErrInvalidValue) {
			return ctx, nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if errors.Is(err, vcs.ErrNotFound) {
			return ctx, nil, status.Error(codes.NotFound, err.Error())
		}
		return ctx, nil, toStatus(ctx, err)
	}
	store := state.NewStore(repo.StateDir(), s.stateCache)
	mapper := refs.NewMapper(repo, store)
	return ctx, &handle{
		repo:     repo,
		store:    store,
		mapper:   mapper,
		resolver: revision.NewResolver(repo, mapper, store),
	}, nil
}

// resolve resolves rev softly: a revision that does not resolve is (nil, nil).
func (h *handle) resolve(ctx context.Context, rev string) (*vcs.Changeset, error) {
	cs, err := h.resolver.Resolve(ctx, rev)
	if errors.Is(err, vcs.ErrNotFound) {
		return nil, nil
	}
	return cs, err
}

// resolveOrHEAD is resolve with an empty revision standing for HEAD.
func (h *handle) resolveOrHEAD(ctx context.Context, rev []byte) (*vcs.Changeset, error) {
	if len(rev) == 0 {
		return h.resolve(ctx, revision.HEAD)
	}
	return h.resolve(ctx, string(rev))
}

func (s *Service) synthesizer(repo vcs.Repository) *diff.Synthesizer {
	return diff.NewSynthesizer(repo, s.diffOpts...)
}
