package service

import (
	"context"
	"errors"
	"strings"

	"github.com/treeverse/vcsgate/pkg/archive"
	"github.com/treeverse/vcsgate/pkg/logging"
	"github.com/treeverse/vcsgate/pkg/revision"
	"github.com/treeverse/vcsgate/pkg/stream"
	"github.com/treeverse/vcsgate/pkg/vcs"
	"gitlab.com/gitlab-org/gitaly/v16/proto/go/gitalypb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type RepositoryServer struct {
	gitalypb.UnimplementedRepositoryServiceServer
	*Service
}

// RepositoryExists is the one RPC where an unresolvable path is an answer, not an error.
// An unknown storage is still NOT_FOUND.
func (s *RepositoryServer) RepositoryExists(ctx context.Context, req *gitalypb.RepositoryExistsRequest) (*gitalypb.RepositoryExistsResponse, error) {
	_, err := s.locator.Path(req.GetRepository())
	if errors.Is(err, ErrStorageNotFound) {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	if errors.Is(err, vcs.ErrInvalidValue) {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err != nil {
		return &gitalypb.RepositoryExistsResponse{}, nil
	}
	_, err = s.locator.Open(ctx, req.GetRepository())
	if errors.Is(err, vcs.ErrNotFound) {
		return &gitalypb.RepositoryExistsResponse{}, nil
	}
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &gitalypb.RepositoryExistsResponse{Exists: true}, nil
}

func (s *RepositoryServer) HasLocalBranches(ctx context.Context, req *gitalypb.HasLocalBranchesRequest) (*gitalypb.HasLocalBranchesResponse, error) {
	ctx, h, err := s.open(ctx, req)
	if err != nil {
		return nil, err
	}
	heads, err := h.mapper.Enumerate(ctx)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &gitalypb.HasLocalBranchesResponse{Value: len(heads) > 0}, nil
}

var archiveFormats = map[gitalypb.GetArchiveRequest_Format]archive.Format{
	gitalypb.GetArchiveRequest_ZIP:     archive.Zip,
	gitalypb.GetArchiveRequest_TAR:     archive.Tar,
	gitalypb.GetArchiveRequest_TAR_GZ:  archive.TarGz,
	gitalypb.GetArchiveRequest_TAR_BZ2: archive.TarBz2,
}

func (s *RepositoryServer) GetArchive(req *gitalypb.GetArchiveRequest, srv gitalypb.RepositoryService_GetArchiveServer) error {
	ctx, h, err := s.open(srv.Context(), req)
	if err != nil {
		return err
	}
	if req.CommitId == "" {
		return invalidArgument("empty commit id")
	}
	format, ok := archiveFormats[req.Format]
	if !ok {
		return invalidArgument("unknown archive format %d", req.Format)
	}
	cs, err := h.resolve(ctx, req.CommitId)
	if err != nil || cs == nil {
		return toStatus(ctx, err)
	}
	exclude := make([]string, 0, len(req.Exclude))
	for _, x := range req.Exclude {
		exclude = append(exclude, string(x))
	}
	w := stream.NewBlockWriter(s.blockSize, func(block []byte) error {
		return srv.Send(&gitalypb.GetArchiveResponse{Data: block})
	})
	err = archive.Write(ctx, w, h.repo, cs, archive.Options{
		Format:  format,
		Prefix:  req.Prefix,
		Path:    string(req.Path),
		Exclude: exclude,
	})
	if err != nil {
		return toStatus(ctx, err)
	}
	return toStatus(ctx, w.Flush())
}

// WriteRef records refs the native engine has no notion of.  Branch and tag refs are
// derived from the engine, so writes to them are ignored.
func (s *RepositoryServer) WriteRef(ctx context.Context, req *gitalypb.WriteRefRequest) (*gitalypb.WriteRefResponse, error) {
	ctx, h, err := s.open(ctx, req)
	if err != nil {
		return nil, err
	}
	ref, rev := string(req.Ref), string(req.Revision)
	if ref == "" || rev == "" {
		return nil, invalidArgument("empty ref or revision")
	}
	log := logging.FromContext(ctx).WithField("ref", ref)

	switch {
	case ref == revision.HEAD:
		if !strings.HasPrefix(rev, revision.HeadsPrefix) {
			return nil, invalidArgument("HEAD must point at a branch, got %q", rev)
		}
		if err := h.store.SetDefaultBranch(branchName(rev)); err != nil {
			return nil, toStatus(ctx, err)
		}
		return &gitalypb.WriteRefResponse{}, nil
	case strings.HasPrefix(ref, revision.HeadsPrefix), strings.HasPrefix(ref, revision.TagsPrefix):
		log.Debug("Ignoring write to a derived ref")
		return &gitalypb.WriteRefResponse{}, nil
	case !strings.HasPrefix(ref, revision.RefsPrefix):
		return nil, invalidArgument("invalid ref %q", ref)
	}

	cs, err := h.resolve(ctx, rev)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	if cs == nil {
		return nil, status.Errorf(codes.NotFound, "revision %q not found", rev)
	}

	if strings.HasPrefix(ref, revision.KeepAroundPrefix) {
		if err := h.store.AddKeepAround(cs.ID); err != nil {
			return nil, toStatus(ctx, err)
		}
		return &gitalypb.WriteRefResponse{}, nil
	}
	if len(req.OldRevision) > 0 {
		current, err := h.store.SpecialRef(ref)
		if err != nil && !errors.Is(err, vcs.ErrNotFound) {
			return nil, toStatus(ctx, err)
		}
		if current.String() != string(req.OldRevision) {
			return nil, status.Errorf(codes.FailedPrecondition, "ref %q is at %q, not %q", ref, current, req.OldRevision)
		}
	}
	if err := h.store.SetSpecialRef(ref, cs.ID); err != nil {
		return nil, toStatus(ctx, err)
	}
	log.WithField(logging.RevisionFieldKey, cs.ID.String()).Debug("Special ref written")
	return &gitalypb.WriteRefResponse{}, nil
}

func (s *RepositoryServer) RepositorySize(ctx context.Context, req *gitalypb.RepositorySizeRequest) (*gitalypb.RepositorySizeResponse, error) {
	if _, _, err := s.open(ctx, req); err != nil {
		return nil, err
	}
	return nil, unimplemented("RepositorySize", trackRepositorySize)
}
