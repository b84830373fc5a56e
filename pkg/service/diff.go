package service

import (
	"bytes"
	"context"
	"slices"
	"strings"

	"github.com/treeverse/vcsgate/pkg/diff"
	"github.com/treeverse/vcsgate/pkg/oid"
	"github.com/treeverse/vcsgate/pkg/stream"
	"github.com/treeverse/vcsgate/pkg/vcs"
	"gitlab.com/gitlab-org/gitaly/v16/proto/go/gitalypb"
)

type DiffServer struct {
	gitalypb.UnimplementedDiffServiceServer
	*Service
}

// endpoints resolves both sides of a diff.  Both are required; the empty tree id stands
// for a side without files and resolves to nil.
func (h *handle) endpoints(ctx context.Context, left, right string) (*vcs.Changeset, *vcs.Changeset, error) {
	if left == "" || right == "" {
		return nil, nil, invalidArgument("empty left or right commit id")
	}
	l, err := h.endpoint(ctx, left)
	if err != nil {
		return nil, nil, endpointError(ctx, "left", left, err)
	}
	r, err := h.endpoint(ctx, right)
	if err != nil {
		return nil, nil, endpointError(ctx, "right", right, err)
	}
	return l, r, nil
}

func (h *handle) endpoint(ctx context.Context, rev string) (*vcs.Changeset, error) {
	if oid.IsEmptyTree(rev) {
		return nil, nil
	}
	return h.resolver.Resolve(ctx, rev)
}

func (s *DiffServer) openDiff(ctx context.Context, req repositoryRequest, left, right string) (context.Context, *handle, *vcs.Changeset, *vcs.Changeset, error) {
	ctx, h, err := s.open(ctx, req)
	if err != nil {
		return ctx, nil, nil, nil, err
	}
	l, r, err := h.endpoints(ctx, left, right)
	return ctx, h, l, r, err
}

func (s *DiffServer) RawDiff(req *gitalypb.RawDiffRequest, srv gitalypb.DiffService_RawDiffServer) error {
	ctx, h, left, right, err := s.openDiff(srv.Context(), req, req.GetLeftCommitId(), req.GetRightCommitId())
	if err != nil {
		return err
	}
	chunks := s.synthesizer(h.repo).RawDiff(ctx, left, right)
	return toStatus(ctx, sendChunks(ctx, chunks, s.blockSize, func(block []byte) error {
		return srv.Send(&gitalypb.RawDiffResponse{Data: block})
	}))
}

// exported lists the changesets right has and left lacks, oldest first.  A nil left
// exports every ancestor of right, a nil right nothing.
func (h *handle) exported(ctx context.Context, left, right *vcs.Changeset) ([]*vcs.Changeset, error) {
	if right == nil {
		return nil, nil
	}
	rng := right.ID.String()
	if left != nil {
		rng = left.ID.String() + ".." + rng
	}
	expr, err := h.resolver.ResolveRange(ctx, rng)
	if err != nil {
		return nil, err
	}
	changesets, err := h.repo.Evaluate(ctx, expr, vcs.WithHidden())
	if err != nil {
		return nil, err
	}
	slices.Reverse(changesets)
	return changesets, nil
}

func (s *DiffServer) RawPatch(req *gitalypb.RawPatchRequest, srv gitalypb.DiffService_RawPatchServer) error {
	ctx, h, left, right, err := s.openDiff(srv.Context(), req, req.GetLeftCommitId(), req.GetRightCommitId())
	if err != nil {
		return err
	}
	changesets, err := h.exported(ctx, left, right)
	if err != nil {
		return toStatus(ctx, err)
	}
	chunks := s.synthesizer(h.repo).RawPatch(ctx, changesets)
	return toStatus(ctx, sendChunks(ctx, chunks, s.blockSize, func(block []byte) error {
		return srv.Send(&gitalypb.RawPatchResponse{Data: block})
	}))
}

func matchPaths(fd *diff.FileDiff, paths [][]byte) bool {
	if len(paths) == 0 {
		return true
	}
	for _, p := range paths {
		prefix := strings.TrimSuffix(string(p), "/")
		for _, candidate := range []string{fd.OldPath(), fd.NewPath()} {
			if candidate == prefix || strings.HasPrefix(candidate, prefix+"/") {
				return true
			}
		}
	}
	return false
}

func lineCount(patch []byte) int {
	return bytes.Count(patch, []byte("\n"))
}

func (s *DiffServer) CommitDiff(req *gitalypb.CommitDiffRequest, srv gitalypb.DiffService_CommitDiffServer) error {
	ctx, h, left, right, err := s.openDiff(srv.Context(), req, req.GetLeftCommitId(), req.GetRightCommitId())
	if err != nil {
		return err
	}
	if req.MaxFiles < 0 || req.MaxLines < 0 || req.MaxBytes < 0 || req.MaxPatchBytes < 0 {
		return invalidArgument("negative limit")
	}
	diffs, err := s.synthesizer(h.repo).Diff(ctx, left, right)
	if err != nil {
		return toStatus(ctx, err)
	}
	var files, lines, size int
	for i := range diffs {
		fd := &diffs[i]
		if !matchPaths(fd, req.Paths) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return toStatus(ctx, err)
		}
		patch := diff.FormatHunks(fd)
		files++
		lines += lineCount(patch)
		size += len(patch)
		if req.EnforceLimits &&
			((req.MaxFiles > 0 && files > int(req.MaxFiles)) ||
				(req.MaxLines > 0 && lines > int(req.MaxLines)) ||
				(req.MaxBytes > 0 && size > int(req.MaxBytes))) {
			return srv.Send(&gitalypb.CommitDiffResponse{OverflowMarker: true, EndOfPatch: true})
		}
		header := func() *gitalypb.CommitDiffResponse {
			resp := &gitalypb.CommitDiffResponse{
				FromPath: []byte(fd.OldPath()),
				ToPath:   []byte(fd.NewPath()),
				FromId:   fd.OldOID(),
				ToId:     fd.NewOID(),
				Binary:   fd.Binary,
			}
			if fd.From != nil {
				resp.OldMode = int32(fd.From.Mode)
			}
			if fd.To != nil {
				resp.NewMode = int32(fd.To.Mode)
			}
			return resp
		}
		if req.MaxPatchBytes > 0 && len(patch) > int(req.MaxPatchBytes) {
			resp := header()
			resp.TooLarge = true
			resp.EndOfPatch = true
			if err := srv.Send(resp); err != nil {
				return toStatus(ctx, err)
			}
			continue
		}
		if err := s.sendPatch(srv, header, patch); err != nil {
			return toStatus(ctx, err)
		}
	}
	return nil
}

// sendPatch sends one file patch in blocks, each carrying the file metadata.
func (s *DiffServer) sendPatch(srv gitalypb.DiffService_CommitDiffServer, header func() *gitalypb.CommitDiffResponse, patch []byte) error {
	if len(patch) == 0 {
		resp := header()
		resp.EndOfPatch = true
		return srv.Send(resp)
	}
	blocks := stream.Rechunk(func(yield func([]byte) bool) { yield(patch) }, s.blockSize)
	var pending []byte
	for block := range blocks {
		if pending != nil {
			resp := header()
			resp.RawPatchData = pending
			if err := srv.Send(resp); err != nil {
				return err
			}
		}
		pending = block
	}
	resp := header()
	resp.RawPatchData = pending
	resp.EndOfPatch = true
	return srv.Send(resp)
}

func (s *DiffServer) DiffStats(req *gitalypb.DiffStatsRequest, srv gitalypb.DiffService_DiffStatsServer) error {
	ctx, h, left, right, err := s.openDiff(srv.Context(), req, req.GetLeftCommitId(), req.GetRightCommitId())
	if err != nil {
		return err
	}
	diffs, err := s.synthesizer(h.repo).Diff(ctx, left, right)
	if err != nil {
		return toStatus(ctx, err)
	}
	return toStatus(ctx, sendSlice(ctx, diff.Stats(diffs), pathBatchSize, 0, func(batch []diff.Stat) error {
		stats := make([]*gitalypb.DiffStats, 0, len(batch))
		for _, st := range batch {
			out := &gitalypb.DiffStats{
				Path:      []byte(st.Path),
				Additions: int32(st.Additions),
				Deletions: int32(st.Deletions),
			}
			if st.OldPath != st.Path {
				out.OldPath = []byte(st.OldPath)
			}
			stats = append(stats, out)
		}
		return srv.Send(&gitalypb.DiffStatsResponse{Stats: stats})
	}))
}
