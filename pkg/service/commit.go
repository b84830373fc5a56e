package service

import (
	"context"
	"errors"
	"iter"
	"slices"

	"github.com/treeverse/vcsgate/pkg/manifest"
	"github.com/treeverse/vcsgate/pkg/revision"
	"github.com/treeverse/vcsgate/pkg/vcs"
	"github.com/treeverse/vcsgate/pkg/vcs/revset"
	"gitlab.com/gitlab-org/gitaly/v16/proto/go/gitalypb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type CommitServer struct {
	gitalypb.UnimplementedCommitServiceServer
	*Service
}

func (s *CommitServer) FindCommit(ctx context.Context, req *gitalypb.FindCommitRequest) (*gitalypb.FindCommitResponse, error) {
	ctx, h, err := s.open(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(req.Revision) == 0 {
		return nil, invalidArgument("empty revision")
	}
	cs, err := h.resolve(ctx, string(req.Revision))
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &gitalypb.FindCommitResponse{Commit: toGitCommit(cs)}, nil
}

func (s *CommitServer) CommitIsAncestor(ctx context.Context, req *gitalypb.CommitIsAncestorRequest) (*gitalypb.CommitIsAncestorResponse, error) {
	ctx, h, err := s.open(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.AncestorId == "" || req.ChildId == "" {
		return nil, invalidArgument("empty ancestor or child id")
	}
	ancestor, err := h.resolve(ctx, req.AncestorId)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	child, err := h.resolve(ctx, req.ChildId)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	if ancestor == nil || child == nil {
		return &gitalypb.CommitIsAncestorResponse{}, nil
	}
	value, err := h.resolver.IsAncestor(ctx, ancestor.ID, child.ID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &gitalypb.CommitIsAncestorResponse{Value: value}, nil
}

// history evaluates the commits of revision (a range expression) or of the whole
// repository, newest first.  An unresolved revision is an empty history.
func (h *handle) history(ctx context.Context, rev []byte, all bool) ([]*vcs.Changeset, error) {
	var expr revset.Expr = revset.Reverse{X: revset.All{}}
	if !all {
		r := string(rev)
		if r == "" {
			r = revision.HEAD
		}
		var err error
		expr, err = h.resolver.ResolveRange(ctx, r)
		if errors.Is(err, vcs.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}
	return h.repo.Evaluate(ctx, expr)
}

func (s *CommitServer) CountCommits(ctx context.Context, req *gitalypb.CountCommitsRequest) (*gitalypb.CountCommitsResponse, error) {
	ctx, h, err := s.open(ctx, req)
	if err != nil {
		return nil, err
	}
	switch {
	case req.All && len(req.Revision) > 0:
		return nil, invalidArgument("revision and all are mutually exclusive")
	case !req.All && len(req.Revision) == 0:
		return nil, invalidArgument("empty revision")
	case req.MaxCount < 0:
		return nil, invalidArgument("negative max count")
	}
	changesets, err := h.history(ctx, req.Revision, req.All)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	count := len(changesets)
	if req.MaxCount > 0 && count > int(req.MaxCount) {
		count = int(req.MaxCount)
	}
	return &gitalypb.CountCommitsResponse{Count: int32(count)}, nil
}

func (s *CommitServer) FindCommits(req *gitalypb.FindCommitsRequest, srv gitalypb.CommitService_FindCommitsServer) error {
	ctx, h, err := s.open(srv.Context(), req)
	if err != nil {
		return err
	}
	switch {
	case req.Limit < 0 || req.Offset < 0:
		return invalidArgument("negative limit or offset")
	case req.All && len(req.Revision) > 0:
		return invalidArgument("revision and all are mutually exclusive")
	}
	changesets, err := h.history(ctx, req.Revision, req.All)
	if err != nil {
		return toStatus(ctx, err)
	}
	if int(req.Offset) >= len(changesets) {
		return nil
	}
	changesets = changesets[req.Offset:]
	return toStatus(ctx, sendSlice(ctx, changesets, 0, int(req.Limit), func(batch []*vcs.Changeset) error {
		return srv.Send(&gitalypb.FindCommitsResponse{Commits: commitBatch(batch)})
	}))
}

func commitBatch(batch []*vcs.Changeset) []*gitalypb.GitCommit {
	commits := make([]*gitalypb.GitCommit, 0, len(batch))
	for _, cs := range batch {
		commits = append(commits, toGitCommit(cs))
	}
	return commits
}

func (s *CommitServer) ListCommits(req *gitalypb.ListCommitsRequest, srv gitalypb.CommitService_ListCommitsServer) error {
	ctx, h, err := s.open(srv.Context(), req)
	if err != nil {
		return err
	}
	if len(req.Revisions) == 0 {
		return invalidArgument("no revisions")
	}
	skip := int(req.GetSkip())
	if skip < 0 {
		return invalidArgument("negative skip")
	}
	expr, err := h.resolver.ResolveRevisions(ctx, req.Revisions)
	if errors.Is(err, vcs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return toStatus(ctx, err)
	}
	changesets, err := h.repo.Evaluate(ctx, expr)
	if err != nil {
		return toStatus(ctx, err)
	}
	if req.Reverse {
		slices.Reverse(changesets)
	}
	changesets = changesets[min(skip, len(changesets)):]

	limit := 0
	if p := req.PaginationParams; p != nil {
		limit = int(p.Limit)
		if p.PageToken != "" {
			i := slices.IndexFunc(changesets, func(cs *vcs.Changeset) bool { return cs.ID.String() == p.PageToken })
			if i < 0 {
				return invalidArgument("page token %q not found", p.PageToken)
			}
			changesets = changesets[i+1:]
		}
	}
	return toStatus(ctx, sendSlice(ctx, changesets, 0, limit, func(batch []*vcs.Changeset) error {
		return srv.Send(&gitalypb.ListCommitsResponse{Commits: commitBatch(batch)})
	}))
}

func (s *CommitServer) ListFiles(req *gitalypb.ListFilesRequest, srv gitalypb.CommitService_ListFilesServer) error {
	ctx, h, err := s.open(srv.Context(), req)
	if err != nil {
		return err
	}
	cs, err := h.resolveOrHEAD(ctx, req.Revision)
	if err != nil || cs == nil {
		return toStatus(ctx, err)
	}
	files, err := h.repo.Manifest(ctx, cs.ID)
	if err != nil {
		return toStatus(ctx, err)
	}
	return toStatus(ctx, sendSlice(ctx, files, pathBatchSize, 0, func(batch []vcs.FileEntry) error {
		paths := make([][]byte, 0, len(batch))
		for _, f := range batch {
			paths = append(paths, []byte(f.Path))
		}
		return srv.Send(&gitalypb.ListFilesResponse{Paths: paths})
	}))
}

func (s *CommitServer) GetTreeEntries(req *gitalypb.GetTreeEntriesRequest, srv gitalypb.CommitService_GetTreeEntriesServer) error {
	ctx, h, err := s.open(srv.Context(), req)
	if err != nil {
		return err
	}
	if len(req.Revision) == 0 {
		return invalidArgument("empty revision")
	}
	cs, err := h.resolve(ctx, string(req.Revision))
	if err != nil || cs == nil {
		return toStatus(ctx, err)
	}
	files, err := h.repo.Manifest(ctx, cs.ID)
	if err != nil {
		return toStatus(ctx, err)
	}
	dir, ok := manifest.Lookup(files, cs.ID, string(req.Path))
	if !ok || dir.Type != manifest.Tree {
		return nil
	}
	entries := manifest.List(files, cs.ID, dir.Path, manifest.ListOptions{
		Recursive:  req.Recursive,
		TreesFirst: req.Sort == gitalypb.GetTreeEntriesRequest_TREES_FIRST,
	})

	var cursor *gitalypb.PaginationCursor
	if p := req.PaginationParams; p != nil {
		if p.PageToken != "" {
			i := slices.IndexFunc(entries, func(e manifest.Entry) bool { return e.OID == p.PageToken })
			if i < 0 {
				return invalidArgument("page token %q not found", p.PageToken)
			}
			entries = entries[i+1:]
		}
		if p.Limit > 0 && int(p.Limit) < len(entries) {
			entries = entries[:p.Limit]
			cursor = &gitalypb.PaginationCursor{NextCursor: entries[len(entries)-1].OID}
		}
	}

	return toStatus(ctx, sendSlice(ctx, entries, pathBatchSize, 0, func(batch []manifest.Entry) error {
		resp := &gitalypb.GetTreeEntriesResponse{Entries: make([]*gitalypb.TreeEntry, 0, len(batch)), PaginationCursor: cursor}
		cursor = nil
		for _, e := range batch {
			entry := toTreeEntry(e, cs.ID)
			if !req.Recursive && e.Type == manifest.Tree {
				entry.FlatPath = []byte(manifest.FlatPath(files, cs.ID, e.Path))
			}
			resp.Entries = append(resp.Entries, entry)
		}
		return srv.Send(resp)
	}))
}

func (s *CommitServer) TreeEntry(req *gitalypb.TreeEntryRequest, srv gitalypb.CommitService_TreeEntryServer) error {
	ctx, h, err := s.open(srv.Context(), req)
	if err != nil {
		return err
	}
	switch {
	case len(req.Revision) == 0:
		return invalidArgument("empty revision")
	case len(req.Path) == 0:
		return invalidArgument("empty path")
	case req.Limit < 0 || req.MaxSize < 0:
		return invalidArgument("negative limit or max size")
	}
	cs, err := h.resolve(ctx, string(req.Revision))
	if err != nil || cs == nil {
		return toStatus(ctx, err)
	}
	files, err := h.repo.Manifest(ctx, cs.ID)
	if err != nil {
		return toStatus(ctx, err)
	}
	entry, ok := manifest.Lookup(files, cs.ID, string(req.Path))
	if !ok {
		return status.Errorf(codes.NotFound, "tree entry %q not found", req.Path)
	}
	if entry.Type == manifest.Tree {
		return srv.Send(&gitalypb.TreeEntryResponse{Type: gitalypb.TreeEntryResponse_TREE, Oid: entry.OID, Mode: treeMode})
	}
	data, err := h.repo.FileData(ctx, cs.ID, entry.Path)
	if err != nil {
		return toStatus(ctx, err)
	}
	size := int64(len(data))
	if req.MaxSize > 0 && size > req.MaxSize {
		return status.Errorf(codes.FailedPrecondition, "object size %d exceeds max size %d", size, req.MaxSize)
	}
	if req.Limit > 0 && int64(len(data)) > req.Limit {
		data = data[:req.Limit]
	}
	first := &gitalypb.TreeEntryResponse{Type: gitalypb.TreeEntryResponse_BLOB, Oid: entry.OID, Size: size, Mode: int32(entry.Mode)}
	if len(data) == 0 {
		return srv.Send(first)
	}
	return toStatus(ctx, sendChunks(ctx, single(data), s.blockSize, func(block []byte) error {
		resp := &gitalypb.TreeEntryResponse{Data: block}
		if first != nil {
			first.Data = block
			resp, first = first, nil
		}
		return srv.Send(resp)
	}))
}

func single(data []byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		yield(data, nil)
	}
}

func (s *CommitServer) RawBlame(req *gitalypb.RawBlameRequest, srv gitalypb.CommitService_RawBlameServer) error {
	if _, _, err := s.open(srv.Context(), req); err != nil {
		return err
	}
	return unimplemented("RawBlame", trackRawBlame)
}

func (s *CommitServer) CommitLanguages(ctx context.Context, req *gitalypb.CommitLanguagesRequest) (*gitalypb.CommitLanguagesResponse, error) {
	if _, _, err := s.open(ctx, req); err != nil {
		return nil, err
	}
	return nil, unimplemented("CommitLanguages", trackCommitLanguages)
}
