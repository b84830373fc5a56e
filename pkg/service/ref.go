package service

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/treeverse/vcsgate/pkg/refs"
	"github.com/treeverse/vcsgate/pkg/revision"
	"github.com/treeverse/vcsgate/pkg/stream"
	"github.com/treeverse/vcsgate/pkg/vcs"
	"gitlab.com/gitlab-org/gitaly/v16/proto/go/gitalypb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type RefServer struct {
	gitalypb.UnimplementedRefServiceServer
	*Service
}

// FindDefaultBranchName returns the default branch when it exists, otherwise the first
// branch, otherwise nothing.
func (s *RefServer) FindDefaultBranchName(ctx context.Context, req *gitalypb.FindDefaultBranchNameRequest) (*gitalypb.FindDefaultBranchNameResponse, error) {
	ctx, h, err := s.open(ctx, req)
	if err != nil {
		return nil, err
	}
	name, err := h.mapper.DefaultBranch()
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	_, err = h.mapper.Head(ctx, name)
	if errors.Is(err, vcs.ErrNotFound) {
		heads, err := h.mapper.Enumerate(ctx)
		if err != nil {
			return nil, toStatus(ctx, err)
		}
		if len(heads) == 0 {
			return &gitalypb.FindDefaultBranchNameResponse{}, nil
		}
		name = heads[0].Name
	} else if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &gitalypb.FindDefaultBranchNameResponse{Name: []byte(revision.HeadsPrefix + name)}, nil
}

func (s *RefServer) FindBranch(ctx context.Context, req *gitalypb.FindBranchRequest) (*gitalypb.FindBranchResponse, error) {
	ctx, h, err := s.open(ctx, req)
	if err != nil {
		return nil, err
	}
	name := branchName(string(req.Name))
	if name == "" {
		return nil, invalidArgument("empty branch name")
	}
	head, err := h.mapper.Head(ctx, name)
	if errors.Is(err, vcs.ErrNotFound) {
		return &gitalypb.FindBranchResponse{}, nil
	}
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &gitalypb.FindBranchResponse{Branch: toBranch(*head)}, nil
}

func (s *RefServer) FindLocalBranches(req *gitalypb.FindLocalBranchesRequest, srv gitalypb.RefService_FindLocalBranchesServer) error {
	ctx, h, err := s.open(srv.Context(), req)
	if err != nil {
		return err
	}
	heads, err := h.mapper.Enumerate(ctx)
	if err != nil {
		return toStatus(ctx, err)
	}
	switch req.SortBy {
	case gitalypb.FindLocalBranchesRequest_UPDATED_ASC:
		sort.SliceStable(heads, func(i, j int) bool {
			return heads[i].Changeset.Date.Before(heads[j].Changeset.Date)
		})
	case gitalypb.FindLocalBranchesRequest_UPDATED_DESC:
		sort.SliceStable(heads, func(i, j int) bool {
			return heads[i].Changeset.Date.After(heads[j].Changeset.Date)
		})
	}
	limit := 0
	if p := req.PaginationParams; p != nil {
		limit = int(p.Limit)
		if p.PageToken != "" {
			token := branchName(p.PageToken)
			i := slices.IndexFunc(heads, func(head refs.Head) bool { return head.Name == token })
			if i < 0 {
				return invalidArgument("page token %q not found", p.PageToken)
			}
			heads = heads[i+1:]
		}
	}
	return toStatus(ctx, sendSlice(ctx, heads, stream.DefaultBatchSize, limit, func(batch []refs.Head) error {
		branches := make([]*gitalypb.Branch, 0, len(batch))
		for _, head := range batch {
			branches = append(branches, toBranch(head))
		}
		return srv.Send(&gitalypb.FindLocalBranchesResponse{LocalBranches: branches})
	}))
}

func (s *RefServer) FindAllTags(req *gitalypb.FindAllTagsRequest, srv gitalypb.RefService_FindAllTagsServer) error {
	ctx, h, err := s.open(srv.Context(), req)
	if err != nil {
		return err
	}
	tags, err := h.mapper.Tags(ctx)
	if err != nil {
		return toStatus(ctx, err)
	}
	return toStatus(ctx, sendSlice(ctx, tags, stream.DefaultBatchSize, 0, func(batch []refs.Tag) error {
		out := make([]*gitalypb.Tag, 0, len(batch))
		for _, tag := range batch {
			out = append(out, toTag(tag))
		}
		return srv.Send(&gitalypb.FindAllTagsResponse{Tags: out})
	}))
}

func (s *RefServer) FindTag(ctx context.Context, req *gitalypb.FindTagRequest) (*gitalypb.FindTagResponse, error) {
	ctx, h, err := s.open(ctx, req)
	if err != nil {
		return nil, err
	}
	name := strings.TrimPrefix(string(req.TagName), revision.TagsPrefix)
	if name == "" {
		return nil, invalidArgument("empty tag name")
	}
	tag, err := h.mapper.Tag(ctx, name)
	if errors.Is(err, vcs.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "tag %q not found", name)
	}
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &gitalypb.FindTagResponse{Tag: toTag(*tag)}, nil
}

func (s *RefServer) RefExists(ctx context.Context, req *gitalypb.RefExistsRequest) (*gitalypb.RefExistsResponse, error) {
	ctx, h, err := s.open(ctx, req)
	if err != nil {
		return nil, err
	}
	ref := string(req.Ref)
	if !strings.HasPrefix(ref, revision.RefsPrefix) {
		return nil, invalidArgument("invalid ref %q", ref)
	}
	cs, err := h.resolve(ctx, ref)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &gitalypb.RefExistsResponse{Value: cs != nil}, nil
}

type reference struct {
	name   string
	target vcs.NodeID
}

// references lists every ref: branches, tags, special refs and keep-arounds, sorted by
// name.
func (h *handle) references(ctx context.Context) ([]reference, error) {
	var out []reference
	heads, err := h.mapper.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	for _, head := range heads {
		out = append(out, reference{name: revision.HeadsPrefix + head.Name, target: head.Changeset.ID})
	}
	tags, err := h.mapper.Tags(ctx)
	if err != nil {
		return nil, err
	}
	for _, tag := range tags {
		out = append(out, reference{name: revision.TagsPrefix + tag.Name, target: tag.Changeset.ID})
	}
	special, err := h.store.SpecialRefs()
	if err != nil {
		return nil, err
	}
	for _, e := range special {
		out = append(out, reference{name: e.Name, target: e.ID})
	}
	kept, err := h.store.KeepArounds()
	if err != nil {
		return nil, err
	}
	for _, id := range kept {
		out = append(out, reference{name: revision.KeepAroundPrefix + id.String(), target: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

// refMatcher selects refs by prefix ("refs/heads/") or by glob, where "*" stops at "/".
type refMatcher struct {
	prefixes []string
	globs    []glob.Glob
}

func (s *Service) refMatcher(patterns [][]byte) *refMatcher {
	m := &refMatcher{}
	for _, p := range patterns {
		pattern := string(p)
		if strings.HasSuffix(pattern, "/") {
			m.prefixes = append(m.prefixes, pattern)
			continue
		}
		g, err := s.matchers.GetOrSet(pattern, func() (v interface{}, err error) {
			return glob.Compile(pattern, '/')
		})
		if err != nil {
			// a malformed pattern matches nothing
			continue
		}
		m.globs = append(m.globs, g.(glob.Glob))
	}
	return m
}

func (m *refMatcher) match(name string) bool {
	if len(m.prefixes) == 0 && len(m.globs) == 0 {
		return true
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, g := range m.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func (s *RefServer) ListRefs(req *gitalypb.ListRefsRequest, srv gitalypb.RefService_ListRefsServer) error {
	ctx, h, err := s.open(srv.Context(), req)
	if err != nil {
		return err
	}
	all, err := h.references(ctx)
	if err != nil {
		return toStatus(ctx, err)
	}
	var selected []*gitalypb.ListRefsResponse_Reference
	if req.Head {
		cs, err := h.resolve(ctx, revision.HEAD)
		if err != nil {
			return toStatus(ctx, err)
		}
		if cs != nil {
			selected = append(selected, &gitalypb.ListRefsResponse_Reference{Name: []byte(revision.HEAD), Target: cs.ID.String()})
		}
	}
	matcher := s.refMatcher(req.Patterns)
	for _, ref := range all {
		if matcher.match(ref.name) {
			selected = append(selected, &gitalypb.ListRefsResponse_Reference{Name: []byte(ref.name), Target: ref.target.String()})
		}
	}
	return toStatus(ctx, sendSlice(ctx, selected, pathBatchSize, 0, func(batch []*gitalypb.ListRefsResponse_Reference) error {
		return srv.Send(&gitalypb.ListRefsResponse{References: batch})
	}))
}

func (s *RefServer) DeleteRefs(ctx context.Context, req *gitalypb.DeleteRefsRequest) (*gitalypb.DeleteRefsResponse, error) {
	if _, _, err := s.open(ctx, req); err != nil {
		return nil, err
	}
	return nil, unimplemented("DeleteRefs", trackDeleteRefs)
}
