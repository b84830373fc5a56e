package service_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treeverse/vcsgate/pkg/service"
	"github.com/treeverse/vcsgate/pkg/testutil"
	"github.com/treeverse/vcsgate/pkg/vcs/mem"
	"gitlab.com/gitlab-org/gitaly/v16/proto/go/gitalypb"
	"google.golang.org/grpc/codes"
)

func TestFindDefaultBranchName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	refs := &service.RefServer{Service: f.svc}

	resp, err := refs.FindDefaultBranchName(ctx, &gitalypb.FindDefaultBranchNameRequest{Repository: f.locator})
	testutil.Must(t, err)
	require.Equal(t, "refs/heads/branch/default", string(resp.Name))

	// a default branch that does not exist falls back to the first branch
	repos := &service.RepositoryServer{Service: f.svc}
	_, err = repos.WriteRef(ctx, &gitalypb.WriteRefRequest{Repository: f.locator, Ref: []byte("HEAD"), Revision: []byte("refs/heads/branch/gone")})
	testutil.Must(t, err)
	resp, err = refs.FindDefaultBranchName(ctx, &gitalypb.FindDefaultBranchNameRequest{Repository: f.locator})
	testutil.Must(t, err)
	require.Equal(t, "refs/heads/branch/default", string(resp.Name))

	_, err = repos.WriteRef(ctx, &gitalypb.WriteRefRequest{Repository: f.locator, Ref: []byte("HEAD"), Revision: []byte("refs/heads/branch/stable")})
	testutil.Must(t, err)
	resp, err = refs.FindDefaultBranchName(ctx, &gitalypb.FindDefaultBranchNameRequest{Repository: f.locator})
	testutil.Must(t, err)
	require.Equal(t, "refs/heads/branch/stable", string(resp.Name))

	commits := &service.CommitServer{Service: f.svc}
	commit, err := commits.FindCommit(ctx, &gitalypb.FindCommitRequest{Repository: f.locator, Revision: []byte("HEAD")})
	testutil.Must(t, err)
	require.Equal(t, f.c[3].ID.String(), commit.Commit.Id)
}

func TestFindBranch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	refs := &service.RefServer{Service: f.svc}

	resp, err := refs.FindBranch(ctx, &gitalypb.FindBranchRequest{Repository: f.locator, Name: []byte("refs/heads/branch/stable")})
	testutil.Must(t, err)
	require.Equal(t, "branch/stable", string(resp.Branch.Name))
	require.Equal(t, f.c[3].ID.String(), resp.Branch.TargetCommit.Id)

	resp, err = refs.FindBranch(ctx, &gitalypb.FindBranchRequest{Repository: f.locator, Name: []byte("branch/default")})
	testutil.Must(t, err)
	require.Equal(t, f.c[2].ID.String(), resp.Branch.TargetCommit.Id)

	resp, err = refs.FindBranch(ctx, &gitalypb.FindBranchRequest{Repository: f.locator, Name: []byte("nope")})
	testutil.Must(t, err)
	require.Nil(t, resp.Branch)

	_, err = refs.FindBranch(ctx, &gitalypb.FindBranchRequest{Repository: f.locator})
	requireCode(t, err, codes.InvalidArgument)
}

func TestHasLocalBranches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	repos := &service.RepositoryServer{Service: f.svc}

	has, err := repos.HasLocalBranches(ctx, &gitalypb.HasLocalBranchesRequest{Repository: f.locator})
	testutil.Must(t, err)
	require.True(t, has.Value)

	empty := mem.NewEngine()
	root := t.TempDir()
	empty.Create(filepath.Join(root, "empty"))
	svc := service.New(service.Config{Storages: map[string]string{storageName: root}, Engine: empty})
	has, err = (&service.RepositoryServer{Service: svc}).HasLocalBranches(ctx, &gitalypb.HasLocalBranchesRequest{
		Repository: &gitalypb.Repository{StorageName: storageName, RelativePath: "empty"},
	})
	testutil.Must(t, err)
	require.False(t, has.Value)
}

func TestFindLocalBranches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	refs := &service.RefServer{Service: f.svc}

	list := func(req *gitalypb.FindLocalBranchesRequest) ([]string, error) {
		req.Repository = f.locator
		srv := newStream[gitalypb.FindLocalBranchesResponse](ctx)
		err := refs.FindLocalBranches(req, srv)
		var names []string
		for _, resp := range srv.sent {
			for _, b := range resp.LocalBranches {
				names = append(names, string(b.Name))
			}
		}
		return names, err
	}

	names, err := list(&gitalypb.FindLocalBranchesRequest{})
	testutil.Must(t, err)
	require.Equal(t, []string{"branch/default", "branch/stable"}, names)

	// c3 is the most recent changeset
	names, err = list(&gitalypb.FindLocalBranchesRequest{SortBy: gitalypb.FindLocalBranchesRequest_UPDATED_DESC})
	testutil.Must(t, err)
	require.Equal(t, []string{"branch/stable", "branch/default"}, names)

	names, err = list(&gitalypb.FindLocalBranchesRequest{PaginationParams: &gitalypb.PaginationParameter{Limit: 1}})
	testutil.Must(t, err)
	require.Equal(t, []string{"branch/default"}, names)

	names, err = list(&gitalypb.FindLocalBranchesRequest{PaginationParams: &gitalypb.PaginationParameter{PageToken: "refs/heads/branch/default"}})
	testutil.Must(t, err)
	require.Equal(t, []string{"branch/stable"}, names)

	_, err = list(&gitalypb.FindLocalBranchesRequest{PaginationParams: &gitalypb.PaginationParameter{PageToken: "nope"}})
	requireCode(t, err, codes.InvalidArgument)
}

func TestTags(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	refs := &service.RefServer{Service: f.svc}

	srv := newStream[gitalypb.FindAllTagsResponse](ctx)
	testutil.Must(t, refs.FindAllTags(&gitalypb.FindAllTagsRequest{Repository: f.locator}, srv))
	require.Len(t, srv.sent, 1)
	require.Len(t, srv.sent[0].Tags, 1)
	require.Equal(t, "v1.0", string(srv.sent[0].Tags[0].Name))
	require.Equal(t, f.c[1].ID.String(), srv.sent[0].Tags[0].TargetCommit.Id)

	resp, err := refs.FindTag(ctx, &gitalypb.FindTagRequest{Repository: f.locator, TagName: []byte("v1.0")})
	testutil.Must(t, err)
	require.Equal(t, f.c[1].ID.String(), resp.Tag.Id)

	_, err = refs.FindTag(ctx, &gitalypb.FindTagRequest{Repository: f.locator, TagName: []byte("nope")})
	requireCode(t, err, codes.NotFound)

	// tip is not a tag
	_, err = refs.FindTag(ctx, &gitalypb.FindTagRequest{Repository: f.locator, TagName: []byte("tip")})
	requireCode(t, err, codes.NotFound)
}

func TestRefExists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	refs := &service.RefServer{Service: f.svc}

	cases := []struct {
		ref      string
		expected bool
	}{
		{ref: "refs/heads/branch/default", expected: true},
		{ref: "refs/heads/branch/nope", expected: false},
		{ref: "refs/tags/v1.0", expected: true},
		{ref: "refs/merge-requests/1/head", expected: false},
		{ref: "refs/keep-around/" + f.c[3].ID.String(), expected: false},
	}
	for _, tc := range cases {
		resp, err := refs.RefExists(ctx, &gitalypb.RefExistsRequest{Repository: f.locator, Ref: []byte(tc.ref)})
		testutil.Must(t, err)
		require.Equal(t, tc.expected, resp.Value, tc.ref)
	}

	_, err := refs.RefExists(ctx, &gitalypb.RefExistsRequest{Repository: f.locator, Ref: []byte("foo")})
	requireCode(t, err, codes.InvalidArgument)
}

func TestListRefs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	refs := &service.RefServer{Service: f.svc}

	list := func(req *gitalypb.ListRefsRequest) []string {
		req.Repository = f.locator
		srv := newStream[gitalypb.ListRefsResponse](ctx)
		testutil.Must(t, refs.ListRefs(req, srv))
		var out []string
		for _, resp := range srv.sent {
			for _, ref := range resp.References {
				out = append(out, string(ref.Name)+" "+ref.Target)
			}
		}
		return out
	}

	require.Equal(t, []string{
		"HEAD " + f.c[2].ID.String(),
		"refs/heads/branch/default " + f.c[2].ID.String(),
		"refs/heads/branch/stable " + f.c[3].ID.String(),
		"refs/tags/v1.0 " + f.c[1].ID.String(),
	}, list(&gitalypb.ListRefsRequest{Head: true}))

	require.Equal(t, []string{"refs/tags/v1.0 " + f.c[1].ID.String()},
		list(&gitalypb.ListRefsRequest{Patterns: [][]byte{[]byte("refs/tags/")}}))

	require.Equal(t, []string{"refs/heads/branch/stable " + f.c[3].ID.String()},
		list(&gitalypb.ListRefsRequest{Patterns: [][]byte{[]byte("refs/heads/branch/st*")}}))
}
