package service_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treeverse/vcsgate/pkg/service"
	"github.com/treeverse/vcsgate/pkg/testutil"
	"gitlab.com/gitlab-org/gitaly/v16/proto/go/gitalypb"
	"google.golang.org/grpc/codes"
)

func TestRepositoryExists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	repos := &service.RepositoryServer{Service: f.svc}

	resp, err := repos.RepositoryExists(ctx, &gitalypb.RepositoryExistsRequest{Repository: f.locator})
	testutil.Must(t, err)
	require.True(t, resp.Exists)

	resp, err = repos.RepositoryExists(ctx, &gitalypb.RepositoryExistsRequest{Repository: &gitalypb.Repository{StorageName: storageName, RelativePath: "group/other"}})
	testutil.Must(t, err)
	require.False(t, resp.Exists)

	resp, err = repos.RepositoryExists(ctx, &gitalypb.RepositoryExistsRequest{Repository: &gitalypb.Repository{StorageName: storageName, RelativePath: "../outside"}})
	testutil.Must(t, err)
	require.False(t, resp.Exists)

	_, err = repos.RepositoryExists(ctx, &gitalypb.RepositoryExistsRequest{Repository: &gitalypb.Repository{StorageName: "nope", RelativePath: "group/project"}})
	requireCode(t, err, codes.NotFound)

	_, err = repos.RepositoryExists(ctx, &gitalypb.RepositoryExistsRequest{})
	requireCode(t, err, codes.InvalidArgument)
}

func TestGetArchive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 64)
	repos := &service.RepositoryServer{Service: f.svc}

	srv := newStream[gitalypb.GetArchiveResponse](ctx)
	err := repos.GetArchive(&gitalypb.GetArchiveRequest{
		Repository: f.locator,
		CommitId:   f.c[2].ID.String(),
		Prefix:     "project",
		Format:     gitalypb.GetArchiveRequest_TAR,
		Exclude:    [][]byte{[]byte("src")},
	}, srv)
	testutil.Must(t, err)
	require.Greater(t, len(srv.sent), 1)

	var buf bytes.Buffer
	for _, resp := range srv.sent {
		require.LessOrEqual(t, len(resp.Data), 64)
		buf.Write(resp.Data)
	}
	tr := tar.NewReader(&buf)
	var names []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		testutil.Must(t, err)
		names = append(names, hdr.Name)
	}
	require.Equal(t, []string{"project/", "project/README", "project/docs/", "project/docs/a/", "project/docs/a/b.txt"}, names)

	// an unresolved commit is an empty archive stream
	srv = newStream[gitalypb.GetArchiveResponse](ctx)
	testutil.Must(t, repos.GetArchive(&gitalypb.GetArchiveRequest{Repository: f.locator, CommitId: "nope"}, srv))
	require.Empty(t, srv.sent)

	err = repos.GetArchive(&gitalypb.GetArchiveRequest{Repository: f.locator, CommitId: "HEAD", Format: 42}, newStream[gitalypb.GetArchiveResponse](ctx))
	requireCode(t, err, codes.InvalidArgument)

	err = repos.GetArchive(&gitalypb.GetArchiveRequest{Repository: f.locator, CommitId: "HEAD", Path: []byte("missing")}, newStream[gitalypb.GetArchiveResponse](ctx))
	requireCode(t, err, codes.NotFound)
}

func TestWriteRef(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	repos := &service.RepositoryServer{Service: f.svc}
	refs := &service.RefServer{Service: f.svc}

	exists := func(ref string) bool {
		resp, err := refs.RefExists(ctx, &gitalypb.RefExistsRequest{Repository: f.locator, Ref: []byte(ref)})
		testutil.Must(t, err)
		return resp.Value
	}
	write := func(ref, rev, old string) error {
		_, err := repos.WriteRef(ctx, &gitalypb.WriteRefRequest{Repository: f.locator, Ref: []byte(ref), Revision: []byte(rev), OldRevision: []byte(old)})
		return err
	}

	const mr = "refs/merge-requests/1/head"
	testutil.Must(t, write(mr, "v1.0", ""))
	require.True(t, exists(mr))
	commit, err := (&service.CommitServer{Service: f.svc}).FindCommit(ctx, &gitalypb.FindCommitRequest{Repository: f.locator, Revision: []byte(mr)})
	testutil.Must(t, err)
	require.Equal(t, f.c[1].ID.String(), commit.Commit.Id)

	requireCode(t, write(mr, f.c[2].ID.String(), f.c[0].ID.String()), codes.FailedPrecondition)
	testutil.Must(t, write(mr, f.c[2].ID.String(), f.c[1].ID.String()))

	keep := "refs/keep-around/" + f.c[3].ID.String()
	require.False(t, exists(keep))
	testutil.Must(t, write(keep, f.c[3].ID.String(), ""))
	require.True(t, exists(keep))

	// branches are derived from history
	testutil.Must(t, write("refs/heads/x", f.c[0].ID.String(), ""))
	require.False(t, exists("refs/heads/x"))

	requireCode(t, write("HEAD", f.c[0].ID.String(), ""), codes.InvalidArgument)
	requireCode(t, write("junk", f.c[0].ID.String(), ""), codes.InvalidArgument)
	requireCode(t, write("refs/merge-requests/2/head", "nope", ""), codes.NotFound)
}
