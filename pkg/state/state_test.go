package state_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"
	"github.com/treeverse/vcsgate/pkg/cache"
	"github.com/treeverse/vcsgate/pkg/state"
	"github.com/treeverse/vcsgate/pkg/testutil"
	"github.com/treeverse/vcsgate/pkg/vcs"
)

const (
	id1 = vcs.NodeID("1111111111111111111111111111111111111111")
	id2 = vcs.NodeID("2222222222222222222222222222222222222222")
)

func newStore(t *testing.T) (*state.Store, string) {
	t.Helper()
	c, err := cache.NewCache(cache.Params{Name: "state", Size: 16})
	testutil.Must(t, err)
	dir := filepath.Join(t.TempDir(), ".hg")
	return state.NewStore(dir, c), dir
}

func TestBranches(t *testing.T) {
	store, _ := newStore(t)

	_, ok, err := store.Branches()
	testutil.Must(t, err)
	require.False(t, ok, "branches file should not exist yet")

	testutil.Must(t, store.WriteBranches([]state.Entry{
		{Name: "topic/default/zz", ID: id2},
		{Name: "branch/default", ID: id1},
	}))
	entries, ok, err := store.Branches()
	testutil.Must(t, err)
	require.True(t, ok)
	expected := []state.Entry{
		{Name: "branch/default", ID: id1},
		{Name: "topic/default/zz", ID: id2},
	}
	if diff := deep.Equal(entries, expected); diff != nil {
		t.Error("unexpected branches", diff)
	}
	id, found := state.Lookup(entries, "topic/default/zz")
	require.True(t, found)
	require.Equal(t, id2, id)
}

func TestExternalRewrite(t *testing.T) {
	store, dir := newStore(t)
	testutil.Must(t, store.WriteBranches([]state.Entry{{Name: "branch/default", ID: id1}}))
	_, _, err := store.Branches()
	testutil.Must(t, err)

	// another process rewrites the file behind the cache
	data := state.FormatEntries([]state.Entry{{Name: "branch/default", ID: id2}, {Name: "branch/stable", ID: id1}})
	path := filepath.Join(dir, state.BranchesFile)
	testutil.Must(t, os.WriteFile(path, data, 0o600))
	later := time.Now().Add(time.Minute)
	testutil.Must(t, os.Chtimes(path, later, later))

	entries, _, err := store.Branches()
	testutil.Must(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, id2, entries[0].ID)
}

func TestSameTickRewrite(t *testing.T) {
	store, dir := newStore(t)
	path := filepath.Join(dir, state.SpecialRefsFile)
	testutil.Must(t, store.SetSpecialRef("refs/pipelines/7", id1))
	id, err := store.SpecialRef("refs/pipelines/7")
	testutil.Must(t, err)
	require.Equal(t, id1, id)
	info, err := os.Stat(path)
	testutil.Must(t, err)

	// another process rewrites the ref keeping size and timestamp
	data := state.FormatEntries([]state.Entry{{Name: "refs/pipelines/7", ID: id2}})
	testutil.Must(t, os.WriteFile(path, data, 0o600))
	testutil.Must(t, os.Chtimes(path, info.ModTime(), info.ModTime()))
	again, err := os.Stat(path)
	testutil.Must(t, err)
	require.Equal(t, info.Size(), again.Size())
	require.Equal(t, info.ModTime(), again.ModTime())

	id, err = store.SpecialRef("refs/pipelines/7")
	testutil.Must(t, err)
	require.Equal(t, id2, id)
}

func TestSettledFileCached(t *testing.T) {
	store, dir := newStore(t)
	path := filepath.Join(dir, state.SpecialRefsFile)
	testutil.Must(t, store.SetSpecialRef("refs/pipelines/7", id1))
	settled := time.Now().Add(-time.Hour)
	testutil.Must(t, os.Chtimes(path, settled, settled))
	id, err := store.SpecialRef("refs/pipelines/7")
	testutil.Must(t, err)
	require.Equal(t, id1, id)

	// a rewrite forging the settled key is not seen
	data := state.FormatEntries([]state.Entry{{Name: "refs/pipelines/7", ID: id2}})
	testutil.Must(t, os.WriteFile(path, data, 0o600))
	testutil.Must(t, os.Chtimes(path, settled, settled))
	id, err = store.SpecialRef("refs/pipelines/7")
	testutil.Must(t, err)
	require.Equal(t, id1, id)

	// a real rewrite moves the timestamp
	now := time.Now()
	testutil.Must(t, os.Chtimes(path, now, now))
	id, err = store.SpecialRef("refs/pipelines/7")
	testutil.Must(t, err)
	require.Equal(t, id2, id)
}

func TestCorrupt(t *testing.T) {
	store, dir := newStore(t)
	testutil.Must(t, os.MkdirAll(dir, 0o755))
	testutil.Must(t, os.WriteFile(filepath.Join(dir, state.TagsFile), []byte("garbage\n"), 0o600))
	_, _, err := store.Tags()
	require.ErrorIs(t, err, state.ErrCorrupt)
}

func TestSpecialRefs(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.SpecialRef("refs/merge-requests/1/head")
	require.ErrorIs(t, err, vcs.ErrNotFound)

	testutil.Must(t, store.SetSpecialRef("refs/merge-requests/1/head", id1))
	testutil.Must(t, store.SetSpecialRef("refs/pipelines/7", id2))
	testutil.Must(t, store.SetSpecialRef("refs/merge-requests/1/head", id2))

	id, err := store.SpecialRef("refs/merge-requests/1/head")
	testutil.Must(t, err)
	require.Equal(t, id2, id)

	refs, err := store.SpecialRefs()
	testutil.Must(t, err)
	require.Len(t, refs, 2)
}

func TestKeepArounds(t *testing.T) {
	store, _ := newStore(t)
	has, err := store.HasKeepAround(id1)
	testutil.Must(t, err)
	require.False(t, has)

	testutil.Must(t, store.AddKeepAround(id1))
	testutil.Must(t, store.AddKeepAround(id1))
	has, err = store.HasKeepAround(id1)
	testutil.Must(t, err)
	require.True(t, has)

	ids, err := store.KeepArounds()
	testutil.Must(t, err)
	require.Equal(t, []vcs.NodeID{id1}, ids)
}

func TestDefaultBranch(t *testing.T) {
	store, _ := newStore(t)
	name, err := store.DefaultBranch()
	testutil.Must(t, err)
	require.Equal(t, state.DefaultBranch, name)

	testutil.Must(t, store.SetDefaultBranch("branch/stable"))
	name, err = store.DefaultBranch()
	testutil.Must(t, err)
	require.Equal(t, "branch/stable", name)
}

func TestNoCache(t *testing.T) {
	store := state.NewStore(t.TempDir(), nil)
	testutil.Must(t, store.WriteTags([]state.Entry{{Name: "v1", ID: id1}}))
	tags, ok, err := store.Tags()
	testutil.Must(t, err)
	require.True(t, ok)
	require.Equal(t, []state.Entry{{Name: "v1", ID: id1}}, tags)
}
