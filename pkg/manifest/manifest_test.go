package manifest_test

import (
	"testing"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"
	"github.com/treeverse/vcsgate/pkg/manifest"
	"github.com/treeverse/vcsgate/pkg/oid"
	"github.com/treeverse/vcsgate/pkg/vcs"
)

const id = vcs.NodeID("abcdefabcdefabcdefabcdefabcdefabcdefabcd")

var files = []vcs.FileEntry{
	{Path: "README", Mode: filemode.Regular},
	{Path: "bin/run", Mode: filemode.Executable},
	{Path: "src/a.go", Mode: filemode.Regular},
	{Path: "src/deep/x/y.go", Mode: filemode.Regular},
	{Path: "src/z.go", Mode: filemode.Regular},
}

type item struct {
	Path string
	Type manifest.EntryType
}

func items(entries []manifest.Entry) []item {
	out := make([]item, 0, len(entries))
	for _, e := range entries {
		out = append(out, item{Path: e.Path, Type: e.Type})
	}
	return out
}

func TestList(t *testing.T) {
	cases := []struct {
		name     string
		dir      string
		opts     manifest.ListOptions
		expected []item
	}{
		{
			name: "root",
			dir:  ".",
			expected: []item{
				{"README", manifest.Blob},
				{"bin", manifest.Tree},
				{"src", manifest.Tree},
			},
		},
		{
			name: "subdirectory",
			dir:  "src/",
			expected: []item{
				{"src/a.go", manifest.Blob},
				{"src/deep", manifest.Tree},
				{"src/z.go", manifest.Blob},
			},
		},
		{
			name: "trees first",
			dir:  "src",
			opts: manifest.ListOptions{TreesFirst: true},
			expected: []item{
				{"src/deep", manifest.Tree},
				{"src/a.go", manifest.Blob},
				{"src/z.go", manifest.Blob},
			},
		},
		{
			name: "recursive",
			dir:  "src",
			opts: manifest.ListOptions{Recursive: true},
			expected: []item{
				{"src/a.go", manifest.Blob},
				{"src/deep", manifest.Tree},
				{"src/deep/x", manifest.Tree},
				{"src/deep/x/y.go", manifest.Blob},
				{"src/z.go", manifest.Blob},
			},
		},
		{name: "missing", dir: "nope", expected: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := manifest.List(files, id, tc.dir, tc.opts)
			if diff := deep.Equal(items(got), tc.expected); diff != nil {
				t.Error("unexpected listing", diff)
			}
		})
	}
}

func TestListOIDs(t *testing.T) {
	entries := manifest.List(files, id, "", manifest.ListOptions{})
	require.Equal(t, oid.Encode(id, "bin"), entries[1].OID)
	require.Equal(t, filemode.Dir, entries[1].Mode)
	require.Equal(t, "README", entries[0].Name())
}

func TestLookup(t *testing.T) {
	e, ok := manifest.Lookup(files, id, "src/deep")
	require.True(t, ok)
	require.Equal(t, manifest.Tree, e.Type)
	require.Equal(t, "deep", e.Name())

	e, ok = manifest.Lookup(files, id, "bin/run")
	require.True(t, ok)
	require.Equal(t, manifest.Blob, e.Type)
	require.Equal(t, filemode.Executable, e.Mode)

	e, ok = manifest.Lookup(files, id, "")
	require.True(t, ok)
	require.Equal(t, manifest.Tree, e.Type)

	_, ok = manifest.Lookup(files, id, "src/dee")
	require.False(t, ok)
}

func TestFlatPath(t *testing.T) {
	require.Equal(t, "src/deep/x", manifest.FlatPath(files, id, "src/deep"))
	require.Equal(t, "src", manifest.FlatPath(files, id, "src"))
	require.Equal(t, "bin", manifest.FlatPath(files, id, "bin/"))
}
