package diff_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/stretchr/testify/require"
	"github.com/treeverse/vcsgate/pkg/diff"
	"github.com/treeverse/vcsgate/pkg/oid"
	"github.com/treeverse/vcsgate/pkg/testutil"
	"github.com/treeverse/vcsgate/pkg/vcs"
	"github.com/treeverse/vcsgate/pkg/vcs/mem"
)

func commit(t *testing.T, repo *mem.Repository, opts mem.CommitOptions) *vcs.Changeset {
	t.Helper()
	cs, err := repo.Commit(opts)
	testutil.Must(t, err)
	return cs
}

func rawDiff(t *testing.T, s *diff.Synthesizer, left, right *vcs.Changeset) string {
	t.Helper()
	var buf bytes.Buffer
	for chunk, err := range s.RawDiff(context.Background(), left, right) {
		testutil.Must(t, err)
		buf.Write(chunk)
	}
	return buf.String()
}

func numbered(n int, replace map[int]string) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if r, ok := replace[i]; ok {
			b.WriteString(r + "\n")
			continue
		}
		fmt.Fprintf(&b, "line %d\n", i)
	}
	return b.String()
}

func TestEmptyTreeDiff(t *testing.T) {
	repo := mem.NewRepository(t.TempDir())
	c0 := commit(t, repo, mem.CommitOptions{Files: map[string]string{"foo": "I am oof\n"}})
	s := diff.NewSynthesizer(repo)
	fooOID := oid.Encode(c0.ID, "foo")

	expected := "diff --git a/foo b/foo\n" +
		"new file mode 100644\n" +
		"index " + oid.NullBlob + ".." + fooOID + "\n" +
		"--- /dev/null\n" +
		"+++ b/foo\n" +
		"@@ -0,0 +1 @@\n" +
		"+I am oof\n"
	require.Equal(t, expected, rawDiff(t, s, nil, c0))

	expected = "diff --git a/foo b/foo\n" +
		"deleted file mode 100644\n" +
		"index " + fooOID + ".." + oid.NullBlob + "\n" +
		"--- a/foo\n" +
		"+++ /dev/null\n" +
		"@@ -1 +0,0 @@\n" +
		"-I am oof\n"
	require.Equal(t, expected, rawDiff(t, s, c0, nil))
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	repo := mem.NewRepository(t.TempDir())
	c0 := commit(t, repo, mem.CommitOptions{Files: map[string]string{"foo": "I am oof\n"}})
	c1 := commit(t, repo, mem.CommitOptions{Parents: []vcs.NodeID{c0.ID}, Files: map[string]string{"zoo": "I am oof\n"}, Removed: []string{"foo"}})
	s := diff.NewSynthesizer(repo)

	diffs, err := s.Diff(ctx, c0, c1)
	testutil.Must(t, err)
	require.Len(t, diffs, 1)
	require.Equal(t, diff.Renamed, diffs[0].Status)
	require.Equal(t, 100, diffs[0].Similarity)
	require.Empty(t, diffs[0].Hunks)

	expected := "diff --git a/foo b/zoo\n" +
		"similarity index 100%\n" +
		"rename from foo\n" +
		"rename to zoo\n"
	require.Equal(t, expected, rawDiff(t, s, c0, c1))
}

func TestInexactRename(t *testing.T) {
	repo := mem.NewRepository(t.TempDir())
	c0 := commit(t, repo, mem.CommitOptions{Files: map[string]string{"foo": numbered(10, nil)}})
	c1 := commit(t, repo, mem.CommitOptions{
		Parents: []vcs.NodeID{c0.ID},
		Files:   map[string]string{"zoo": numbered(10, map[int]string{5: "changed"})},
		Removed: []string{"foo"},
	})

	got := rawDiff(t, diff.NewSynthesizer(repo), c0, c1)
	expected := "diff --git a/foo b/zoo\n" +
		"similarity index 90%\n" +
		"rename from foo\n" +
		"rename to zoo\n" +
		"index " + oid.Encode(c0.ID, "foo") + ".." + oid.Encode(c1.ID, "zoo") + " 100644\n" +
		"--- a/foo\n" +
		"+++ b/zoo\n" +
		"@@ -2,7 +2,7 @@\n" +
		" line 2\n line 3\n line 4\n-line 5\n+changed\n line 6\n line 7\n line 8\n"
	require.Equal(t, expected, got)

	// below the threshold the same change is a deletion plus an addition
	strict := diff.NewSynthesizer(repo, diff.WithRenameSimilarity(95))
	diffs, err := strict.Diff(context.Background(), c0, c1)
	testutil.Must(t, err)
	require.Len(t, diffs, 2)
	require.Equal(t, diff.Deleted, diffs[0].Status)
	require.Equal(t, diff.Added, diffs[1].Status)
}

func TestModification(t *testing.T) {
	repo := mem.NewRepository(t.TempDir())
	before := numbered(20, nil)
	after := numbered(20, map[int]string{2: "second", 18: "eighteenth"})
	c0 := commit(t, repo, mem.CommitOptions{Files: map[string]string{"f.txt": before}})
	c1 := commit(t, repo, mem.CommitOptions{Parents: []vcs.NodeID{c0.ID}, Files: map[string]string{"f.txt": after}})

	got := rawDiff(t, diff.NewSynthesizer(repo), c0, c1)
	require.Contains(t, got, "index "+oid.Encode(c0.ID, "f.txt")+".."+oid.Encode(c1.ID, "f.txt")+" 100644\n--- a/f.txt\n+++ b/f.txt\n")
	require.Contains(t, got, "@@ -1,5 +1,5 @@\n")
	require.Contains(t, got, "@@ -15,6 +15,6 @@\n")

	files, _, err := gitdiff.Parse(strings.NewReader(got))
	testutil.MustDo(t, "parse generated diff", err)
	require.Len(t, files, 1)
	require.Len(t, files[0].TextFragments, 2)
	var applied bytes.Buffer
	testutil.MustDo(t, "apply generated diff", gitdiff.Apply(&applied, strings.NewReader(before), files[0]))
	require.Equal(t, after, applied.String())
}

func TestMergedHunks(t *testing.T) {
	repo := mem.NewRepository(t.TempDir())
	c0 := commit(t, repo, mem.CommitOptions{Files: map[string]string{"f": numbered(20, nil)}})
	c1 := commit(t, repo, mem.CommitOptions{Parents: []vcs.NodeID{c0.ID}, Files: map[string]string{"f": numbered(20, map[int]string{5: "x", 11: "y"})}})
	diffs, err := diff.NewSynthesizer(repo).Diff(context.Background(), c0, c1)
	testutil.Must(t, err)
	require.Len(t, diffs, 1)
	require.Len(t, diffs[0].Hunks, 1, "changes 6 lines apart share one hunk")
	h := diffs[0].Hunks[0]
	require.Equal(t, 2, h.OldStart)
	require.Equal(t, 13, h.OldLines)
}

func TestNoNewlineAtEOF(t *testing.T) {
	repo := mem.NewRepository(t.TempDir())
	c0 := commit(t, repo, mem.CommitOptions{Files: map[string]string{"f": "a\nb"}})
	c1 := commit(t, repo, mem.CommitOptions{Parents: []vcs.NodeID{c0.ID}, Files: map[string]string{"f": "a\nc"}})
	got := rawDiff(t, diff.NewSynthesizer(repo), c0, c1)
	require.True(t, strings.HasSuffix(got, "@@ -1,2 +1,2 @@\n a\n-b\n\\ No newline at end of file\n+c\n\\ No newline at end of file\n"), got)
}

func TestModeChange(t *testing.T) {
	repo := mem.NewRepository(t.TempDir())
	c0 := commit(t, repo, mem.CommitOptions{Files: map[string]string{"run": "#!/bin/sh\n"}})
	c1 := commit(t, repo, mem.CommitOptions{
		Parents: []vcs.NodeID{c0.ID},
		Files:   map[string]string{"run": "#!/bin/sh\n"},
		Modes:   map[string]filemode.FileMode{"run": filemode.Executable},
	})
	got := rawDiff(t, diff.NewSynthesizer(repo), c0, c1)
	require.Equal(t, "diff --git a/run b/run\nold mode 100644\nnew mode 100755\n", got)

	c2 := commit(t, repo, mem.CommitOptions{
		Parents: []vcs.NodeID{c1.ID},
		Files:   map[string]string{"run": "#!/bin/bash\n"},
	})
	got = rawDiff(t, diff.NewSynthesizer(repo), c1, c2)
	// mode differs on the two sides, so the index line has no mode suffix
	require.Contains(t, got, "old mode 100755\nnew mode 100644\nindex "+oid.Encode(c1.ID, "run")+".."+oid.Encode(c2.ID, "run")+"\n--- a/run\n")
}

func TestBinary(t *testing.T) {
	repo := mem.NewRepository(t.TempDir())
	c0 := commit(t, repo, mem.CommitOptions{Files: map[string]string{"blob.bin": "\x00\x01"}})
	c1 := commit(t, repo, mem.CommitOptions{Parents: []vcs.NodeID{c0.ID}, Files: map[string]string{"blob.bin": "\x00\x02"}})
	got := rawDiff(t, diff.NewSynthesizer(repo), c0, c1)
	require.True(t, strings.HasSuffix(got, " 100644\nBinary files a/blob.bin and b/blob.bin differ\n"), got)
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	repo := mem.NewRepository(t.TempDir())
	c0 := commit(t, repo, mem.CommitOptions{Files: map[string]string{"orig": "same\n"}})
	c1 := commit(t, repo, mem.CommitOptions{Parents: []vcs.NodeID{c0.ID}, Files: map[string]string{"dup": "same\n"}})
	diffs, err := diff.NewSynthesizer(repo).Diff(ctx, c0, c1)
	testutil.Must(t, err)
	require.Len(t, diffs, 1)
	require.Equal(t, diff.Copied, diffs[0].Status)
	require.Equal(t, "diff --git a/orig b/dup\nsimilarity index 100%\ncopy from orig\ncopy to dup\n", string(diff.Format(&diffs[0])))
}

func TestStats(t *testing.T) {
	repo := mem.NewRepository(t.TempDir())
	c0 := commit(t, repo, mem.CommitOptions{Files: map[string]string{"a": numbered(5, nil), "b": "gone\n"}})
	c1 := commit(t, repo, mem.CommitOptions{
		Parents: []vcs.NodeID{c0.ID},
		Files:   map[string]string{"a": numbered(6, map[int]string{1: "first"})},
		Removed: []string{"b"},
	})
	diffs, err := diff.NewSynthesizer(repo).Diff(context.Background(), c0, c1)
	testutil.Must(t, err)
	require.Equal(t, []diff.Stat{
		{OldPath: "a", Path: "a", Additions: 2, Deletions: 1},
		{OldPath: "b", Path: "b", Additions: 0, Deletions: 1},
	}, diff.Stats(diffs))
}

func TestRawPatch(t *testing.T) {
	repo := mem.NewRepository(t.TempDir())
	zone := time.FixedZone("", 3600)
	c0 := commit(t, repo, mem.CommitOptions{Files: map[string]string{"foo": "1\n"}, Description: "root"})
	c1 := commit(t, repo, mem.CommitOptions{
		Parents:     []vcs.NodeID{c0.ID},
		Branch:      "stable",
		Topic:       "fix",
		User:        "Jane <jane@example.com>",
		Date:        time.Date(2023, 11, 14, 23, 13, 20, 0, zone),
		Description: "change foo\n\ndetails\n",
		Files:       map[string]string{"foo": "2\n"},
	})
	c2 := commit(t, repo, mem.CommitOptions{Parents: []vcs.NodeID{c1.ID}, Branch: "stable", Description: "add bar", Files: map[string]string{"bar": "x\n"}})

	var buf bytes.Buffer
	for chunk, err := range diff.NewSynthesizer(repo).RawPatch(context.Background(), []*vcs.Changeset{c1, c2}) {
		testutil.Must(t, err)
		buf.Write(chunk)
	}
	got := buf.String()

	first := "# HG changeset patch\n" +
		"# User Jane <jane@example.com>\n" +
		"# Date 1700000000 -3600\n" +
		"#      Tue Nov 14 23:13:20 2023 +0100\n" +
		"# Branch stable\n" +
		"# EXP-Topic fix\n" +
		"# Node ID " + c1.ID.String() + "\n" +
		"# Parent  " + c0.ID.String() + "\n" +
		"change foo\n\ndetails\n\n" +
		"diff --git a/foo b/foo\n"
	require.True(t, strings.HasPrefix(got, first), got)
	second := strings.Index(got, "# Node ID "+c2.ID.String())
	require.Greater(t, second, len(first), "changesets are exported oldest first")
	require.Contains(t, got[second:], "add bar\n\ndiff --git a/bar b/bar\nnew file mode 100644\n")
	require.Equal(t, 2, strings.Count(got, "# HG changeset patch\n"))
}

func TestRawDiffCanceled(t *testing.T) {
	repo := mem.NewRepository(t.TempDir())
	c0 := commit(t, repo, mem.CommitOptions{Files: map[string]string{"a": "1\n", "b": "2\n"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, err := range diff.NewSynthesizer(repo).RawDiff(ctx, nil, c0) {
		require.ErrorIs(t, err, context.Canceled)
	}
}
