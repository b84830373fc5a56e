package diff

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/treeverse/vcsgate/pkg/oid"
	"github.com/treeverse/vcsgate/pkg/vcs"
)

const exportDateLayout = "Mon Jan 02 15:04:05 2006 -0700"

// RawDiff yields the unified diff of left and right, one chunk per file.  Nothing is
// yielded before the whole tree comparison succeeded.
func (s *Synthesizer) RawDiff(ctx context.Context, left, right *vcs.Changeset) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		diffs, err := s.Diff(ctx, left, right)
		if err != nil {
			yield(nil, err)
			return
		}
		for i := range diffs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(Format(&diffs[i]), nil) {
				return
			}
		}
	}
}

// RawPatch yields an export of changesets in the given order: for each one a header
// block, the description, then the diff against its first parent.
func (s *Synthesizer) RawPatch(ctx context.Context, changesets []*vcs.Changeset) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for _, cs := range changesets {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			var parent *vcs.Changeset
			if p, ok := cs.FirstParent(); ok {
				var err error
				if parent, err = s.repo.Changeset(ctx, p); err != nil {
					yield(nil, err)
					return
				}
			}
			if !yield([]byte(ExportHeader(cs)), nil) {
				return
			}
			for chunk, err := range s.RawDiff(ctx, parent, cs) {
				if !yield(chunk, err) || err != nil {
					return
				}
			}
		}
	}
}

// ExportHeader renders the export preamble and description of cs.
func ExportHeader(cs *vcs.Changeset) string {
	var b strings.Builder
	b.WriteString("# HG changeset patch\n")
	fmt.Fprintf(&b, "# User %s\n", cs.User)
	fmt.Fprintf(&b, "# Date %d %d\n", cs.Date.Unix(), cs.TZOffset())
	fmt.Fprintf(&b, "#      %s\n", cs.Date.Format(exportDateLayout))
	if cs.Branch != "" && cs.Branch != vcs.DefaultBranchName {
		fmt.Fprintf(&b, "# Branch %s\n", cs.Branch)
	}
	if cs.Topic != "" {
		fmt.Fprintf(&b, "# EXP-Topic %s\n", cs.Topic)
	}
	for _, extra := range cs.Extra {
		fmt.Fprintf(&b, "# %s %s\n", extra.Key, extra.Value)
	}
	fmt.Fprintf(&b, "# Node ID %s\n", cs.ID)
	if len(cs.Parents) == 0 {
		fmt.Fprintf(&b, "# Parent  %s\n", oid.NullBlob)
	}
	for _, p := range cs.Parents {
		fmt.Fprintf(&b, "# Parent  %s\n", p)
	}
	b.WriteString(strings.TrimRight(cs.Description, " \t\r\n"))
	b.WriteString("\n\n")
	return b.String()
}
