package mem

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/treeverse/vcsgate/pkg/vcs"
	"github.com/treeverse/vcsgate/pkg/vcs/revset"
)

var hexRegexp = regexp.MustCompile(`^[a-f0-9]{1,64}$`)

// revs is an ordered list of revision numbers.
type revs []int

func (r *Repository) Evaluate(ctx context.Context, expr revset.Expr, opts ...vcs.EvalOption) ([]*vcs.Changeset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev := evaluator{repo: r, options: vcs.NewEvalOptions(opts...)}
	result, err := ev.eval(ctx, expr)
	if err != nil {
		return nil, err
	}
	out := make([]*vcs.Changeset, 0, len(result))
	for _, rev := range result {
		out = append(out, r.decorate(r.changesets[rev]))
	}
	return out, nil
}

type evaluator struct {
	repo    *Repository
	options vcs.EvalOptions
}

func (ev *evaluator) visible(rev int) bool {
	return ev.options.Hidden || !ev.repo.changesets[rev].Obsolete
}

func (ev *evaluator) eval(ctx context.Context, expr revset.Expr) (revs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch e := expr.(type) {
	case revset.Symbol:
		rev, err := ev.lookup(string(e))
		if err != nil {
			return nil, err
		}
		return revs{rev}, nil
	case revset.Raw:
		// no native language here; a bare name is still a symbol
		rev, err := ev.lookup(string(e))
		if err != nil {
			return nil, err
		}
		return revs{rev}, nil
	case revset.All:
		var out revs
		for rev := range ev.repo.changesets {
			if ev.visible(rev) {
				out = append(out, rev)
			}
		}
		return out, nil
	case revset.Ancestors:
		heads, err := ev.eval(ctx, e.X)
		if err != nil {
			return nil, err
		}
		return ev.ancestors(heads), nil
	case revset.Only:
		include, err := ev.eval(ctx, revset.Ancestors{X: e.Include})
		if err != nil {
			return nil, err
		}
		exclude, err := ev.eval(ctx, revset.Ancestors{X: e.Exclude})
		if err != nil {
			return nil, err
		}
		return difference(include, exclude), nil
	case revset.Union:
		return ev.binary(ctx, e.L, e.R, union)
	case revset.Intersection:
		return ev.binary(ctx, e.L, e.R, intersection)
	case revset.Difference:
		return ev.binary(ctx, e.L, e.R, difference)
	case revset.Reverse:
		result, err := ev.eval(ctx, e.X)
		if err != nil {
			return nil, err
		}
		out := slices.Clone(result)
		slices.Reverse(out)
		return out, nil
	default:
		return nil, fmt.Errorf("%s: %w", expr, vcs.ErrUnsupported)
	}
}

func (ev *evaluator) binary(ctx context.Context, l, r revset.Expr, op func(a, b revs) revs) (revs, error) {
	left, err := ev.eval(ctx, l)
	if err != nil {
		return nil, err
	}
	right, err := ev.eval(ctx, r)
	if err != nil {
		return nil, err
	}
	return op(left, right), nil
}

// lookup resolves a symbol the way the native tooling does: full id, bookmark, tag,
// branch name (its tipmost visible changeset), then unique id prefix.
func (ev *evaluator) lookup(symbol string) (int, error) {
	repo := ev.repo
	if cs, ok := repo.byID[vcs.NodeID(symbol)]; ok {
		if !ev.visible(cs.Rev) {
			return 0, fmt.Errorf("hidden revision %s: %w", symbol, vcs.ErrChangesetNotFound)
		}
		return cs.Rev, nil
	}
	if id, ok := repo.bookmarks[symbol]; ok && ev.visible(repo.byID[id].Rev) {
		return repo.byID[id].Rev, nil
	}
	if id, ok := repo.tags[symbol]; ok && ev.visible(repo.byID[id].Rev) {
		return repo.byID[id].Rev, nil
	}
	if symbol == "tip" {
		for rev := len(repo.changesets) - 1; rev >= 0; rev-- {
			if ev.visible(rev) {
				return rev, nil
			}
		}
	}
	for rev := len(repo.changesets) - 1; rev >= 0; rev-- {
		cs := repo.changesets[rev]
		if cs.Branch == symbol && ev.visible(rev) {
			return rev, nil
		}
	}
	if hexRegexp.MatchString(symbol) {
		found := -1
		for rev, cs := range repo.changesets {
			if !strings.HasPrefix(cs.ID.String(), symbol) || !ev.visible(rev) {
				continue
			}
			if found >= 0 {
				return 0, fmt.Errorf("%s: %w", symbol, vcs.ErrAmbiguous)
			}
			found = rev
		}
		if found >= 0 {
			return found, nil
		}
	}
	return 0, fmt.Errorf("unknown revision %s: %w", symbol, vcs.ErrChangesetNotFound)
}

func (ev *evaluator) ancestors(heads revs) revs {
	seen := make(map[int]bool)
	stack := slices.Clone(heads)
	for len(stack) > 0 {
		rev := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[rev] {
			continue
		}
		seen[rev] = true
		for _, p := range ev.repo.changesets[rev].Parents {
			stack = append(stack, ev.repo.byID[p].Rev)
		}
	}
	out := make(revs, 0, len(seen))
	for rev := range seen {
		if ev.visible(rev) {
			out = append(out, rev)
		}
	}
	slices.Sort(out)
	return out
}

func union(a, b revs) revs {
	out := slices.Clone(a)
	out = append(out, b...)
	slices.Sort(out)
	return slices.Compact(out)
}

func intersection(a, b revs) revs {
	in := make(map[int]bool, len(b))
	for _, rev := range b {
		in[rev] = true
	}
	var out revs
	for _, rev := range a {
		if in[rev] {
			out = append(out, rev)
		}
	}
	return out
}

func difference(a, b revs) revs {
	in := make(map[int]bool, len(b))
	for _, rev := range b {
		in[rev] = true
	}
	var out revs
	for _, rev := range a {
		if !in[rev] {
			out = append(out, rev)
		}
	}
	return out
}
