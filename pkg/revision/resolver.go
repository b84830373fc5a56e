// Package revision resolves caller supplied revision strings and ranges to changesets.
package revision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/treeverse/vcsgate/pkg/logging"
	"github.com/treeverse/vcsgate/pkg/refs"
	"github.com/treeverse/vcsgate/pkg/state"
	"github.com/treeverse/vcsgate/pkg/vcs"
	"github.com/treeverse/vcsgate/pkg/vcs/revset"
)

const (
	HEAD = "HEAD"

	HeadsPrefix      = "refs/heads/"
	TagsPrefix       = "refs/tags/"
	KeepAroundPrefix = "refs/keep-around/"
	RefsPrefix       = "refs/"
)

var (
	ErrNotFound = fmt.Errorf("revision %w", vcs.ErrNotFound)

	hashRegexp     = regexp.MustCompile("^[a-fA-F0-9]{1,64}$")
	modifierRegexp = regexp.MustCompile(`^(.+?)((?:[~^][0-9]*)*)$`)
)

func isAHash(part string) bool {
	return hashRegexp.MatchString(part)
}

// isFullHash tells a well formed full id, whose absence deserves more than a debug line.
func isFullHash(part string) bool {
	return isAHash(part) && (len(part) == 40 || len(part) == 64)
}

type Resolver struct {
	repo   vcs.Repository
	mapper *refs.Mapper
	store  *state.Store
}

func NewResolver(repo vcs.Repository, mapper *refs.Mapper, store *state.Store) *Resolver {
	return &Resolver{repo: repo, mapper: mapper, store: store}
}

type resolverFunc func(ctx context.Context, r *Resolver, rev string) (*vcs.Changeset, error)

// Resolve returns the changeset rev designates, ErrNotFound when there is none or more than
// one.  Trailing "~N" and "^N" modifiers walk first and Nth parents.
func (r *Resolver) Resolve(ctx context.Context, rev string) (*vcs.Changeset, error) {
	if rev == "" {
		return nil, fmt.Errorf("empty revision: %w", vcs.ErrInvalidRevision)
	}
	base, modifiers := rev, ""
	if m := modifierRegexp.FindStringSubmatch(rev); m != nil {
		base, modifiers = m[1], m[2]
	}
	cs, err := r.resolveBase(ctx, base)
	if err != nil {
		return nil, err
	}
	if modifiers == "" {
		return cs, nil
	}
	return r.applyModifiers(ctx, cs, modifiers)
}

func (r *Resolver) resolveBase(ctx context.Context, rev string) (*vcs.Changeset, error) {
	var resolve resolverFunc
	switch {
	case rev == HEAD:
		resolve = resolveHEAD
	case strings.HasPrefix(rev, HeadsPrefix):
		resolve = resolveBranch
	case strings.HasPrefix(rev, TagsPrefix):
		resolve = resolveTag
	case strings.HasPrefix(rev, KeepAroundPrefix):
		resolve = resolveKeepAround
	case strings.HasPrefix(rev, RefsPrefix):
		resolve = resolveSpecialRef
	default:
		resolve = resolveName
	}
	cs, err := resolve(ctx, r, rev)
	if err != nil {
		return nil, err
	}
	if cs == nil {
		return nil, fmt.Errorf("%s: %w", rev, ErrNotFound)
	}
	return cs, nil
}

func resolveHEAD(ctx context.Context, r *Resolver, _ string) (*vcs.Changeset, error) {
	name, err := r.store.DefaultBranch()
	if err != nil {
		return nil, err
	}
	return resolveName(ctx, r, name)
}

func resolveBranch(ctx context.Context, r *Resolver, rev string) (*vcs.Changeset, error) {
	head, err := r.mapper.Head(ctx, strings.TrimPrefix(rev, HeadsPrefix))
	if errors.Is(err, vcs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return head.Changeset, nil
}

func resolveTag(ctx context.Context, r *Resolver, rev string) (*vcs.Changeset, error) {
	tag, err := r.mapper.Tag(ctx, strings.TrimPrefix(rev, TagsPrefix))
	if errors.Is(err, vcs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tag.Changeset, nil
}

func resolveKeepAround(ctx context.Context, r *Resolver, rev string) (*vcs.Changeset, error) {
	id := vcs.NodeID(strings.TrimPrefix(rev, KeepAroundPrefix))
	kept, err := r.store.HasKeepAround(id)
	if err != nil || !kept {
		return nil, err
	}
	return r.byID(ctx, id)
}

func resolveSpecialRef(ctx context.Context, r *Resolver, rev string) (*vcs.Changeset, error) {
	id, err := r.store.SpecialRef(rev)
	if errors.Is(err, vcs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.byID(ctx, id)
}

// resolveName looks a bare name up as a branch, then a tag, then lets the engine evaluate it.
func resolveName(ctx context.Context, r *Resolver, rev string) (*vcs.Changeset, error) {
	for _, resolve := range []resolverFunc{resolveBranch, resolveTag} {
		cs, err := resolve(ctx, r, rev)
		if err != nil || cs != nil {
			return cs, err
		}
	}
	return resolveEvaluate(ctx, r, rev)
}

// resolveEvaluate hands rev to the engine: hashes as symbols, which may be obsolete, and
// anything else as a native expression, which must designate exactly one changeset.
func resolveEvaluate(ctx context.Context, r *Resolver, rev string) (*vcs.Changeset, error) {
	var (
		expr revset.Expr = revset.Raw(rev)
		opts []vcs.EvalOption
	)
	if isAHash(rev) {
		expr = revset.Symbol(rev)
		opts = append(opts, vcs.WithHidden())
	}
	changesets, err := r.repo.Evaluate(ctx, expr, opts...)
	if isMiss(err) || (err == nil && len(changesets) != 1) {
		log := logging.FromContext(ctx).WithField(logging.RevisionFieldKey, rev)
		if isFullHash(rev) {
			log.Warn("Changeset not found for full hash")
		} else {
			log.Debug("Revision not found")
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return changesets[0], nil
}

// isMiss tells evaluation failures that mean the revision designates nothing.
func isMiss(err error) bool {
	return errors.Is(err, vcs.ErrNotFound) ||
		errors.Is(err, vcs.ErrInvalidValue) ||
		errors.Is(err, vcs.ErrUnsupported)
}

func (r *Resolver) byID(ctx context.Context, id vcs.NodeID) (*vcs.Changeset, error) {
	cs, err := r.repo.Changeset(ctx, id)
	if errors.Is(err, vcs.ErrNotFound) {
		return nil, nil
	}
	return cs, err
}

func (r *Resolver) applyModifiers(ctx context.Context, cs *vcs.Changeset, modifiers string) (*vcs.Changeset, error) {
	for len(modifiers) > 0 {
		op := modifiers[0]
		modifiers = modifiers[1:]
		digits := len(modifiers) - len(strings.TrimLeft(modifiers, "0123456789"))
		n := 1
		if digits > 0 {
			var err error
			n, err = strconv.Atoi(modifiers[:digits])
			if err != nil {
				return nil, fmt.Errorf("modifier %c%s: %w", op, modifiers[:digits], vcs.ErrInvalidRevision)
			}
			modifiers = modifiers[digits:]
		}
		var err error
		switch op {
		case '~':
			for i := 0; i < n; i++ {
				if cs, err = r.parent(ctx, cs, 1); err != nil {
					return nil, err
				}
			}
		case '^':
			if n == 0 {
				continue
			}
			if cs, err = r.parent(ctx, cs, n); err != nil {
				return nil, err
			}
		}
	}
	return cs, nil
}

func (r *Resolver) parent(ctx context.Context, cs *vcs.Changeset, n int) (*vcs.Changeset, error) {
	if n > len(cs.Parents) {
		return nil, fmt.Errorf("parent %d of %s: %w", n, cs.ID.Short(), ErrNotFound)
	}
	return r.repo.Changeset(ctx, cs.Parents[n-1])
}

// ResolveRange lowers a Git range expression to a revision set, newest first:
// "A...B" is the symmetric difference, "A..B" what B has that A lacks, "A" all ancestors
// of A.  An empty endpoint stands for HEAD.
func (r *Resolver) ResolveRange(ctx context.Context, expr string) (revset.Expr, error) {
	set, err := r.rangeSet(ctx, expr)
	if err != nil {
		return nil, err
	}
	return revset.Reverse{X: set}, nil
}

// ResolveRevisions combines several revisions the way "git rev-list" does: ranges and names
// include, a "^" prefix excludes the ancestors of a name, "--not" flips every following
// revision and "--all" includes everything.  The result is newest first.
func (r *Resolver) ResolveRevisions(ctx context.Context, revisions []string) (revset.Expr, error) {
	var include, exclude revset.Expr
	add := func(set *revset.Expr, x revset.Expr) {
		if *set == nil {
			*set = x
		} else {
			*set = revset.Union{L: *set, R: x}
		}
	}
	negate := false
	for _, rev := range revisions {
		switch {
		case rev == "--not":
			negate = !negate
			continue
		case rev == "--all":
			if negate {
				add(&exclude, revset.All{})
			} else {
				add(&include, revset.All{})
			}
			continue
		case rev == "":
			return nil, fmt.Errorf("empty revision: %w", vcs.ErrInvalidRevision)
		}
		excluded := negate
		if strings.HasPrefix(rev, "^") {
			excluded = !excluded
			rev = rev[1:]
		}
		if excluded {
			cs, err := r.Resolve(ctx, rev)
			if err != nil {
				return nil, err
			}
			add(&exclude, revset.Ancestors{X: revset.Symbol(cs.ID)})
			continue
		}
		set, err := r.rangeSet(ctx, rev)
		if err != nil {
			return nil, err
		}
		add(&include, set)
	}
	if include == nil {
		return nil, fmt.Errorf("no positive revision: %w", vcs.ErrInvalidRevision)
	}
	if exclude != nil {
		include = revset.Difference{L: include, R: exclude}
	}
	return revset.Reverse{X: include}, nil
}

func (r *Resolver) rangeSet(ctx context.Context, expr string) (revset.Expr, error) {
	if left, right, ok := strings.Cut(expr, "..."); ok {
		a, b, err := r.endpoints(ctx, left, right)
		if err != nil {
			return nil, err
		}
		return revset.Difference{
			L: revset.Union{L: revset.Ancestors{X: a}, R: revset.Ancestors{X: b}},
			R: revset.Intersection{L: revset.Ancestors{X: a}, R: revset.Ancestors{X: b}},
		}, nil
	}
	if left, right, ok := strings.Cut(expr, ".."); ok {
		a, b, err := r.endpoints(ctx, left, right)
		if err != nil {
			return nil, err
		}
		return revset.Only{Include: b, Exclude: a}, nil
	}
	cs, err := r.Resolve(ctx, expr)
	if err != nil {
		return nil, err
	}
	return revset.Ancestors{X: revset.Symbol(cs.ID)}, nil
}

func (r *Resolver) endpoints(ctx context.Context, left, right string) (revset.Expr, revset.Expr, error) {
	if left == "" {
		left = HEAD
	}
	if right == "" {
		right = HEAD
	}
	a, err := r.Resolve(ctx, left)
	if err != nil {
		return nil, nil, err
	}
	b, err := r.Resolve(ctx, right)
	if err != nil {
		return nil, nil, err
	}
	return revset.Symbol(a.ID), revset.Symbol(b.ID), nil
}

// IsAncestor tells whether ancestor is reachable from descendant (a changeset is its own
// ancestor).
func (r *Resolver) IsAncestor(ctx context.Context, ancestor, descendant vcs.NodeID) (bool, error) {
	result, err := r.repo.Evaluate(ctx, revset.Intersection{
		L: revset.Symbol(ancestor),
		R: revset.Ancestors{X: revset.Symbol(descendant)},
	}, vcs.WithHidden())
	if err != nil {
		return false, err
	}
	return len(result) > 0, nil
}
