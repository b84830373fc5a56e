// Package refs maps the native branch, topic and bookmark model onto a flat namespace of
// named branches, and exposes tags.
package refs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/treeverse/vcsgate/pkg/logging"
	"github.com/treeverse/vcsgate/pkg/state"
	"github.com/treeverse/vcsgate/pkg/vcs"
)

const (
	BranchPrefix = "branch/"
	TopicPrefix  = "topic/"
	WildPrefix   = "wild/"

	tipTag = "tip"
)

var (
	ErrNotFound = fmt.Errorf("ref %w", vcs.ErrNotFound)
)

// Kind tells how a named head was derived.
type Kind int

const (
	// KindBranch is the materialized head of a branch or topic grouping.
	KindBranch Kind = iota
	// KindBookmark is the changeset a bookmark points at.
	KindBookmark
	// KindWild is an extra visible head of a grouping, named after its id.
	KindWild
)

func (k Kind) String() string {
	switch k {
	case KindBranch:
		return "branch"
	case KindBookmark:
		return "bookmark"
	case KindWild:
		return "wild"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// KindOf derives the kind of a head from its name.  Bookmarks under the branch, topic or
// wild prefixes are never exposed, so the name alone decides.
func KindOf(name string) Kind {
	switch {
	case strings.HasPrefix(name, BranchPrefix), strings.HasPrefix(name, TopicPrefix):
		return KindBranch
	case strings.HasPrefix(name, WildPrefix):
		return KindWild
	default:
		return KindBookmark
	}
}

// GroupName is the branch name of a native grouping.
func GroupName(key vcs.GroupKey) string {
	if key.Topic != "" {
		return TopicPrefix + key.Branch + "/" + key.Topic
	}
	return BranchPrefix + key.Branch
}

// Head is a named branch and the changeset it points at.
type Head struct {
	Name      string
	Kind      Kind
	Changeset *vcs.Changeset
}

type Tag struct {
	Name      string
	Changeset *vcs.Changeset
}

// Mapper derives named branches and tags for one repository.  When the branch (or tag)
// state file exists it is authoritative, otherwise everything is computed from the engine.
type Mapper struct {
	repo  vcs.Repository
	store *state.Store
}

func NewMapper(repo vcs.Repository, store *state.Store) *Mapper {
	return &Mapper{repo: repo, store: store}
}

func (m *Mapper) DefaultBranch() (string, error) {
	return m.store.DefaultBranch()
}

// Head returns the named branch.  It never returns an obsolete changeset.
func (m *Mapper) Head(ctx context.Context, name string) (*Head, error) {
	entries, ok, err := m.store.Branches()
	if err != nil {
		return nil, err
	}
	if ok {
		id, found := state.Lookup(entries, name)
		if !found {
			return nil, fmt.Errorf("branch %s: %w", name, ErrNotFound)
		}
		cs, err := m.live(ctx, name, id)
		if err != nil {
			return nil, err
		}
		if cs == nil {
			return nil, fmt.Errorf("branch %s: %w", name, ErrNotFound)
		}
		return &Head{Name: name, Kind: KindOf(name), Changeset: cs}, nil
	}

	heads, err := m.compute(ctx)
	if err != nil {
		return nil, err
	}
	for i := range heads {
		if heads[i].Name == name {
			return &heads[i], nil
		}
	}
	return nil, fmt.Errorf("branch %s: %w", name, ErrNotFound)
}

// Enumerate returns every named branch sorted by name.
func (m *Mapper) Enumerate(ctx context.Context) ([]Head, error) {
	entries, ok, err := m.store.Branches()
	if err != nil {
		return nil, err
	}
	if !ok {
		return m.compute(ctx)
	}
	heads := make([]Head, 0, len(entries))
	for _, e := range entries {
		cs, err := m.live(ctx, e.Name, e.ID)
		if err != nil {
			return nil, err
		}
		if cs != nil {
			heads = append(heads, Head{Name: e.Name, Kind: KindOf(e.Name), Changeset: cs})
		}
	}
	return heads, nil
}

// Materialize computes every named branch from the engine and writes the branch state file.
func (m *Mapper) Materialize(ctx context.Context) ([]Head, error) {
	heads, err := m.compute(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]state.Entry, 0, len(heads))
	for _, h := range heads {
		entries = append(entries, state.Entry{Name: h.Name, ID: h.Changeset.ID})
	}
	if err := m.store.WriteBranches(entries); err != nil {
		return nil, err
	}
	return heads, nil
}

// live returns the changeset for a state file entry, nil for a stale entry.
func (m *Mapper) live(ctx context.Context, name string, id vcs.NodeID) (*vcs.Changeset, error) {
	cs, err := m.repo.Changeset(ctx, id)
	if errors.Is(err, vcs.ErrNotFound) {
		logging.FromContext(ctx).WithField("ref", name).WithField("id", id).Debug("Skipping stale state entry")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cs.Obsolete {
		logging.FromContext(ctx).WithField("ref", name).WithField("id", id).Debug("Skipping obsolete state entry")
		return nil, nil
	}
	return cs, nil
}

// compute runs head selection over every grouping and adds the bookmarks.
func (m *Mapper) compute(ctx context.Context) ([]Head, error) {
	branchMap, err := m.repo.BranchMap(ctx)
	if err != nil {
		return nil, err
	}
	bookmarks, err := m.repo.Bookmarks(ctx)
	if err != nil {
		return nil, err
	}
	defaultBranch, err := m.store.DefaultBranch()
	if err != nil {
		return nil, err
	}
	bookmarked := make(map[vcs.NodeID]bool, len(bookmarks))
	for _, id := range bookmarks {
		bookmarked[id] = true
	}

	var heads []Head
	for _, entry := range branchMap {
		grouped, err := m.selectHeads(ctx, entry, bookmarked, defaultBranch)
		if err != nil {
			return nil, err
		}
		heads = append(heads, grouped...)
	}

	names := make(map[string]bool, len(heads))
	for _, h := range heads {
		names[h.Name] = true
	}
	for name, id := range bookmarks {
		if KindOf(name) != KindBookmark {
			logging.FromContext(ctx).WithField("bookmark", name).Warn("Bookmark in a reserved branch namespace ignored")
			continue
		}
		if names[name] {
			logging.FromContext(ctx).WithField("bookmark", name).Warn("Bookmark shadowed by a branch of the same name")
			continue
		}
		cs, err := m.repo.Changeset(ctx, id)
		if errors.Is(err, vcs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if cs.Obsolete {
			continue
		}
		heads = append(heads, Head{Name: name, Kind: KindBookmark, Changeset: cs})
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i].Name < heads[j].Name })
	return heads, nil
}

func (m *Mapper) selectHeads(ctx context.Context, entry vcs.BranchMapEntry, bookmarked map[vcs.NodeID]bool, defaultBranch string) ([]Head, error) {
	name := GroupName(entry.GroupKey)
	var visible, bookmarkedHeads []*vcs.Changeset
	for _, id := range entry.Heads {
		cs, err := m.repo.Changeset(ctx, id)
		if err != nil {
			return nil, err
		}
		switch {
		case cs.Obsolete, cs.Closed:
		case bookmarked[id]:
			bookmarkedHeads = append(bookmarkedHeads, cs)
		default:
			visible = append(visible, cs)
		}
	}
	if len(visible) == 0 {
		if name != defaultBranch || len(bookmarkedHeads) == 0 {
			return nil, nil
		}
		// the default branch must not vanish because all its heads are bookmarked
		latest := bookmarkedHeads[0]
		for _, cs := range bookmarkedHeads[1:] {
			if cs.Rev > latest.Rev {
				latest = cs
			}
		}
		return []Head{{Name: name, Kind: KindBranch, Changeset: latest}}, nil
	}

	sort.Slice(visible, func(i, j int) bool { return visible[i].Rev > visible[j].Rev })
	heads := []Head{{Name: name, Kind: KindBranch, Changeset: visible[0]}}
	for _, cs := range visible[1:] {
		heads = append(heads, Head{Name: WildPrefix + cs.ID.String(), Kind: KindWild, Changeset: cs})
	}
	return heads, nil
}
