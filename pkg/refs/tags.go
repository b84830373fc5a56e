package refs

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/treeverse/vcsgate/pkg/state"
	"github.com/treeverse/vcsgate/pkg/vcs"
)

// Tags returns the tags sorted by name, without the tip pseudo-tag.
func (m *Mapper) Tags(ctx context.Context) ([]Tag, error) {
	entries, ok, err := m.store.Tags()
	if err != nil {
		return nil, err
	}
	if !ok {
		entries, err = m.engineTags(ctx)
		if err != nil {
			return nil, err
		}
	}
	tags := make([]Tag, 0, len(entries))
	for _, e := range entries {
		cs, err := m.live(ctx, e.Name, e.ID)
		if err != nil {
			return nil, err
		}
		if cs != nil {
			tags = append(tags, Tag{Name: e.Name, Changeset: cs})
		}
	}
	return tags, nil
}

func (m *Mapper) Tag(ctx context.Context, name string) (*Tag, error) {
	if name == tipTag {
		return nil, fmt.Errorf("tag %s: %w", name, ErrNotFound)
	}
	entries, ok, err := m.store.Tags()
	if err != nil {
		return nil, err
	}
	if !ok {
		entries, err = m.engineTags(ctx)
		if err != nil {
			return nil, err
		}
	}
	id, found := state.Lookup(entries, name)
	if !found {
		return nil, fmt.Errorf("tag %s: %w", name, ErrNotFound)
	}
	cs, err := m.live(ctx, name, id)
	if err != nil {
		return nil, err
	}
	if cs == nil {
		return nil, fmt.Errorf("tag %s: %w", name, ErrNotFound)
	}
	return &Tag{Name: name, Changeset: cs}, nil
}

// MaterializeTags writes the tag state file from the engine.
func (m *Mapper) MaterializeTags(ctx context.Context) error {
	entries, err := m.engineTags(ctx)
	if err != nil {
		return err
	}
	return m.store.WriteTags(entries)
}

func (m *Mapper) engineTags(ctx context.Context) ([]state.Entry, error) {
	tags, err := m.repo.Tags(ctx)
	if err != nil && !errors.Is(err, vcs.ErrNotFound) {
		return nil, err
	}
	entries := make([]state.Entry, 0, len(tags))
	for name, id := range tags {
		if name == tipTag {
			continue
		}
		entries = append(entries, state.Entry{Name: name, ID: id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
