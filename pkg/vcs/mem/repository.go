// Package mem is an in-memory history engine.  It implements the vcs collaborator surface
// for fixtures, tests and embedding, and offers a small builder API for creating history.
package mem

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/treeverse/vcsgate/pkg/vcs"
)

var ErrInvalidCommit = errors.New("invalid commit")

type fileRecord struct {
	mode filemode.FileMode
	node vcs.NodeID
	data []byte
}

type Repository struct {
	root string

	mu         sync.RWMutex
	changesets []*vcs.Changeset
	byID       map[vcs.NodeID]*vcs.Changeset
	manifests  map[vcs.NodeID]map[string]fileRecord
	bookmarks  map[string]vcs.NodeID
	tags       map[string]vcs.NodeID
}

// NewRepository returns an empty repository rooted at root.  State files live under
// root/.hg.
func NewRepository(root string) *Repository {
	return &Repository{
		root:      root,
		byID:      make(map[vcs.NodeID]*vcs.Changeset),
		manifests: make(map[vcs.NodeID]map[string]fileRecord),
		bookmarks: make(map[string]vcs.NodeID),
		tags:      make(map[string]vcs.NodeID),
	}
}

// CommitOptions describes a new changeset.  Files are added or replaced on top of the first
// parent's manifest, then Removed paths are dropped.
type CommitOptions struct {
	Parents     []vcs.NodeID
	Branch      string
	Topic       string
	Description string
	User        string
	Date        time.Time
	Closed      bool
	Files       map[string]string
	// Modes overrides the mode of a file in Files; regular by default.
	Modes   map[string]filemode.FileMode
	Removed []string
	Extra   []vcs.ExtraHeader
}

// Commit appends a changeset and returns it.
func (r *Repository) Commit(opts CommitOptions) (*vcs.Changeset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range opts.Parents {
		if _, ok := r.byID[p]; !ok {
			return nil, fmt.Errorf("parent %s: %w", p, vcs.ErrChangesetNotFound)
		}
	}
	if len(opts.Parents) > 2 {
		return nil, fmt.Errorf("%d parents: %w", len(opts.Parents), ErrInvalidCommit)
	}
	branch := opts.Branch
	if branch == "" {
		branch = vcs.DefaultBranchName
	}
	date := opts.Date
	if date.IsZero() {
		date = time.Unix(int64(1_700_000_000+len(r.changesets)*60), 0).UTC()
	}
	user := opts.User
	if user == "" {
		user = "test <test@example.com>"
	}

	files := make(map[string]fileRecord)
	if len(opts.Parents) > 0 {
		for p, rec := range r.manifests[opts.Parents[0]] {
			files[p] = rec
		}
	}
	for p, content := range opts.Files {
		mode := filemode.Regular
		if m, ok := opts.Modes[p]; ok {
			mode = m
		}
		files[p] = fileRecord{mode: mode, node: contentNode(p, content), data: []byte(content)}
	}
	for _, p := range opts.Removed {
		delete(files, p)
	}

	rev := len(r.changesets)
	cs := &vcs.Changeset{
		Rev:         rev,
		Parents:     slices.Clone(opts.Parents),
		Branch:      branch,
		Topic:       opts.Topic,
		Description: opts.Description,
		User:        user,
		Date:        date,
		Closed:      opts.Closed,
		Phase:       "draft",
		Extra:       slices.Clone(opts.Extra),
	}
	cs.ID = changesetNode(cs, files)
	r.changesets = append(r.changesets, cs)
	r.byID[cs.ID] = cs
	r.manifests[cs.ID] = files
	return clone(cs), nil
}

// Bookmark moves (or creates) bookmark name to id.
func (r *Repository) Bookmark(name string, id vcs.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("bookmark %s: %w", name, vcs.ErrChangesetNotFound)
	}
	r.bookmarks[name] = id
	return nil
}

func (r *Repository) DeleteBookmark(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bookmarks, name)
}

func (r *Repository) Tag(name string, id vcs.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("tag %s: %w", name, vcs.ErrChangesetNotFound)
	}
	r.tags[name] = id
	return nil
}

// Obsolete marks id as obsolete, hiding it from everything but hidden-aware lookups.
func (r *Repository) Obsolete(id vcs.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("obsolete %s: %w", id, vcs.ErrChangesetNotFound)
	}
	cs.Obsolete = true
	return nil
}

func (r *Repository) Root() string {
	return r.root
}

func (r *Repository) StateDir() string {
	return filepath.Join(r.root, ".hg")
}

func (r *Repository) Changeset(_ context.Context, id vcs.NodeID) (*vcs.Changeset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, vcs.ErrChangesetNotFound)
	}
	return r.decorate(cs), nil
}

func (r *Repository) BranchMap(_ context.Context) ([]vcs.BranchMapEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return vcs.ComputeBranchMap(r.changesets), nil
}

func (r *Repository) Bookmarks(_ context.Context) (map[string]vcs.NodeID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]vcs.NodeID, len(r.bookmarks))
	for name, id := range r.bookmarks {
		out[name] = id
	}
	return out, nil
}

// Tags returns the user tags plus the "tip" pseudo-tag, like the native tooling does.
func (r *Repository) Tags(_ context.Context) (map[string]vcs.NodeID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]vcs.NodeID, len(r.tags)+1)
	for name, id := range r.tags {
		out[name] = id
	}
	for i := len(r.changesets) - 1; i >= 0; i-- {
		if !r.changesets[i].Obsolete {
			out["tip"] = r.changesets[i].ID
			break
		}
	}
	return out, nil
}

func (r *Repository) Manifest(_ context.Context, id vcs.NodeID) ([]vcs.FileEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	files, ok := r.manifests[id]
	if !ok {
		return nil, fmt.Errorf("manifest %s: %w", id, vcs.ErrChangesetNotFound)
	}
	entries := make([]vcs.FileEntry, 0, len(files))
	for p, rec := range files {
		entries = append(entries, vcs.FileEntry{Path: p, Mode: rec.mode, FileNode: rec.node})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (r *Repository) FileData(_ context.Context, id vcs.NodeID, path string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	files, ok := r.manifests[id]
	if !ok {
		return nil, fmt.Errorf("manifest %s: %w", id, vcs.ErrChangesetNotFound)
	}
	rec, ok := files[path]
	if !ok {
		return nil, fmt.Errorf("%s@%s: %w", path, id.Short(), vcs.ErrFileNotFound)
	}
	return slices.Clone(rec.data), nil
}

// decorate returns a copy of cs carrying its current bookmarks.  Must hold r.mu.
func (r *Repository) decorate(cs *vcs.Changeset) *vcs.Changeset {
	out := clone(cs)
	for name, id := range r.bookmarks {
		if id == cs.ID {
			out.Bookmarks = append(out.Bookmarks, name)
		}
	}
	sort.Strings(out.Bookmarks)
	return out
}

func clone(cs *vcs.Changeset) *vcs.Changeset {
	out := *cs
	out.Parents = slices.Clone(cs.Parents)
	out.Bookmarks = slices.Clone(cs.Bookmarks)
	out.Extra = slices.Clone(cs.Extra)
	return &out
}

func contentNode(path, content string) vcs.NodeID {
	h := sha1.New() //nolint:gosec
	_, _ = h.Write([]byte(path))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(content))
	return vcs.NodeID(hex.EncodeToString(h.Sum(nil)))
}

func changesetNode(cs *vcs.Changeset, files map[string]fileRecord) vcs.NodeID {
	h := sha1.New() //nolint:gosec
	var b strings.Builder
	for _, p := range cs.Parents {
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%d\n%s\n%s\n%s\n%d\n%s\n", cs.Rev, cs.Branch, cs.Topic, cs.User, cs.Date.Unix(), cs.Description)
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(&b, "%s %o %s\n", p, uint32(files[p].mode), files[p].node)
	}
	_, _ = h.Write([]byte(b.String()))
	return vcs.NodeID(hex.EncodeToString(h.Sum(nil)))
}
