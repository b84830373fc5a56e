package vcs

import (
	"context"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/treeverse/vcsgate/pkg/vcs/revset"
)

// DefaultBranchName is the native branch every repository starts on.
const DefaultBranchName = "default"

// NodeID is the full hexadecimal identifier of a changeset (40 or 64 characters).
type NodeID string

func (id NodeID) String() string {
	return string(id)
}

// Short returns the first 12 characters of the id, as shown by the native tooling.
func (id NodeID) Short() string {
	const shortLen = 12
	if len(id) <= shortLen {
		return string(id)
	}
	return string(id[:shortLen])
}

// Changeset is an immutable history node as reported by the engine.
type Changeset struct {
	ID          NodeID
	Rev         int
	Parents     []NodeID
	Branch      string
	Topic       string
	Description string
	User        string
	Date        time.Time
	Obsolete    bool
	Closed      bool
	Bookmarks   []string
	Phase       string
	// Extra holds additional export headers, in the order they should be emitted.
	Extra []ExtraHeader
}

type ExtraHeader struct {
	Key   string
	Value string
}

// FirstParent returns the first parent id, false for a root changeset.
func (c *Changeset) FirstParent() (NodeID, bool) {
	if len(c.Parents) == 0 {
		return "", false
	}
	return c.Parents[0], true
}

// Subject is the first line of the description.
func (c *Changeset) Subject() string {
	subject, _, _ := strings.Cut(c.Description, "\n")
	return subject
}

// Author splits User into a name and an email, following the "Name <email>" convention.
// A User that is not an address is returned whole as the name.
func (c *Changeset) Author() (name, email string) {
	addr, err := mail.ParseAddress(c.User)
	if err != nil {
		return strings.TrimSpace(c.User), ""
	}
	return addr.Name, addr.Address
}

// TZOffset is the timezone offset in seconds west of UTC, the native export convention.
func (c *Changeset) TZOffset() int {
	_, offset := c.Date.Zone()
	return -offset
}

// GroupKey identifies a native branch/topic grouping.
type GroupKey struct {
	Branch string
	Topic  string
}

// BranchMapEntry lists the heads of one grouping, ordered by ascending Rev.
type BranchMapEntry struct {
	GroupKey
	Heads []NodeID
}

// FileEntry is one file of a manifest.  FileNode identifies the content: two entries with
// the same FileNode have the same data.
type FileEntry struct {
	Path     string
	Mode     filemode.FileMode
	FileNode NodeID
}

type EvalOptions struct {
	// Hidden makes obsolete changesets resolvable.
	Hidden bool
}

type EvalOption func(*EvalOptions)

// WithHidden lets evaluation return obsolete changesets.
func WithHidden() EvalOption {
	return func(o *EvalOptions) {
		o.Hidden = true
	}
}

func NewEvalOptions(opts ...EvalOption) EvalOptions {
	var o EvalOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Repository is the capability surface of the native engine for one repository.
type Repository interface {
	// Root is the repository working directory.
	Root() string
	// StateDir is the directory holding the persisted state files.
	StateDir() string
	// Changeset returns the changeset with the exact full id, obsolete or not.
	Changeset(ctx context.Context, id NodeID) (*Changeset, error)
	// Evaluate evaluates a revision-set expression.  Results are in the order the
	// expression defines: ascending Rev unless reversed.
	Evaluate(ctx context.Context, expr revset.Expr, opts ...EvalOption) ([]*Changeset, error)
	// BranchMap returns every grouping with its native heads (closed heads included).
	BranchMap(ctx context.Context) ([]BranchMapEntry, error)
	Bookmarks(ctx context.Context) (map[string]NodeID, error)
	Tags(ctx context.Context) (map[string]NodeID, error)
	// Manifest returns the files of a changeset sorted by path.
	Manifest(ctx context.Context, id NodeID) ([]FileEntry, error)
	FileData(ctx context.Context, id NodeID, path string) ([]byte, error)
}

// Engine opens repositories.
type Engine interface {
	// Open returns ErrRepositoryNotFound when path holds no repository.
	Open(ctx context.Context, path string) (Repository, error)
}

// ComputeBranchMap derives the branch map from the full set of changesets: a visible
// changeset is a head of its grouping when no visible child belongs to the same grouping.
func ComputeBranchMap(changesets []*Changeset) []BranchMapEntry {
	byID := make(map[NodeID]*Changeset, len(changesets))
	for _, cs := range changesets {
		if !cs.Obsolete {
			byID[cs.ID] = cs
		}
	}
	hasChildInGroup := make(map[NodeID]bool)
	for _, cs := range byID {
		for _, p := range cs.Parents {
			parent, ok := byID[p]
			if ok && parent.Branch == cs.Branch && parent.Topic == cs.Topic {
				hasChildInGroup[p] = true
			}
		}
	}
	groups := make(map[GroupKey][]*Changeset)
	for id, cs := range byID {
		if hasChildInGroup[id] {
			continue
		}
		key := GroupKey{Branch: cs.Branch, Topic: cs.Topic}
		groups[key] = append(groups[key], cs)
	}
	entries := make([]BranchMapEntry, 0, len(groups))
	for key, heads := range groups {
		sort.Slice(heads, func(i, j int) bool { return heads[i].Rev < heads[j].Rev })
		entry := BranchMapEntry{GroupKey: key}
		for _, h := range heads {
			entry.Heads = append(entry.Heads, h.ID)
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Branch != entries[j].Branch {
			return entries[i].Branch < entries[j].Branch
		}
		return entries[i].Topic < entries[j].Topic
	})
	return entries
}
