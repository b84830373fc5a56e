// Package diff synthesizes Git compatible diffs and exportable patches between changesets.
package diff

import (
	"bytes"
	"context"
	"sort"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/treeverse/vcsgate/pkg/oid"
	"github.com/treeverse/vcsgate/pkg/vcs"
)

const (
	DefaultRenameSimilarity = 50
	DefaultContextLines     = 3

	// inexact rename detection is skipped above this many candidate pairs
	renameLimit = 1000 * 1000
	// above this many files, only modified files are copy sources
	copySourceLimit = 1000
	// binary detection looks at this many leading bytes, like Git
	binarySniffLen = 8000
)

type Status int

const (
	Modified Status = iota
	Added
	Deleted
	Renamed
	Copied
)

func (s Status) String() string {
	switch s {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	case Copied:
		return "copied"
	default:
		return "modified"
	}
}

// File is one side of a file change.
type File struct {
	Path string
	Mode filemode.FileMode
	OID  string
	Data []byte
}

// FileDiff is the change of one file between two trees.  From is nil for an added file
// and To is nil for a deleted one.
type FileDiff struct {
	Status     Status
	From       *File
	To         *File
	Similarity int
	Binary     bool
	Hunks      []Hunk
}

func (d *FileDiff) OldPath() string {
	if d.From == nil {
		return d.To.Path
	}
	return d.From.Path
}

func (d *FileDiff) NewPath() string {
	if d.To == nil {
		return d.From.Path
	}
	return d.To.Path
}

// OldOID is the OID of the old side, NullBlob when missing.
func (d *FileDiff) OldOID() string {
	if d.From == nil {
		return oid.NullBlob
	}
	return d.From.OID
}

func (d *FileDiff) NewOID() string {
	if d.To == nil {
		return oid.NullBlob
	}
	return d.To.OID
}

type Synthesizer struct {
	repo             vcs.Repository
	renameSimilarity int
	contextLines     int
}

type Option func(*Synthesizer)

// WithRenameSimilarity sets the minimal similarity percentage of a rename; 0 disables
// inexact rename detection.
func WithRenameSimilarity(percent int) Option {
	return func(s *Synthesizer) {
		s.renameSimilarity = percent
	}
}

func WithContextLines(n int) Option {
	return func(s *Synthesizer) {
		s.contextLines = n
	}
}

func NewSynthesizer(repo vcs.Repository, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		repo:             repo,
		renameSimilarity: DefaultRenameSimilarity,
		contextLines:     DefaultContextLines,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type tree struct {
	id    vcs.NodeID
	files map[string]vcs.FileEntry
}

func (s *Synthesizer) loadTree(ctx context.Context, cs *vcs.Changeset) (*tree, error) {
	t := &tree{files: make(map[string]vcs.FileEntry)}
	if cs == nil {
		return t, nil
	}
	t.id = cs.ID
	entries, err := s.repo.Manifest(ctx, cs.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		t.files[e.Path] = e
	}
	return t, nil
}

func (s *Synthesizer) load(ctx context.Context, t *tree, path string) (*File, error) {
	e := t.files[path]
	data, err := s.repo.FileData(ctx, t.id, path)
	if err != nil {
		return nil, err
	}
	return &File{Path: path, Mode: e.Mode, OID: oid.Encode(t.id, path), Data: data}, nil
}

// Diff compares the trees of left and right; a nil side is the empty tree.  Records are
// ordered by new path (old path for deletions).
func (s *Synthesizer) Diff(ctx context.Context, left, right *vcs.Changeset) ([]FileDiff, error) {
	from, err := s.loadTree(ctx, left)
	if err != nil {
		return nil, err
	}
	to, err := s.loadTree(ctx, right)
	if err != nil {
		return nil, err
	}

	var added, removed, modified []string
	for p, e := range to.files {
		old, ok := from.files[p]
		switch {
		case !ok:
			added = append(added, p)
		case old.FileNode != e.FileNode || old.Mode != e.Mode:
			modified = append(modified, p)
		}
	}
	for p := range from.files {
		if _, ok := to.files[p]; !ok {
			removed = append(removed, p)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	var diffs []FileDiff
	for _, p := range modified {
		fd := FileDiff{Status: Modified}
		if fd.From, err = s.load(ctx, from, p); err != nil {
			return nil, err
		}
		if fd.To, err = s.load(ctx, to, p); err != nil {
			return nil, err
		}
		if fd.From.Mode == fd.To.Mode && bytes.Equal(fd.From.Data, fd.To.Data) {
			continue
		}
		diffs = append(diffs, fd)
	}

	addedFiles := make([]*File, 0, len(added))
	for _, p := range added {
		f, err := s.load(ctx, to, p)
		if err != nil {
			return nil, err
		}
		addedFiles = append(addedFiles, f)
	}
	removedFiles := make([]*File, 0, len(removed))
	for _, p := range removed {
		f, err := s.load(ctx, from, p)
		if err != nil {
			return nil, err
		}
		removedFiles = append(removedFiles, f)
	}

	paired, pairedDiffs := s.detectRenames(addedFiles, removedFiles)
	diffs = append(diffs, pairedDiffs...)
	copies, copyDiffs, err := s.detectCopies(ctx, from, to, addedFiles, paired)
	if err != nil {
		return nil, err
	}
	diffs = append(diffs, copyDiffs...)

	for _, f := range addedFiles {
		if !paired[f] && !copies[f] {
			diffs = append(diffs, FileDiff{Status: Added, To: f})
		}
	}
	for _, f := range removedFiles {
		if !paired[f] {
			diffs = append(diffs, FileDiff{Status: Deleted, From: f})
		}
	}

	for i := range diffs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.fillHunks(&diffs[i])
	}
	sort.SliceStable(diffs, func(i, j int) bool {
		return diffs[i].NewPath() < diffs[j].NewPath()
	})
	return diffs, nil
}

type renamePair struct {
	from, to *File
	score    int
}

// detectRenames pairs removed and added files, best similarity first.  Every file takes
// part in at most one rename.
func (s *Synthesizer) detectRenames(added, removed []*File) (map[*File]bool, []FileDiff) {
	paired := make(map[*File]bool)
	if len(added) == 0 || len(removed) == 0 {
		return paired, nil
	}
	var pairs []renamePair
	inexact := s.renameSimilarity > 0 && len(added)*len(removed) <= renameLimit
	for _, a := range added {
		for _, r := range removed {
			if bytes.Equal(a.Data, r.Data) {
				pairs = append(pairs, renamePair{from: r, to: a, score: 100})
				continue
			}
			if !inexact || isBinary(a.Data) || isBinary(r.Data) {
				continue
			}
			if score := similarity(r.Data, a.Data); score >= s.renameSimilarity {
				pairs = append(pairs, renamePair{from: r, to: a, score: score})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score > pairs[j].score
		}
		return pairs[i].from.Path < pairs[j].from.Path
	})
	var diffs []FileDiff
	for _, p := range pairs {
		if paired[p.from] || paired[p.to] {
			continue
		}
		paired[p.from] = true
		paired[p.to] = true
		diffs = append(diffs, FileDiff{Status: Renamed, From: p.from, To: p.to, Similarity: p.score})
	}
	return paired, diffs
}

// detectCopies finds added files whose content is identical to a file still present.
func (s *Synthesizer) detectCopies(ctx context.Context, from, to *tree, added []*File, paired map[*File]bool) (map[*File]bool, []FileDiff, error) {
	copies := make(map[*File]bool)
	var candidates []*File
	for _, f := range added {
		if !paired[f] {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return copies, nil, nil
	}
	var sources, modified []string
	for p, old := range from.files {
		if e, ok := to.files[p]; ok {
			sources = append(sources, p)
			if e.FileNode != old.FileNode {
				modified = append(modified, p)
			}
		}
	}
	if len(sources) > copySourceLimit {
		sources = modified
	}
	sort.Strings(sources)

	var diffs []FileDiff
	for _, p := range sources {
		var src *File
		for _, f := range candidates {
			if copies[f] {
				continue
			}
			if src == nil {
				var err error
				if src, err = s.load(ctx, from, p); err != nil {
					return nil, nil, err
				}
			}
			if bytes.Equal(src.Data, f.Data) && src.Mode == f.Mode {
				copies[f] = true
				diffs = append(diffs, FileDiff{Status: Copied, From: src, To: f, Similarity: 100})
			}
		}
	}
	return copies, diffs, nil
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data[:min(len(data), binarySniffLen)], 0) >= 0
}

func (s *Synthesizer) fillHunks(fd *FileDiff) {
	var fromData, toData []byte
	if fd.From != nil {
		fromData = fd.From.Data
	}
	if fd.To != nil {
		toData = fd.To.Data
	}
	if isBinary(fromData) || isBinary(toData) {
		fd.Binary = !bytes.Equal(fromData, toData)
		return
	}
	if bytes.Equal(fromData, toData) {
		return
	}
	fd.Hunks = hunks(lineOps(fromData, toData), s.contextLines)
}
