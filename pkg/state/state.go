// Package state reads and writes the state files kept next to the native store: the
// materialized branch and tag tables, special refs, keep-arounds and the default branch.
// Other worker processes may rewrite them at any time, so cached content is keyed by the
// file's modification time and size.  A file modified less than racyWindow ago is read
// without the cache, since a same-size rewrite within one timestamp tick keeps the key.
package state

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/treeverse/vcsgate/pkg/cache"
	"github.com/treeverse/vcsgate/pkg/vcs"
)

const (
	BranchesFile      = "gitlab.branches"
	TagsFile          = "gitlab.tags"
	SpecialRefsFile   = "gitlab.special-refs"
	KeepAroundsFile   = "gitlab.keep-arounds"
	DefaultBranchFile = "gitlab.default-branch"

	// DefaultBranch is the default branch name until one is written.
	DefaultBranch = "branch/default"

	header = "001"

	// racyWindow exceeds the coarsest timestamp granularity of the filesystems in use.
	racyWindow = 2 * time.Second
)

var ErrCorrupt = errors.New("corrupt state file")

type Entry struct {
	Name string
	ID   vcs.NodeID
}

// Store gives access to the state files of one repository.  It is cheap; the cache is the
// part shared across requests.
type Store struct {
	dir   string
	cache cache.Cache
}

func NewStore(dir string, c cache.Cache) *Store {
	if c == nil {
		c = cache.NoCache
	}
	return &Store{dir: dir, cache: c}
}

func (s *Store) path(file string) string {
	return filepath.Join(s.dir, file)
}

func cacheKey(path string, info fs.FileInfo) string {
	return path + "\x00" + strconv.FormatInt(info.ModTime().UnixNano(), 10) + "\x00" + strconv.FormatInt(info.Size(), 10)
}

// load returns the parsed content of file, false if it does not exist.
func (s *Store) load(file string, parse func([]byte) (interface{}, error)) (interface{}, bool, error) {
	p := s.path(file)
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	read := func() (interface{}, error) {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		return parse(data)
	}
	var v interface{}
	if time.Since(info.ModTime()) < racyWindow {
		v, err = read()
	} else {
		v, err = s.cache.GetOrSet(cacheKey(p, info), read)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", p, err)
	}
	return v, true, nil
}

func (s *Store) write(file string, data []byte) error {
	p := s.path(file)
	if info, err := os.Stat(p); err == nil {
		s.cache.Remove(cacheKey(p, info))
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil { //nolint:gomnd
		return err
	}
	tmp, err := os.CreateTemp(s.dir, file+".tmp*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// ParseEntries parses "<id> <name>" lines following the header line.
func ParseEntries(data []byte) ([]Entry, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	if !scanner.Scan() || scanner.Text() != header {
		return nil, fmt.Errorf("missing header: %w", ErrCorrupt)
	}
	var entries []Entry
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		id, name, ok := strings.Cut(line, " ")
		if !ok || id == "" {
			return nil, fmt.Errorf("line %q: %w", line, ErrCorrupt)
		}
		entries = append(entries, Entry{Name: name, ID: vcs.NodeID(id)})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func FormatEntries(entries []Entry) []byte {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	var buf bytes.Buffer
	buf.WriteString(header + "\n")
	for _, e := range sorted {
		buf.WriteString(e.ID.String())
		buf.WriteByte(' ')
		buf.WriteString(e.Name)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func (s *Store) readEntries(file string) ([]Entry, bool, error) {
	v, ok, err := s.load(file, func(data []byte) (interface{}, error) { return ParseEntries(data) })
	if err != nil || !ok {
		return nil, ok, err
	}
	return v.([]Entry), true, nil
}

// Branches returns the materialized branch table sorted by name, false when it was never
// written.
func (s *Store) Branches() ([]Entry, bool, error) {
	return s.readEntries(BranchesFile)
}

func (s *Store) WriteBranches(entries []Entry) error {
	return s.write(BranchesFile, FormatEntries(entries))
}

func (s *Store) Tags() ([]Entry, bool, error) {
	return s.readEntries(TagsFile)
}

func (s *Store) WriteTags(entries []Entry) error {
	return s.write(TagsFile, FormatEntries(entries))
}

func (s *Store) SpecialRefs() ([]Entry, error) {
	entries, _, err := s.readEntries(SpecialRefsFile)
	return entries, err
}

// SpecialRef returns the id of special ref name (a full "refs/..." path).
func (s *Store) SpecialRef(name string) (vcs.NodeID, error) {
	entries, err := s.SpecialRefs()
	if err != nil {
		return "", err
	}
	if id, ok := Lookup(entries, name); ok {
		return id, nil
	}
	return "", fmt.Errorf("special ref %s: %w", name, vcs.ErrNotFound)
}

func (s *Store) SetSpecialRef(name string, id vcs.NodeID) error {
	entries, err := s.SpecialRefs()
	if err != nil {
		return err
	}
	return s.write(SpecialRefsFile, FormatEntries(upsert(entries, name, id)))
}

func (s *Store) KeepArounds() ([]vcs.NodeID, error) {
	entries, _, err := s.readEntries(KeepAroundsFile)
	if err != nil {
		return nil, err
	}
	ids := make([]vcs.NodeID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (s *Store) HasKeepAround(id vcs.NodeID) (bool, error) {
	entries, _, err := s.readEntries(KeepAroundsFile)
	if err != nil {
		return false, err
	}
	_, ok := Lookup(entries, id.String())
	return ok, nil
}

func (s *Store) AddKeepAround(id vcs.NodeID) error {
	entries, _, err := s.readEntries(KeepAroundsFile)
	if err != nil {
		return err
	}
	return s.write(KeepAroundsFile, FormatEntries(upsert(entries, id.String(), id)))
}

// DefaultBranch returns the configured default branch name, DefaultBranch when unset.
func (s *Store) DefaultBranch() (string, error) {
	v, ok, err := s.load(DefaultBranchFile, func(data []byte) (interface{}, error) {
		return strings.TrimSpace(string(data)), nil
	})
	if err != nil {
		return "", err
	}
	if !ok || v.(string) == "" {
		return DefaultBranch, nil
	}
	return v.(string), nil
}

func (s *Store) SetDefaultBranch(name string) error {
	return s.write(DefaultBranchFile, []byte(name+"\n"))
}

// Lookup returns the id for name in a table sorted by name.
func Lookup(entries []Entry, name string) (vcs.NodeID, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Name >= name })
	if i < len(entries) && entries[i].Name == name {
		return entries[i].ID, true
	}
	return "", false
}

// upsert returns a copy of entries with name set to id; cached slices are never modified.
func upsert(entries []Entry, name string, id vcs.NodeID) []Entry {
	out := make([]Entry, 0, len(entries)+1)
	for _, e := range entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	return append(out, Entry{Name: name, ID: id})
}
