// Package manifest lists trees out of a flat, path sorted manifest.  Directories do not
// exist natively; they are derived from file paths.
package manifest

import (
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/treeverse/vcsgate/pkg/oid"
	"github.com/treeverse/vcsgate/pkg/vcs"
)

type EntryType int

const (
	Blob EntryType = iota
	Tree
)

func (t EntryType) String() string {
	if t == Tree {
		return "tree"
	}
	return "blob"
}

type Entry struct {
	// Path is relative to the repository root.
	Path     string
	Type     EntryType
	Mode     filemode.FileMode
	OID      string
	FileNode vcs.NodeID
}

// Name is the last segment of the entry path.
func (e Entry) Name() string {
	return e.Path[strings.LastIndexByte(e.Path, '/')+1:]
}

type ListOptions struct {
	Recursive  bool
	TreesFirst bool
}

// NormalizeDir turns a caller directory ("", ".", "dir", "dir/") into a path prefix.
func NormalizeDir(dir string) string {
	dir = strings.Trim(dir, "/")
	if dir == "" || dir == "." {
		return ""
	}
	return dir + "/"
}

// List returns the entries under dir in changeset id.  Non recursive listings hold the
// direct children only; recursive listings hold every tree before its contents.
func List(files []vcs.FileEntry, id vcs.NodeID, dir string, opts ListOptions) []Entry {
	prefix := NormalizeDir(dir)
	seenTrees := make(map[string]bool)
	var entries []Entry
	addTree := func(path string) {
		if seenTrees[path] {
			return
		}
		seenTrees[path] = true
		entries = append(entries, Entry{Path: path, Type: Tree, Mode: filemode.Dir, OID: oid.Encode(id, path)})
	}
	for _, f := range files {
		if !strings.HasPrefix(f.Path, prefix) {
			continue
		}
		rest := f.Path[len(prefix):]
		if !opts.Recursive {
			if seg, _, isDir := strings.Cut(rest, "/"); isDir {
				addTree(prefix + seg)
				continue
			}
		} else {
			for i := strings.IndexByte(rest, '/'); i >= 0; {
				addTree(prefix + rest[:i])
				next := strings.IndexByte(rest[i+1:], '/')
				if next < 0 {
					break
				}
				i += next + 1
			}
		}
		entries = append(entries, Entry{Path: f.Path, Type: Blob, Mode: f.Mode, OID: oid.Encode(id, f.Path), FileNode: f.FileNode})
	}
	if opts.TreesFirst {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Type == Tree && entries[j].Type != Tree
		})
	}
	return entries
}

// Lookup finds path in the manifest: a file, a directory (tree) or nothing.
func Lookup(files []vcs.FileEntry, id vcs.NodeID, path string) (Entry, bool) {
	path = strings.Trim(path, "/")
	if path == "" || path == "." {
		return Entry{Path: "", Type: Tree, Mode: filemode.Dir, OID: oid.Encode(id, "")}, true
	}
	i := sort.Search(len(files), func(i int) bool { return files[i].Path >= path })
	if i < len(files) && files[i].Path == path {
		f := files[i]
		return Entry{Path: f.Path, Type: Blob, Mode: f.Mode, OID: oid.Encode(id, f.Path), FileNode: f.FileNode}, true
	}
	dirPrefix := path + "/"
	j := sort.Search(len(files), func(i int) bool { return files[i].Path >= dirPrefix })
	if j < len(files) && strings.HasPrefix(files[j].Path, dirPrefix) {
		return Entry{Path: path, Type: Tree, Mode: filemode.Dir, OID: oid.Encode(id, path)}, true
	}
	return Entry{}, false
}

// FlatPath descends from dir as long as the tree holds nothing but a single subtree, and
// returns the path of the deepest tree reached.
func FlatPath(files []vcs.FileEntry, id vcs.NodeID, dir string) string {
	for {
		children := List(files, id, dir, ListOptions{})
		if len(children) != 1 || children[0].Type != Tree {
			return strings.Trim(dir, "/")
		}
		dir = children[0].Path
	}
}
