package hgcli

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/treeverse/vcsgate/pkg/vcs"
)

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
	listSep   = "\x1d"

	nullNode = "0000000000000000000000000000000000000000"
)

// fields, in order: rev node branch phase user date p1 p2 obsolete bookmarks extras desc
const changesetTemplate = `{rev}\x1f{node}\x1f{branch}\x1f{phase}\x1f{user}\x1f{date|hgdate}\x1f` +
	`{p1node}\x1f{p2node}\x1f{if(obsolete,'1','0')}\x1f{join(bookmarks,'\x1d')}\x1f` +
	`{join(extras,'\x1d')}\x1f{desc}\x1e`

const manifestTemplate = `{hash}\x1f{type}\x1f{path}\x1e`

const changesetFields = 12

func namedNodeTemplate(keyword string) string {
	return "{" + keyword + `}\x1f{node}\x1e`
}

func records(out []byte) []string {
	var recs []string
	for _, rec := range strings.Split(string(out), recordSep) {
		rec = strings.TrimLeft(rec, "\n")
		if rec != "" {
			recs = append(recs, rec)
		}
	}
	return recs
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, listSep)
}

func parseChangesets(out []byte) ([]*vcs.Changeset, error) {
	var changesets []*vcs.Changeset
	for _, rec := range records(out) {
		cs, err := parseChangeset(rec)
		if err != nil {
			return nil, err
		}
		changesets = append(changesets, cs)
	}
	return changesets, nil
}

func parseChangeset(rec string) (*vcs.Changeset, error) {
	fields := strings.SplitN(rec, fieldSep, changesetFields)
	if len(fields) != changesetFields {
		return nil, fmt.Errorf("changeset record with %d fields: %w", len(fields), ErrCommandFailed)
	}
	rev, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("rev %q: %w", fields[0], err)
	}
	date, err := parseHgDate(fields[5])
	if err != nil {
		return nil, err
	}
	cs := &vcs.Changeset{
		Rev:         rev,
		ID:          vcs.NodeID(fields[1]),
		Branch:      fields[2],
		Phase:       fields[3],
		User:        fields[4],
		Date:        date,
		Obsolete:    fields[8] == "1",
		Bookmarks:   splitList(fields[9]),
		Description: fields[11],
	}
	for _, p := range fields[6:8] {
		if p != "" && p != nullNode {
			cs.Parents = append(cs.Parents, vcs.NodeID(p))
		}
	}
	sort.Strings(cs.Bookmarks)
	for _, extra := range splitList(fields[10]) {
		key, value, _ := strings.Cut(extra, "=")
		switch key {
		case "close":
			cs.Closed = true
		case "topic":
			cs.Topic = value
		}
	}
	return cs, nil
}

// parseHgDate parses "<unix> <offset>", offset in seconds west of UTC.
func parseHgDate(s string) (time.Time, error) {
	unixStr, offsetStr, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok {
		return time.Time{}, fmt.Errorf("date %q: %w", s, ErrCommandFailed)
	}
	unix, err := strconv.ParseFloat(unixStr, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", s, err)
	}
	offset, err := strconv.Atoi(offsetStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("date offset %q: %w", s, err)
	}
	return time.Unix(int64(unix), 0).In(time.FixedZone("", -offset)), nil
}

func parseNamedNodes(out []byte) (map[string]vcs.NodeID, error) {
	named := make(map[string]vcs.NodeID)
	for _, rec := range records(out) {
		name, node, ok := strings.Cut(rec, fieldSep)
		if !ok {
			return nil, fmt.Errorf("name record %q: %w", rec, ErrCommandFailed)
		}
		named[name] = vcs.NodeID(strings.TrimSpace(node))
	}
	return named, nil
}

func parseManifest(out []byte) ([]vcs.FileEntry, error) {
	var entries []vcs.FileEntry
	for _, rec := range records(out) {
		fields := strings.SplitN(rec, fieldSep, 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("manifest record %q: %w", rec, ErrCommandFailed)
		}
		mode := filemode.Regular
		switch strings.TrimSpace(fields[1]) {
		case "*", "x":
			mode = filemode.Executable
		case "@", "l":
			mode = filemode.Symlink
		}
		entries = append(entries, vcs.FileEntry{Path: fields[2], Mode: mode, FileNode: vcs.NodeID(fields[0])})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare([]byte(entries[i].Path), []byte(entries[j].Path)) < 0
	})
	return entries, nil
}
