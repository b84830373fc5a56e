package service

import (
	"fmt"
	"strings"

	"github.com/treeverse/vcsgate/pkg/manifest"
	"github.com/treeverse/vcsgate/pkg/oid"
	"github.com/treeverse/vcsgate/pkg/refs"
	"github.com/treeverse/vcsgate/pkg/revision"
	"github.com/treeverse/vcsgate/pkg/vcs"
	"gitlab.com/gitlab-org/gitaly/v16/proto/go/gitalypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const treeMode = 0o40000

// gitTimezone renders the zone of cs the way Git does, e.g. "+0100".
func gitTimezone(cs *vcs.Changeset) string {
	_, offset := cs.Date.Zone()
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("%c%02d%02d", sign, offset/3600, offset%3600/60)
}

func toGitCommit(cs *vcs.Changeset) *gitalypb.GitCommit {
	if cs == nil {
		return nil
	}
	name, email := cs.Author()
	author := &gitalypb.CommitAuthor{
		Name:     []byte(name),
		Email:    []byte(email),
		Date:     timestamppb.New(cs.Date),
		Timezone: []byte(gitTimezone(cs)),
	}
	parents := make([]string, 0, len(cs.Parents))
	for _, p := range cs.Parents {
		parents = append(parents, p.String())
	}
	return &gitalypb.GitCommit{
		Id:        cs.ID.String(),
		Subject:   []byte(cs.Subject()),
		Body:      []byte(cs.Description),
		BodySize:  int64(len(cs.Description)),
		Author:    author,
		Committer: author,
		ParentIds: parents,
		TreeId:    oid.Encode(cs.ID, ""),
	}
}

func toBranch(head refs.Head) *gitalypb.Branch {
	return &gitalypb.Branch{
		Name:         []byte(head.Name),
		TargetCommit: toGitCommit(head.Changeset),
	}
}

func toTag(tag refs.Tag) *gitalypb.Tag {
	return &gitalypb.Tag{
		Name:         []byte(tag.Name),
		Id:           tag.Changeset.ID.String(),
		TargetCommit: toGitCommit(tag.Changeset),
	}
}

func toTreeEntry(e manifest.Entry, commitID vcs.NodeID) *gitalypb.TreeEntry {
	entry := &gitalypb.TreeEntry{
		Oid:       e.OID,
		Path:      []byte(e.Path),
		FlatPath:  []byte(e.Path),
		CommitOid: commitID.String(),
	}
	if e.Type == manifest.Tree {
		entry.Type = gitalypb.TreeEntry_TREE
		entry.Mode = treeMode
	} else {
		entry.Type = gitalypb.TreeEntry_BLOB
		entry.Mode = int32(e.Mode)
	}
	return entry
}

// branchName strips refs/heads/ from a fully qualified branch name.
func branchName(name string) string {
	return strings.TrimPrefix(name, revision.HeadsPrefix)
}
