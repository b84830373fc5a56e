// Package hgcli implements the vcs collaborator surface on top of the hg command line.
// Every capability call runs one hg process against the repository root with plain,
// machine-readable output.
package hgcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/treeverse/vcsgate/pkg/vcs"
	"github.com/treeverse/vcsgate/pkg/vcs/revset"
)

const DefaultBinary = "hg"

var ErrCommandFailed = errors.New("hg command failed")

// Engine opens repositories that live in a directory holding a .hg subdirectory.
type Engine struct {
	binary string
}

func NewEngine(binary string) *Engine {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Engine{binary: binary}
}

func (e *Engine) Open(_ context.Context, path string) (vcs.Repository, error) {
	info, err := os.Stat(filepath.Join(path, ".hg"))
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", path, vcs.ErrRepositoryNotFound)
	}
	return &Repository{binary: e.binary, root: path}, nil
}

type Repository struct {
	binary string
	root   string
}

func (r *Repository) Root() string {
	return r.root
}

func (r *Repository) StateDir() string {
	return filepath.Join(r.root, ".hg")
}

// Run executes hg against this repository and returns stdout.  Failures carry stderr and
// are classified into the vcs sentinels when the message is recognized.
func (r *Repository) Run(ctx context.Context, args ...string) ([]byte, error) {
	fullArgs := append([]string{"-R", r.root, "--config", "ui.interactive=false"}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, r.binary, fullArgs...)
	command.Env = append(os.Environ(), "HGPLAIN=1", "HGENCODING=utf-8")
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		return nil, fmt.Errorf("hg %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.root, classify(msg), msg)
	}
	return stdout.Bytes(), nil
}

func classify(stderr string) error {
	switch {
	case strings.Contains(stderr, "ambiguous identifier"):
		return vcs.ErrAmbiguous
	case strings.Contains(stderr, "unknown revision"),
		strings.Contains(stderr, "hidden revision"),
		strings.Contains(stderr, "filtered revision"):
		return vcs.ErrChangesetNotFound
	case strings.Contains(stderr, "no such file in rev"):
		return vcs.ErrFileNotFound
	case strings.Contains(stderr, "parse error"), strings.Contains(stderr, "syntax error"):
		return vcs.ErrInvalidRevision
	default:
		return ErrCommandFailed
	}
}

func (r *Repository) log(ctx context.Context, expr revset.Expr, hidden bool) ([]*vcs.Changeset, error) {
	args := []string{"log", "-r", expr.String(), "-T", changesetTemplate}
	if hidden {
		args = append(args, "--hidden")
	}
	out, err := r.Run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseChangesets(out)
}

func (r *Repository) Changeset(ctx context.Context, id vcs.NodeID) (*vcs.Changeset, error) {
	changesets, err := r.log(ctx, revset.Symbol(id), true)
	if err != nil {
		return nil, err
	}
	if len(changesets) != 1 || changesets[0].ID != id {
		return nil, fmt.Errorf("%s: %w", id, vcs.ErrChangesetNotFound)
	}
	return changesets[0], nil
}

func (r *Repository) Evaluate(ctx context.Context, expr revset.Expr, opts ...vcs.EvalOption) ([]*vcs.Changeset, error) {
	options := vcs.NewEvalOptions(opts...)
	return r.log(ctx, expr, options.Hidden)
}

// BranchMap is computed from the full visible history, so topic groupings get their own
// entries.
func (r *Repository) BranchMap(ctx context.Context) ([]vcs.BranchMapEntry, error) {
	changesets, err := r.log(ctx, revset.All{}, false)
	if err != nil {
		return nil, err
	}
	return vcs.ComputeBranchMap(changesets), nil
}

func (r *Repository) Bookmarks(ctx context.Context) (map[string]vcs.NodeID, error) {
	out, err := r.Run(ctx, "bookmarks", "-T", namedNodeTemplate("bookmark"))
	if err != nil {
		return nil, err
	}
	return parseNamedNodes(out)
}

func (r *Repository) Tags(ctx context.Context) (map[string]vcs.NodeID, error) {
	out, err := r.Run(ctx, "tags", "--debug", "-T", namedNodeTemplate("tag"))
	if err != nil {
		return nil, err
	}
	return parseNamedNodes(out)
}

func (r *Repository) Manifest(ctx context.Context, id vcs.NodeID) ([]vcs.FileEntry, error) {
	out, err := r.Run(ctx, "manifest", "--debug", "--hidden", "-r", id.String(), "-T", manifestTemplate)
	if err != nil {
		return nil, err
	}
	return parseManifest(out)
}

func (r *Repository) FileData(ctx context.Context, id vcs.NodeID, path string) ([]byte, error) {
	return r.Run(ctx, "cat", "--hidden", "-r", id.String(), "path:"+path)
}
