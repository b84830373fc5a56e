// Package archive exports the tree of a changeset as a zip or (compressed) tar archive.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/treeverse/vcsgate/pkg/manifest"
	"github.com/treeverse/vcsgate/pkg/vcs"
)

type Format int

const (
	Zip Format = iota
	Tar
	TarGz
	TarBz2
)

func (f Format) String() string {
	switch f {
	case Zip:
		return "zip"
	case Tar:
		return "tar"
	case TarGz:
		return "tar.gz"
	case TarBz2:
		return "tar.bz2"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

var ErrUnknownFormat = errors.New("unknown archive format")

type Options struct {
	Format Format
	// Prefix is prepended to every entry name, as a directory.
	Prefix string
	// Path restricts the archive to one directory or file.
	Path string
	// Exclude drops entries under these paths.
	Exclude []string
}

type entryWriter interface {
	dir(name string, mtime time.Time) error
	file(name string, mode filemode.FileMode, data []byte, mtime time.Time) error
	Close() error
}

// Write streams the archive of cs to w.  It stops between entries when ctx is done.
func Write(ctx context.Context, w io.Writer, repo vcs.Repository, cs *vcs.Changeset, opts Options) error {
	files, err := repo.Manifest(ctx, cs.ID)
	if err != nil {
		return err
	}
	entries, err := selectEntries(files, cs.ID, opts)
	if err != nil {
		return err
	}

	var (
		ew         entryWriter
		compressor io.WriteCloser
	)
	switch opts.Format {
	case Zip:
		ew = &zipWriter{w: zip.NewWriter(w)}
	case Tar:
		ew = &tarWriter{w: tar.NewWriter(w)}
	case TarGz:
		compressor = gzip.NewWriter(w)
		ew = &tarWriter{w: tar.NewWriter(compressor)}
	case TarBz2:
		compressor, err = bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			return err
		}
		ew = &tarWriter{w: tar.NewWriter(compressor)}
	default:
		return fmt.Errorf("%s: %w", opts.Format, ErrUnknownFormat)
	}

	prefix := strings.Trim(opts.Prefix, "/")
	name := func(p string) string {
		if prefix == "" {
			return p
		}
		return path.Join(prefix, p)
	}
	mtime := cs.Date
	if prefix != "" {
		if err := ew.dir(prefix+"/", mtime); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.Type == manifest.Tree {
			err = ew.dir(name(e.Path)+"/", mtime)
		} else {
			var data []byte
			data, err = repo.FileData(ctx, cs.ID, e.Path)
			if err == nil {
				err = ew.file(name(e.Path), e.Mode, data, mtime)
			}
		}
		if err != nil {
			return err
		}
	}
	if err := ew.Close(); err != nil {
		return err
	}
	if compressor != nil {
		return compressor.Close()
	}
	return nil
}

func selectEntries(files []vcs.FileEntry, id vcs.NodeID, opts Options) ([]manifest.Entry, error) {
	var entries []manifest.Entry
	if p := strings.Trim(opts.Path, "/"); p != "" && p != "." {
		e, ok := manifest.Lookup(files, id, p)
		if !ok {
			return nil, fmt.Errorf("path %s: %w", p, vcs.ErrFileNotFound)
		}
		if e.Type == manifest.Blob {
			entries = []manifest.Entry{e}
		} else {
			entries = append([]manifest.Entry{e}, manifest.List(files, id, p, manifest.ListOptions{Recursive: true})...)
		}
	} else {
		entries = manifest.List(files, id, "", manifest.ListOptions{Recursive: true})
	}
	if len(opts.Exclude) == 0 {
		return entries, nil
	}
	kept := entries[:0]
	for _, e := range entries {
		if !excluded(e.Path, opts.Exclude) {
			kept = append(kept, e)
		}
	}
	return kept, nil
}

func excluded(p string, exclude []string) bool {
	for _, x := range exclude {
		x = strings.Trim(x, "/")
		if p == x || strings.HasPrefix(p, x+"/") {
			return true
		}
	}
	return false
}
