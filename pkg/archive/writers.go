package archive

import (
	"archive/tar"
	"io/fs"
	"time"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/klauspost/compress/zip"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
	execPerm = 0o755
)

func permOf(mode filemode.FileMode) int64 {
	if mode == filemode.Executable {
		return execPerm
	}
	return filePerm
}

type tarWriter struct {
	w *tar.Writer
}

func (t *tarWriter) dir(name string, mtime time.Time) error {
	return t.w.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     name,
		Mode:     dirPerm,
		ModTime:  mtime,
	})
}

func (t *tarWriter) file(name string, mode filemode.FileMode, data []byte, mtime time.Time) error {
	if mode == filemode.Symlink {
		return t.w.WriteHeader(&tar.Header{
			Typeflag: tar.TypeSymlink,
			Name:     name,
			Linkname: string(data),
			Mode:     0o777,
			ModTime:  mtime,
		})
	}
	if err := t.w.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     permOf(mode),
		Size:     int64(len(data)),
		ModTime:  mtime,
	}); err != nil {
		return err
	}
	_, err := t.w.Write(data)
	return err
}

func (t *tarWriter) Close() error {
	return t.w.Close()
}

type zipWriter struct {
	w *zip.Writer
}

func (z *zipWriter) dir(name string, mtime time.Time) error {
	h := &zip.FileHeader{Name: name, Modified: mtime}
	h.SetMode(fs.ModeDir | dirPerm)
	_, err := z.w.CreateHeader(h)
	return err
}

func (z *zipWriter) file(name string, mode filemode.FileMode, data []byte, mtime time.Time) error {
	h := &zip.FileHeader{Name: name, Modified: mtime, Method: zip.Deflate}
	switch mode {
	case filemode.Symlink:
		h.SetMode(fs.ModeSymlink | 0o777)
	default:
		h.SetMode(fs.FileMode(permOf(mode)))
	}
	fw, err := z.w.CreateHeader(h)
	if err != nil {
		return err
	}
	_, err = fw.Write(data)
	return err
}

func (z *zipWriter) Close() error {
	return z.w.Close()
}
