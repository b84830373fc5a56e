package diff

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/filemode"
)

const (
	devNull        = "/dev/null"
	noNewlineAtEOF = "\\ No newline at end of file\n"
)

func formatMode(m filemode.FileMode) string {
	return strconv.FormatUint(uint64(m), 8)
}

// formatRange renders one side of a hunk header.  A single line omits the count and an
// empty side points at the line before it.
func formatRange(start, count int) string {
	switch count {
	case 0:
		return strconv.Itoa(start-1) + ",0"
	case 1:
		return strconv.Itoa(start)
	default:
		return strconv.Itoa(start) + "," + strconv.Itoa(count)
	}
}

// Format renders one file change in Git unified format.
func Format(fd *FileDiff) []byte {
	var buf bytes.Buffer
	_ = WriteFile(&buf, fd)
	return buf.Bytes()
}

// WriteRaw writes every file change in Git unified format.
func WriteRaw(w io.Writer, diffs []FileDiff) error {
	for i := range diffs {
		if err := WriteFile(w, &diffs[i]); err != nil {
			return err
		}
	}
	return nil
}

func WriteFile(w io.Writer, fd *FileDiff) error {
	var b strings.Builder
	oldPath, newPath := fd.OldPath(), fd.NewPath()
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", oldPath, newPath)

	switch {
	case fd.From == nil:
		fmt.Fprintf(&b, "new file mode %s\n", formatMode(fd.To.Mode))
	case fd.To == nil:
		fmt.Fprintf(&b, "deleted file mode %s\n", formatMode(fd.From.Mode))
	default:
		if fd.From.Mode != fd.To.Mode {
			fmt.Fprintf(&b, "old mode %s\nnew mode %s\n", formatMode(fd.From.Mode), formatMode(fd.To.Mode))
		}
		switch fd.Status {
		case Renamed:
			fmt.Fprintf(&b, "similarity index %d%%\nrename from %s\nrename to %s\n", fd.Similarity, oldPath, newPath)
		case Copied:
			fmt.Fprintf(&b, "similarity index %d%%\ncopy from %s\ncopy to %s\n", fd.Similarity, oldPath, newPath)
		}
	}

	hasContent := len(fd.Hunks) > 0 || fd.Binary
	// pure renames, copies and mode changes carry no index line
	if hasContent || fd.From == nil || fd.To == nil {
		b.WriteString("index " + fd.OldOID() + ".." + fd.NewOID())
		if fd.From != nil && fd.To != nil && fd.From.Mode == fd.To.Mode {
			b.WriteString(" " + formatMode(fd.From.Mode))
		}
		b.WriteByte('\n')
	}

	oldName, newName := "a/"+oldPath, "b/"+newPath
	if fd.From == nil {
		oldName = devNull
	}
	if fd.To == nil {
		newName = devNull
	}
	if fd.Binary {
		fmt.Fprintf(&b, "Binary files %s and %s differ\n", oldName, newName)
	} else if len(fd.Hunks) > 0 {
		fmt.Fprintf(&b, "--- %s\n+++ %s\n", oldName, newName)
		writeHunks(&b, fd.Hunks)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// FormatHunks renders the hunks of a file change alone, without any file header.
func FormatHunks(fd *FileDiff) []byte {
	var b strings.Builder
	writeHunks(&b, fd.Hunks)
	return []byte(b.String())
}

func writeHunks(b *strings.Builder, hunks []Hunk) {
	for _, h := range hunks {
		fmt.Fprintf(b, "@@ -%s +%s @@\n", formatRange(h.OldStart, h.OldLines), formatRange(h.NewStart, h.NewLines))
		for _, line := range h.Lines {
			b.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				b.WriteString("\n" + noNewlineAtEOF)
			}
		}
	}
}
