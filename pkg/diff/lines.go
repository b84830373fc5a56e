package diff

import (
	"bytes"
	"strings"

	"github.com/go-git/go-git/v5/utils/diff"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	opEqual  = ' '
	opDelete = '-'
	opInsert = '+'
)

// lineOp is one line of a line-level edit script.  text keeps its trailing newline when
// it has one.
type lineOp struct {
	kind byte
	text string
}

// Hunk is a unified diff hunk.  Lines carry their ' ', '-' or '+' marker.
type Hunk struct {
	OldStart, OldLines int
	NewStart, NewLines int
	Lines              []string
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func lineOps(from, to []byte) []lineOp {
	var ops []lineOp
	for _, d := range diff.Do(string(from), string(to)) {
		var kind byte
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			kind = opEqual
		case diffmatchpatch.DiffDelete:
			kind = opDelete
		case diffmatchpatch.DiffInsert:
			kind = opInsert
		}
		for _, line := range splitLines(d.Text) {
			ops = append(ops, lineOp{kind: kind, text: line})
		}
	}
	return ops
}

// similarity is the percentage of lines the two contents share, 2*common/(len(a)+len(b)).
func similarity(from, to []byte) int {
	if bytes.Equal(from, to) {
		return 100
	}
	var common, total int
	for _, op := range lineOps(from, to) {
		switch op.kind {
		case opEqual:
			common += 2
			total += 2
		default:
			total++
		}
	}
	if total == 0 {
		return 100
	}
	return common * 100 / total
}

// hunks groups the edit script into hunks with contextLines of context around changes.
// Changes separated by at most 2*contextLines unchanged lines share a hunk.
func hunks(ops []lineOp, contextLines int) []Hunk {
	// oldBefore[i] and newBefore[i] count the lines preceding op i on each side
	oldBefore := make([]int, len(ops)+1)
	newBefore := make([]int, len(ops)+1)
	var changes []int
	for i, op := range ops {
		oldBefore[i+1], newBefore[i+1] = oldBefore[i], newBefore[i]
		if op.kind != opInsert {
			oldBefore[i+1]++
		}
		if op.kind != opDelete {
			newBefore[i+1]++
		}
		if op.kind != opEqual {
			changes = append(changes, i)
		}
	}

	var result []Hunk
	for k := 0; k < len(changes); {
		first := changes[k]
		last := first
		k++
		for k < len(changes) && changes[k]-last-1 <= 2*contextLines {
			last = changes[k]
			k++
		}
		start := max(0, first-contextLines)
		end := min(len(ops), last+contextLines+1)
		h := Hunk{
			OldStart: oldBefore[start] + 1,
			OldLines: oldBefore[end] - oldBefore[start],
			NewStart: newBefore[start] + 1,
			NewLines: newBefore[end] - newBefore[start],
		}
		for _, op := range ops[start:end] {
			h.Lines = append(h.Lines, string(op.kind)+op.text)
		}
		result = append(result, h)
	}
	return result
}
