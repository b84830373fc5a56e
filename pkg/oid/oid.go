// Package oid encodes tree and blob object identifiers.  The native engine has no such
// objects, so an OID carries the changeset id and the path it designates inside it.
package oid

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/treeverse/vcsgate/pkg/vcs"
)

// Separator cannot appear in a hexadecimal id.
const Separator = "_"

// NullBlob designates a file missing on one side of a diff.
const NullBlob = "0000000000000000000000000000000000000000"

// Empty tree ids of the SHA-1 and SHA-256 object formats.  As a diff endpoint either one
// stands for a tree without files.
const (
	EmptyTreeSHA1   = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"
	EmptyTreeSHA256 = "6ef19b41225c5369f1c104d45d8d85efa9b057b53b14b4b9b939dd74decc5321"
)

var ErrInvalidOID = errors.New("invalid oid")

var pathEncoding = base64.URLEncoding

// Encode returns the OID of path inside changeset id.  An empty path designates the root
// tree.
func Encode(id vcs.NodeID, path string) string {
	return id.String() + Separator + pathEncoding.EncodeToString([]byte(path))
}

// Decode splits an OID.  hasPath is false for a commit OID (no separator).
func Decode(s string) (id vcs.NodeID, path string, hasPath bool, err error) {
	idPart, encoded, found := strings.Cut(s, Separator)
	if !found {
		return vcs.NodeID(s), "", false, nil
	}
	decoded, err := pathEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", false, fmt.Errorf("%s: %w: %w", s, ErrInvalidOID, err)
	}
	return vcs.NodeID(idPart), string(decoded), true, nil
}

func IsNull(s string) bool {
	return strings.Trim(s, "0") == "" && s != ""
}

func IsEmptyTree(s string) bool {
	return s == EmptyTreeSHA1 || s == EmptyTreeSHA256
}
