// Package revset models native revision-set expressions as a small AST.  Engines that
// accept textual expressions render them with String; in-process engines evaluate the
// tree directly.
package revset

import (
	"fmt"
	"strings"
)

type Expr interface {
	fmt.Stringer
	isExpr()
}

// Symbol is anything the engine resolves by name: a full or partial id, a bookmark, a tag
// or a native branch name.
type Symbol string

// Raw is a native expression passed through untouched.
type Raw string

// All is every changeset of the repository.
type All struct{}

// Ancestors is X and all of its ancestors.
type Ancestors struct{ X Expr }

// Only is the ancestors of Include that are not ancestors of Exclude.
type Only struct{ Include, Exclude Expr }

type Union struct{ L, R Expr }

type Intersection struct{ L, R Expr }

type Difference struct{ L, R Expr }

// Reverse inverts the order of X, making results newest first.
type Reverse struct{ X Expr }

func (Symbol) isExpr()       {}
func (Raw) isExpr()          {}
func (All) isExpr()          {}
func (Ancestors) isExpr()    {}
func (Only) isExpr()         {}
func (Union) isExpr()        {}
func (Intersection) isExpr() {}
func (Difference) isExpr()   {}
func (Reverse) isExpr()      {}

// String renders the symbol as a quoted string literal, which the native language resolves
// as a symbol whatever characters it contains.
func (s Symbol) String() string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range string(s) {
		switch r {
		case '\'', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func (r Raw) String() string { return string(r) }

func (All) String() string { return "all()" }

func (a Ancestors) String() string { return "ancestors(" + a.X.String() + ")" }

func (o Only) String() string {
	return "only(" + o.Include.String() + ", " + o.Exclude.String() + ")"
}

func (u Union) String() string { return "(" + u.L.String() + " + " + u.R.String() + ")" }

func (i Intersection) String() string {
	return "(" + i.L.String() + " and " + i.R.String() + ")"
}

func (d Difference) String() string { return "(" + d.L.String() + " - " + d.R.String() + ")" }

func (r Reverse) String() string { return "reverse(" + r.X.String() + ")" }
