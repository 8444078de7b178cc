// Package program accepts the already-parsed declaration tree a front end
// would hand the runtime (lexing, parsing, and desugaring to this tree are
// out of scope per §1) and builds the live Src/Drv actors from it,
// wiring subscriptions and rejecting dependency cycles at service-init time
// per §9's Design Note.
package program

import (
	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/eval"
)

// CellKind distinguishes a mutable source from a derived expression.
type CellKind int

const (
	SrcCell CellKind = iota
	DrvCell
)

// CellDecl is one `var`/`def` declaration from §6's source syntax.
type CellDecl struct {
	Name string
	Kind CellKind

	// Initial is the Src cell's starting value. Unused for DrvCell.
	Initial eval.Expr

	// Expr is the Drv cell's expression. Unused for SrcCell.
	Expr eval.Expr

	// GlitchFree marks a `@glitchfree def`. Unused for SrcCell.
	GlitchFree bool
}

// ActionDecl is one `pub def f = action { ... }` straight-line assignment
// sequence.
type ActionDecl struct {
	Name   string
	Writes []AssignDecl
}

// AssignDecl is one `cell_name = expr;` inside an action body.
type AssignDecl struct {
	Cell string
	RHS  eval.Expr
}

// ServiceDecl is one `service name { ... }` block.
type ServiceDecl struct {
	Name    string
	Cells   []CellDecl
	Actions []ActionDecl

	// Imports resolves an `import ident` alias to a remote cell's address,
	// for free variables in Drv expressions or action RHS/read-sets that
	// cross a service boundary (§9 "Remote cells").
	Imports map[string]reactive.Address
}

