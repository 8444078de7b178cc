package program

import (
	"fmt"
	"log/slog"

	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/basis"
	"github.com/reactorlang/runtime/internal/reactive/drv"
	"github.com/reactorlang/runtime/internal/reactive/eval"
	"github.com/reactorlang/runtime/internal/reactive/message"
	"github.com/reactorlang/runtime/internal/reactive/src"
)

// defaultMailboxSize bounds every Src cell's inbox. Load always uses it;
// config's runtime.mailbox_size value is not passed in here.
const defaultMailboxSize = 256

// Loaded is the live actor graph built from a ServiceDecl: every cell
// reachable by name, ready for a svc.Registry to wrap.
type Loaded struct {
	Service  string
	SrcCells map[string]*src.Cell
	DrvCells map[string]*drv.Cell
	Actions  map[string]ActionDecl
}

// Load builds the Src/Drv actors for decl, rejects dependency cycles among
// its Drv cells (§9 Design Note: cycles are rejected at service-init time,
// not detected at runtime), wires each Drv cell's subscriptions to its
// declared inputs, and seeds every locally-resolvable Drv cell with an
// initial value computed from its inputs' initial expressions. Without this
// a freshly loaded service could not answer a TestRequestPred on a Drv cell
// until every upstream Src cell had been written to at least once.
func Load(decl ServiceDecl, evaluator eval.Evaluator, logger *slog.Logger) (*Loaded, error) {
	order, err := topoSort(decl)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]CellDecl, len(decl.Cells))
	for _, cd := range decl.Cells {
		byName[cd.Name] = cd
	}

	l := &Loaded{
		Service:  decl.Name,
		SrcCells: make(map[string]*src.Cell),
		DrvCells: make(map[string]*drv.Cell),
		Actions:  make(map[string]ActionDecl, len(decl.Actions)),
	}
	for _, a := range decl.Actions {
		l.Actions[a.Name] = a
	}

	// initialValues tracks each locally-seeded cell's starting value so a
	// Drv cell two or more levels deep can seed from another Drv cell's
	// computed initial output, not only from Src cells directly.
	initialValues := make(map[string]eval.Expr, len(decl.Cells))
	// initialBases holds the basis each seeded value carries: iteration 0 of
	// every Src cell it derives from, never a Drv cell's own address.
	initialBases := make(map[string]basis.Stamp, len(decl.Cells))

	for _, name := range order {
		cd := byName[name]
		addr := reactive.Address{Service: decl.Name, Cell: name}

		switch cd.Kind {
		case SrcCell:
			l.SrcCells[name] = src.New(addr, cd.Initial, logger, defaultMailboxSize)
			initialValues[name] = cd.Initial
			initialBases[name] = basis.Singleton(addr, 0)

		case DrvCell:
			freeVars := cd.Expr.FreeVars()
			inputAddrs := make(map[string]reactive.Address, len(freeVars))
			for _, fv := range freeVars {
				resolved, ok := resolveAddr(decl, fv)
				if !ok {
					return nil, fmt.Errorf("program: cell %q references undeclared %q", name, fv)
				}
				inputAddrs[fv] = resolved
			}

			dc := drv.New(addr, cd.Expr, evaluator, inputAddrs, logger, drv.WithGlitchFree(cd.GlitchFree))
			l.DrvCells[name] = dc

			for _, fv := range freeVars {
				sink := dc.Inbox()
				switch {
				case l.SrcCells[fv] != nil:
					l.SrcCells[fv].Subscribe(addr, sink)
				case l.DrvCells[fv] != nil:
					l.DrvCells[fv].Subscribe(addr, sink)
				default:
					// A remote input: program.Load only wires local cells.
					// The remote.Proxy for inputAddrs[fv] subscribes dc's
					// Inbox() itself once the owning Svc is constructed.
				}
			}

			value, st, ok := seedInitial(dc, evaluator, cd.Expr, freeVars, inputAddrs, initialValues, initialBases)
			if ok {
				initialValues[name] = value
				initialBases[name] = st
			}
		}
	}

	return l, nil
}

// resolveAddr resolves a free variable to a local cell address or, failing
// that, a cross-service import alias from decl.Imports.
func resolveAddr(decl ServiceDecl, name string) (reactive.Address, bool) {
	for _, cd := range decl.Cells {
		if cd.Name == name {
			return reactive.Address{Service: decl.Name, Cell: name}, true
		}
	}
	if addr, ok := decl.Imports[name]; ok {
		return addr, true
	}
	return reactive.Address{}, false
}

// seedInitial evaluates expr against freeVars' initial values (all of which
// must already be locally known — Load visits cells in topological order)
// and, on success, pushes a synthetic PropChange for each input onto dc's
// Inbox, stamped with that input's initial basis (iteration 0 of the Src
// cells it derives from), so the cell's first real value is available
// immediately rather than only after an upstream Src cell is first written
// to. It returns the seeded value and its merged basis, and reports false,
// without seeding, when any input is a remote cell whose initial value isn't
// known yet.
func seedInitial(dc *drv.Cell, evaluator eval.Evaluator, expr eval.Expr, freeVars []string, inputAddrs map[string]reactive.Address, initialValues map[string]eval.Expr, initialBases map[string]basis.Stamp) (eval.Expr, basis.Stamp, bool) {
	env := make(eval.Env, len(freeVars))
	merged := basis.Empty()
	for _, fv := range freeVars {
		v, ok := initialValues[fv]
		if !ok {
			return nil, nil, false
		}
		env[fv] = v
		merged = basis.Merge(merged, initialBases[fv])
	}

	value, err := evaluator.Eval(expr, env)
	if err != nil {
		return nil, nil, false
	}

	for _, fv := range freeVars {
		dc.Inbox() <- message.PropChange{
			From:  inputAddrs[fv],
			Value: env[fv],
			Basis: initialBases[fv],
		}
	}
	return value, merged, true
}

// topoSort orders decl's cells so each Drv cell is loaded only after every
// local cell it depends on, and reports a cycle as an error instead of
// deadlocking at runtime.
func topoSort(decl ServiceDecl) ([]string, error) {
	byName := make(map[string]CellDecl, len(decl.Cells))
	for _, cd := range decl.Cells {
		byName[cd.Name] = cd
	}

	deps := make(map[string][]string, len(decl.Cells))
	for _, cd := range decl.Cells {
		if cd.Kind != DrvCell {
			continue
		}
		var local []string
		for _, fv := range cd.Expr.FreeVars() {
			if _, ok := byName[fv]; ok {
				local = append(local, fv)
			}
		}
		deps[cd.Name] = local
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(decl.Cells))
	var order []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("program: cycle detected at cell %q", name)
		}
		color[name] = gray
		for _, dep := range deps[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		order = append(order, name)
		return nil
	}

	for _, cd := range decl.Cells {
		if err := visit(cd.Name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
