package eval

import (
	"encoding/json"
	"fmt"
)

// Lit is a literal normal-form value: an int64, float64, bool or string.
// Arith reduces every expression to a Lit.
type Lit struct {
	V any
}

func (Lit) FreeVars() []string { return nil }

// wireLit is Lit's JSON form: a discriminator keeps int64 distinct from
// float64 (encoding/json would otherwise decode every bare number as
// float64), which matters since the arithmetic operators branch on it.
// Only Lit values ever cross a remote-cell boundary (internal/reactive/remote)
// — expressions themselves never do, per §9 "Remote cells".
type wireLit struct {
	Kind string `json:"kind"`
	V    any    `json:"v"`
}

func (l Lit) MarshalJSON() ([]byte, error) {
	var kind string
	switch l.V.(type) {
	case int64:
		kind = "int"
	case float64:
		kind = "float"
	case bool:
		kind = "bool"
	case string:
		kind = "string"
	default:
		return nil, fmt.Errorf("eval: Lit holds unsupported wire type %T", l.V)
	}
	return json.Marshal(wireLit{Kind: kind, V: l.V})
}

func (l *Lit) UnmarshalJSON(data []byte) error {
	var w wireLit
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case "int":
		n, ok := w.V.(float64)
		if !ok {
			return fmt.Errorf("eval: Lit int payload is not a number")
		}
		l.V = int64(n)
	case "float":
		n, ok := w.V.(float64)
		if !ok {
			return fmt.Errorf("eval: Lit float payload is not a number")
		}
		l.V = n
	case "bool", "string":
		l.V = w.V
	default:
		return fmt.Errorf("eval: Lit has unknown wire kind %q", w.Kind)
	}
	return nil
}

// Int, Float, Bool and Str are convenience constructors for Lit values.
func Int(v int64) Lit   { return Lit{V: v} }
func Float(v float64) Lit { return Lit{V: v} }
func Bool(v bool) Lit    { return Lit{V: v} }
func Str(v string) Lit   { return Lit{V: v} }

// Var is a free-variable reference, substituted from Env at eval time.
type Var struct {
	Name string
}

func (v Var) FreeVars() []string { return []string{v.Name} }

// BinOp is a binary arithmetic or comparison operator applied to two
// sub-expressions.
type BinOp struct {
	Op    string // "+", "-", "*", "/", "==", "<", ">", "<=", ">="
	Left  Expr
	Right Expr
}

func (b BinOp) FreeVars() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range append(append([]string{}, b.Left.FreeVars()...), b.Right.FreeVars()...) {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// Arith is the reference Evaluator: integers, floats, bools, strings, the
// four arithmetic operators and the five comparisons. program.Load takes
// its evaluator as a required argument; cmd's ProvideEvaluator supplies
// Arith, so the engine in §4 is exercisable without a real parser/evaluator
// front end.
type Arith struct{}

func (Arith) Eval(expr Expr, env Env) (Expr, error) {
	switch e := expr.(type) {
	case Lit:
		return e, nil
	case Var:
		v, ok := env[e.Name]
		if !ok {
			return nil, &EvalError{Kind: UnboundVariable, Expr: e.Name}
		}
		return Arith{}.Eval(v, env)
	case BinOp:
		return evalBinOp(e, env)
	default:
		return nil, &EvalError{Kind: TypeMismatch, Expr: fmt.Sprintf("%T", expr)}
	}
}

func evalBinOp(b BinOp, env Env) (Expr, error) {
	l, err := (Arith{}).Eval(b.Left, env)
	if err != nil {
		return nil, err
	}
	r, err := (Arith{}).Eval(b.Right, env)
	if err != nil {
		return nil, err
	}
	lv, ok1 := l.(Lit)
	rv, ok2 := r.(Lit)
	if !ok1 || !ok2 {
		return nil, &EvalError{Kind: TypeMismatch, Expr: b.Op}
	}

	switch b.Op {
	case "==", "<", ">", "<=", ">=":
		return compare(b.Op, lv, rv)
	default:
		return arith(b.Op, lv, rv)
	}
}

func asFloat(l Lit) (float64, bool) {
	switch v := l.V.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func arith(op string, l, r Lit) (Expr, error) {
	li, lIsInt := l.V.(int64)
	ri, rIsInt := r.V.(int64)
	if lIsInt && rIsInt {
		switch op {
		case "+":
			return Int(li + ri), nil
		case "-":
			return Int(li - ri), nil
		case "*":
			return Int(li * ri), nil
		case "/":
			if ri == 0 {
				return nil, &EvalError{Kind: DivisionByZero, Expr: op}
			}
			return Int(li / ri), nil
		}
	}

	lf, ok1 := asFloat(l)
	rf, ok2 := asFloat(r)
	if !ok1 || !ok2 {
		return nil, &EvalError{Kind: TypeMismatch, Expr: op}
	}
	switch op {
	case "+":
		return Float(lf + rf), nil
	case "-":
		return Float(lf - rf), nil
	case "*":
		return Float(lf * rf), nil
	case "/":
		if rf == 0 {
			return nil, &EvalError{Kind: DivisionByZero, Expr: op}
		}
		return Float(lf / rf), nil
	default:
		return nil, &EvalError{Kind: TypeMismatch, Expr: op}
	}
}

func compare(op string, l, r Lit) (Expr, error) {
	lf, ok1 := asFloat(l)
	rf, ok2 := asFloat(r)
	if ok1 && ok2 {
		switch op {
		case "==":
			return Bool(lf == rf), nil
		case "<":
			return Bool(lf < rf), nil
		case ">":
			return Bool(lf > rf), nil
		case "<=":
			return Bool(lf <= rf), nil
		case ">=":
			return Bool(lf >= rf), nil
		}
	}
	if op == "==" {
		return Bool(l.V == r.V), nil
	}
	return nil, &EvalError{Kind: TypeMismatch, Expr: op}
}
