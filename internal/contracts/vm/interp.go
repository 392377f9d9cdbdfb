package vm

import (
	"fmt"
)

// MaxSteps bounds the total number of statements/expressions a single call
// may execute, so a contract's while loop cannot hang the node — the
// deterministic-termination guarantee a sandboxed VM must provide in place
// of a denylist.
const MaxSteps = 100000

// safeBuiltins is the closed set of functions contract code may call.
// There is no path from a contract to a Go function outside this set:
// unlike a denylist over host-language syntax, the grammar has no call
// form that can reach anything else.
var safeBuiltins = map[string]func(args []interface{}) (interface{}, error){
	"abs":   biAbs,
	"min":   biMin,
	"max":   biMax,
	"round": biRound,
	"len":   biLen,
}

// Interpreter executes Program functions against a mutable state map.
type Interpreter struct {
	steps int
}

type returnSignal struct{ value interface{} }

func (returnSignal) Error() string { return "return" }

// Call runs the named function with args against state and returns the
// function's result. state is
// consumed and mutated in place; callers should pass a fresh copy if the
// original must be preserved.
func (in *Interpreter) Call(prog *Program, name string, args []interface{}, state map[string]interface{}) (result interface{}, err error) {
	fn, ok := prog.Functions[name]
	if !ok {
		return nil, fmt.Errorf("function %q not found", name)
	}
	if len(args) != len(fn.Params) {
		return nil, fmt.Errorf("function %q expects %d args, got %d", name, len(fn.Params), len(args))
	}

	in.steps = 0
	scope := map[string]interface{}{}
	for i, p := range fn.Params {
		scope[p] = args[i]
	}

	err = in.execBlock(fn.Body, scope, state)
	if rs, ok := err.(returnSignal); ok {
		return rs.value, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

func (in *Interpreter) execBlock(stmts []Stmt, scope, state map[string]interface{}) error {
	for _, s := range stmts {
		if err := in.execStmt(s, scope, state); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) tick() error {
	in.steps++
	if in.steps > MaxSteps {
		return fmt.Errorf("step budget exceeded (max %d)", MaxSteps)
	}
	return nil
}

func (in *Interpreter) execStmt(s Stmt, scope, state map[string]interface{}) error {
	if err := in.tick(); err != nil {
		return err
	}
	switch st := s.(type) {
	case AssignStmt:
		val, err := in.eval(st.Value, scope, state)
		if err != nil {
			return err
		}
		switch target := st.Target.(type) {
		case Ident:
			scope[target.Name] = val
		case StateAccess:
			state[target.Field] = val
		default:
			return fmt.Errorf("invalid assignment target")
		}
		return nil
	case IfStmt:
		cond, err := in.eval(st.Cond, scope, state)
		if err != nil {
			return err
		}
		if truthy(cond) {
			return in.execBlock(st.Then, scope, state)
		}
		return in.execBlock(st.Else, scope, state)
	case WhileStmt:
		for {
			if err := in.tick(); err != nil {
				return err
			}
			cond, err := in.eval(st.Cond, scope, state)
			if err != nil {
				return err
			}
			if !truthy(cond) {
				return nil
			}
			if err := in.execBlock(st.Body, scope, state); err != nil {
				return err
			}
		}
	case ReturnStmt:
		var val interface{}
		if st.Value != nil {
			v, err := in.eval(st.Value, scope, state)
			if err != nil {
				return err
			}
			val = v
		}
		return returnSignal{value: val}
	case ExprStmt:
		_, err := in.eval(st.Value, scope, state)
		return err
	default:
		return fmt.Errorf("unknown statement type %T", s)
	}
}

func (in *Interpreter) eval(e Expr, scope, state map[string]interface{}) (interface{}, error) {
	if err := in.tick(); err != nil {
		return nil, err
	}
	switch ex := e.(type) {
	case NumberLit:
		return ex.Value, nil
	case StringLit:
		return ex.Value, nil
	case BoolLit:
		return ex.Value, nil
	case Ident:
		v, ok := scope[ex.Name]
		if !ok {
			return nil, fmt.Errorf("undefined variable %q", ex.Name)
		}
		return v, nil
	case StateAccess:
		v, ok := state[ex.Field]
		if !ok {
			return nil, nil
		}
		return v, nil
	case UnaryExpr:
		v, err := in.eval(ex.Operand, scope, state)
		if err != nil {
			return nil, err
		}
		switch ex.Op {
		case "-":
			f, err := asNumber(v)
			if err != nil {
				return nil, err
			}
			return -f, nil
		case "!":
			return !truthy(v), nil
		}
		return nil, fmt.Errorf("unknown unary operator %q", ex.Op)
	case BinaryExpr:
		return in.evalBinary(ex, scope, state)
	case CallExpr:
		fn, ok := safeBuiltins[ex.Name]
		if !ok {
			return nil, fmt.Errorf("call to undefined or unsafe function %q", ex.Name)
		}
		args := make([]interface{}, len(ex.Args))
		for i, a := range ex.Args {
			v, err := in.eval(a, scope, state)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return fn(args)
	default:
		return nil, fmt.Errorf("unknown expression type %T", e)
	}
}

func (in *Interpreter) evalBinary(ex BinaryExpr, scope, state map[string]interface{}) (interface{}, error) {
	left, err := in.eval(ex.Left, scope, state)
	if err != nil {
		return nil, err
	}
	right, err := in.eval(ex.Right, scope, state)
	if err != nil {
		return nil, err
	}

	switch ex.Op {
	case "==":
		return equalValues(left, right), nil
	case "!=":
		return !equalValues(left, right), nil
	}

	// String concatenation via '+' when either operand is a string.
	if ex.Op == "+" {
		if ls, ok := left.(string); ok {
			return ls + fmt.Sprint(right), nil
		}
		if rs, ok := right.(string); ok {
			return fmt.Sprint(left) + rs, nil
		}
	}

	lf, err := asNumber(left)
	if err != nil {
		return nil, err
	}
	rf, err := asNumber(right)
	if err != nil {
		return nil, err
	}
	switch ex.Op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return float64(int64(lf) % int64(rf)), nil
	case "<":
		return lf < rf, nil
	case ">":
		return lf > rf, nil
	case "<=":
		return lf <= rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return nil, fmt.Errorf("unknown binary operator %q", ex.Op)
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}

func equalValues(a, b interface{}) bool {
	af, aerr := asNumber(a)
	bf, berr := asNumber(b)
	if aerr == nil && berr == nil {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func asNumber(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func biAbs(args []interface{}) (interface{}, error) {
	f, err := asNumber(arg(args, 0))
	if err != nil {
		return nil, err
	}
	if f < 0 {
		return -f, nil
	}
	return f, nil
}

func biMin(args []interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("min requires at least one argument")
	}
	m, err := asNumber(args[0])
	if err != nil {
		return nil, err
	}
	for _, a := range args[1:] {
		f, err := asNumber(a)
		if err != nil {
			return nil, err
		}
		if f < m {
			m = f
		}
	}
	return m, nil
}

func biMax(args []interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("max requires at least one argument")
	}
	m, err := asNumber(args[0])
	if err != nil {
		return nil, err
	}
	for _, a := range args[1:] {
		f, err := asNumber(a)
		if err != nil {
			return nil, err
		}
		if f > m {
			m = f
		}
	}
	return m, nil
}

func biRound(args []interface{}) (interface{}, error) {
	f, err := asNumber(arg(args, 0))
	if err != nil {
		return nil, err
	}
	if f >= 0 {
		return float64(int64(f + 0.5)), nil
	}
	return float64(int64(f - 0.5)), nil
}

func biLen(args []interface{}) (interface{}, error) {
	if s, ok := arg(args, 0).(string); ok {
		return float64(len(s)), nil
	}
	return nil, fmt.Errorf("len only supports strings")
}

func arg(args []interface{}, i int) interface{} {
	if i >= len(args) {
		return nil
	}
	return args[i]
}
