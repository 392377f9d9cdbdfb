package vm

import (
	"strings"
	"testing"
)

func TestLexBasicTokens(t *testing.T) {
	toks, err := lex(`function add(a, b) { return a + b }`)
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	var kinds []tokenKind
	for _, tok := range toks {
		kinds = append(kinds, tok.kind)
	}
	if kinds[len(kinds)-1] != tokEOF {
		t.Fatalf("expected the token stream to end in EOF, got %v", kinds[len(kinds)-1])
	}
}

func TestLexSkipsComments(t *testing.T) {
	toks, err := lex("# a comment\nfunction f() { return 1 }")
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	for _, tok := range toks {
		if strings.Contains(tok.text, "comment") {
			t.Fatalf("comment text leaked into token stream: %q", tok.text)
		}
	}
}

func TestLexStringLiteral(t *testing.T) {
	toks, err := lex(`"hello world"`)
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	if toks[0].kind != tokString || toks[0].text != "hello world" {
		t.Fatalf("expected a string token \"hello world\", got %+v", toks[0])
	}
}

func TestParseSimpleFunction(t *testing.T) {
	prog, err := Parse(`function add(a, b) { return a + b }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fn, ok := prog.Functions["add"]
	if !ok {
		t.Fatalf("expected function %q to be parsed", "add")
	}
	if len(fn.Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(fn.Params))
	}
}

func TestParseRejectsNonStateFieldAccess(t *testing.T) {
	_, err := Parse(`function f() { x = 1 y = x.field }`)
	if err == nil {
		t.Fatalf("expected an error for field access on a non-state identifier")
	}
}

func TestInterpreterCallAddition(t *testing.T) {
	prog, err := Parse(`function add(a, b) { return a + b }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	in := &Interpreter{}
	result, err := in.Call(prog, "add", []interface{}{2.0, 3.0}, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != 5.0 {
		t.Fatalf("expected 5, got %v", result)
	}
}

func TestInterpreterStateMutation(t *testing.T) {
	prog, err := Parse(`function deposit(amount) { state.balance = state.balance + amount }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	in := &Interpreter{}
	state := map[string]interface{}{"balance": 10.0}
	if _, err := in.Call(prog, "deposit", []interface{}{5.0}, state); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if state["balance"] != 15.0 {
		t.Fatalf("expected state.balance = 15, got %v", state["balance"])
	}
}

func TestInterpreterWhileLoopTerminates(t *testing.T) {
	prog, err := Parse(`function count(n) { i = 0 while (i < n) { i = i + 1 } return i }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	in := &Interpreter{}
	result, err := in.Call(prog, "count", []interface{}{10.0}, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != 10.0 {
		t.Fatalf("expected 10, got %v", result)
	}
}

func TestInterpreterStepBudgetBoundsInfiniteLoop(t *testing.T) {
	prog, err := Parse(`function spin() { while (true) { } }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	in := &Interpreter{}
	_, err = in.Call(prog, "spin", nil, map[string]interface{}{})
	if err == nil {
		t.Fatalf("expected the step budget to abort an infinite loop")
	}
}

func TestInterpreterBuiltins(t *testing.T) {
	prog, err := Parse(`function test() { return max(min(5, 2), abs(-1)) }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	in := &Interpreter{}
	result, err := in.Call(prog, "test", nil, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != 2.0 {
		t.Fatalf("expected max(min(5,2), abs(-1)) = 2, got %v", result)
	}
}

func TestInterpreterCallUndefinedFunctionFails(t *testing.T) {
	prog, err := Parse(`function test() { return 1 }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	in := &Interpreter{}
	if _, err := in.Call(prog, "missing", nil, map[string]interface{}{}); err == nil {
		t.Fatalf("expected an error calling an undefined function")
	}
}

func TestInterpreterCallUnsafeBuiltinFails(t *testing.T) {
	prog, err := Parse(`function test() { return exec("rm -rf") }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	in := &Interpreter{}
	if _, err := in.Call(prog, "test", nil, map[string]interface{}{}); err == nil {
		t.Fatalf("expected a call to an unknown builtin to fail closed")
	}
}
