package lift

import (
	"strings"
	"testing"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/model"
	"github.com/User319183/NebulaVM-Deobfuscator/internal/testutil"
)

func liftStream(t *testing.T, version model.Version, strs []string, swapped model.OpcodeSet, ins []testutil.Ins) string {
	t.Helper()
	if swapped == nil {
		swapped = make(model.OpcodeSet)
	}
	src, err := LiftProgram(testutil.Assemble(version, ins), Options{
		OpcodeMap: testutil.OpcodeMap(),
		Strings:   strs,
		Version:   version,
		Swapped:   swapped,
	})
	if err != nil {
		t.Fatalf("lift failed: %v", err)
	}
	return src
}

func TestArithmeticRoundTrip(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpPushInt32, Args: []any{2}},
		{Name: model.OpPushInt32, Args: []any{3}},
		{Name: model.OpAdd},
		{Name: model.OpReturn, Args: []any{true}},
	})
	if src != "return (2 + 3);" {
		t.Fatalf("got %q", src)
	}
}

func TestSwappedSubtraction(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, testutil.Swapped(model.OpSubtract), []testutil.Ins{
		{Name: model.OpPushInt32, Args: []any{10}},
		{Name: model.OpPushInt32, Args: []any{3}},
		{Name: model.OpSubtract},
		{Name: model.OpReturn, Args: []any{true}},
	})
	// Swapped handlers emit second-pop OP first-pop.
	if src != "return (3 - 10);" {
		t.Fatalf("got %q", src)
	}
}

func TestBinaryOperandOrderCanonical(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpPushInt32, Args: []any{10}},
		{Name: model.OpPushInt32, Args: []any{3}},
		{Name: model.OpSubtract},
		{Name: model.OpReturn, Args: []any{true}},
	})
	if src != "return (10 - 3);" {
		t.Fatalf("got %q", src)
	}
}

func TestIfElse(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpPushBoolean, Args: []any{true}},
		{Name: model.OpJumpIfFalse, Args: []any{"else"}},
		{Name: model.OpPushInt32, Args: []any{1}},
		{Name: model.OpStoreVariable, Args: []any{0, 0}},
		{Name: model.OpJump, Args: []any{"end"}},
		{Label: "else", Name: model.OpPushInt32, Args: []any{2}},
		{Name: model.OpStoreVariable, Args: []any{0, 0}},
		{Label: "end", Name: model.OpReturn, Args: []any{false}},
	})

	expected := strings.Join([]string{
		"if (true) {",
		"  var var_0 = 1;",
		"} else {",
		"  var var_0 = 2;",
		"}",
		"return;",
	}, "\n")
	if src != expected {
		t.Fatalf("got:\n%s\nwant:\n%s", src, expected)
	}
}

func TestIfWithoutElse(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpPushBoolean, Args: []any{true}},
		{Name: model.OpJumpIfFalse, Args: []any{"end"}},
		{Name: model.OpPushInt32, Args: []any{1}},
		{Name: model.OpStoreVariable, Args: []any{0, 0}},
		{Label: "end", Name: model.OpReturn, Args: []any{false}},
	})

	expected := strings.Join([]string{
		"if (true) {",
		"  var var_0 = 1;",
		"}",
		"return;",
	}, "\n")
	if src != expected {
		t.Fatalf("got:\n%s\nwant:\n%s", src, expected)
	}
}

func TestTernary(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpPushBoolean, Args: []any{true}},
		{Name: model.OpJumpIfFalse, Args: []any{"else"}},
		{Name: model.OpPushInt32, Args: []any{1}},
		{Name: model.OpJump, Args: []any{"end"}},
		{Label: "else", Name: model.OpPushInt32, Args: []any{2}},
		{Label: "end", Name: model.OpReturn, Args: []any{true}},
	})
	if src != "return (true ? 1 : 2);" {
		t.Fatalf("got %q", src)
	}
}

func TestV2PreTestLoop(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Label: "cond", Name: model.OpLoadVariable, Args: []any{0, 0}},
		{Name: model.OpPushInt32, Args: []any{10}},
		{Name: model.OpLessThan},
		{Name: model.OpJumpIfFalse, Args: []any{"exit"}},
		{Name: model.OpLoadVariable, Args: []any{0, 0}},
		{Name: model.OpPushInt32, Args: []any{1}},
		{Name: model.OpAdd},
		{Name: model.OpAssignVariable, Args: []any{0, 0, 0}},
		{Name: model.OpPop},
		{Name: model.OpJump, Args: []any{"cond"}},
		{Label: "exit", Name: model.OpReturn, Args: []any{false}},
	})

	expected := strings.Join([]string{
		"while ((var_0 < 10)) {",
		"  var_0 = (var_0 + 1);",
		"}",
		"return;",
	}, "\n")
	if src != expected {
		t.Fatalf("got:\n%s\nwant:\n%s", src, expected)
	}
}

func TestV1PostTestLoop(t *testing.T) {
	src := liftStream(t, model.V1Legacy, nil, nil, []testutil.Ins{
		{Name: model.OpJump, Args: []any{"cond"}},
		{Label: "body", Name: model.OpLoadVariable, Args: []any{0, 0}},
		{Name: model.OpPushInt32, Args: []any{1}},
		{Name: model.OpAdd},
		{Name: model.OpAssignVariable, Args: []any{0, 0, 0}},
		{Name: model.OpPop},
		{Label: "cond", Name: model.OpLoadVariable, Args: []any{0, 0}},
		{Name: model.OpPushInt32, Args: []any{10}},
		{Name: model.OpLessThan},
		{Name: model.OpJumpIfTrue, Args: []any{"body"}},
		{Name: model.OpReturn, Args: []any{false}},
	})

	expected := strings.Join([]string{
		"while ((var_0 < 10)) {",
		"  var_0 = (var_0 + 1);",
		"}",
		"return;",
	}, "\n")
	if src != expected {
		t.Fatalf("got:\n%s\nwant:\n%s", src, expected)
	}
}

func TestShortCircuitAnd(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpLoadVariable, Args: []any{0, 0}},
		{Name: model.OpPushDuplicate},
		{Name: model.OpJumpIfFalse, Args: []any{"join"}},
		{Name: model.OpPop},
		{Name: model.OpLoadVariable, Args: []any{0, 1}},
		{Label: "join", Name: model.OpReturn, Args: []any{true}},
	})
	if src != "return (var_0 && var_1);" {
		t.Fatalf("got %q", src)
	}
}

func TestShortCircuitOr(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpLoadVariable, Args: []any{0, 0}},
		{Name: model.OpPushDuplicate},
		{Name: model.OpJumpIfTrue, Args: []any{"join"}},
		{Name: model.OpPop},
		{Name: model.OpLoadVariable, Args: []any{0, 1}},
		{Label: "join", Name: model.OpReturn, Args: []any{true}},
	})
	if src != "return (var_0 || var_1);" {
		t.Fatalf("got %q", src)
	}
}

func TestEmptyBytecode(t *testing.T) {
	src, err := LiftProgram(nil, Options{
		OpcodeMap: testutil.OpcodeMap(),
		Version:   model.V2Current,
		Swapped:   make(model.OpcodeSet),
	})
	if err != nil {
		t.Fatalf("lift failed: %v", err)
	}
	if src != "" {
		t.Fatalf("expected empty output, got %q", src)
	}
}

func TestSingleReturn(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpReturn, Args: []any{false}},
	})
	if src != "return;" {
		t.Fatalf("got %q", src)
	}
}

func TestUnusedCallResultBecomesStatement(t *testing.T) {
	src := liftStream(t, model.V2Current, []string{"log", "console"}, nil, []testutil.Ins{
		{Name: model.OpLoadGlobalProperty, Args: []any{1}},
		{Name: model.OpPushString, Args: []any{0}},
		{Name: model.OpGetProperty},
		{Name: model.OpCallFunction, Args: []any{0}},
		{Name: model.OpReturn, Args: []any{false}},
	})
	expected := "console.log();\nreturn;"
	if src != expected {
		t.Fatalf("got %q, want %q", src, expected)
	}
}

// Call arguments are popped in the order the compiler pushed them, which
// is the interpreter's convention: the obfuscator pushes arguments in
// reverse, so pop order reads as source order.
func TestCallArgumentOrder(t *testing.T) {
	src := liftStream(t, model.V2Current, []string{"f"}, nil, []testutil.Ins{
		{Name: model.OpPushInt32, Args: []any{2}},
		{Name: model.OpPushInt32, Args: []any{1}},
		{Name: model.OpLoadGlobalProperty, Args: []any{0}},
		{Name: model.OpCallFunction, Args: []any{2}},
		{Name: model.OpReturn, Args: []any{false}},
	})
	expected := "f(1, 2);\nreturn;"
	if src != expected {
		t.Fatalf("got %q, want %q", src, expected)
	}
}

func TestMethodCallAndPropertyForms(t *testing.T) {
	src := liftStream(t, model.V2Current, []string{"obj", "two words", "trim"}, nil, []testutil.Ins{
		{Name: model.OpLoadGlobalProperty, Args: []any{0}},
		{Name: model.OpPushString, Args: []any{1}},
		{Name: model.OpGetProperty},
		{Name: model.OpPushString, Args: []any{2}},
		{Name: model.OpGetProperty},
		{Name: model.OpReturn, Args: []any{true}},
	})
	if src != `return obj["two words"].trim;` {
		t.Fatalf("got %q", src)
	}
}

func TestDoubleLiteralRoundTrip(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpPushDouble, Args: []any{0.1}},
		{Name: model.OpReturn, Args: []any{true}},
	})
	if src != "return 0.1;" {
		t.Fatalf("got %q", src)
	}

	src = liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpPushDouble, Args: []any{1e21}},
		{Name: model.OpReturn, Args: []any{true}},
	})
	if src != "return 1e+21;" {
		t.Fatalf("got %q", src)
	}
}

func TestBuildArrayAndObject(t *testing.T) {
	src := liftStream(t, model.V2Current, []string{"a"}, nil, []testutil.Ins{
		{Name: model.OpPushInt32, Args: []any{2}},
		{Name: model.OpPushInt32, Args: []any{1}},
		{Name: model.OpBuildArray, Args: []any{2}},
		{Name: model.OpReturn, Args: []any{true}},
	})
	if src != "return [1, 2];" {
		t.Fatalf("got %q", src)
	}

	src = liftStream(t, model.V2Current, []string{"a"}, nil, []testutil.Ins{
		{Name: model.OpPushString, Args: []any{0}},
		{Name: model.OpPushInt32, Args: []any{7}},
		{Name: model.OpBuildObject, Args: []any{1}},
		{Name: model.OpReturn, Args: []any{true}},
	})
	if src != "return {a: 7};" {
		t.Fatalf("got %q", src)
	}
}

func TestNestedFunction(t *testing.T) {
	inner := testutil.Assemble(model.V2Current, []testutil.Ins{
		{Name: model.OpPushInt32, Args: []any{41}},
		{Name: model.OpPushInt32, Args: []any{1}},
		{Name: model.OpAdd},
		{Name: model.OpReturn, Args: []any{true}},
	})
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpBuildFunction, Args: []any{inner}},
		{Name: model.OpStoreVariable, Args: []any{0, 0}},
		{Name: model.OpReturn, Args: []any{false}},
	})

	expected := strings.Join([]string{
		"var var_0 = function () {",
		"  return (41 + 1);",
		"};",
		"return;",
	}, "\n")
	if src != expected {
		t.Fatalf("got:\n%s\nwant:\n%s", src, expected)
	}
}

func TestNestedFunctionVariableNamesDoNotCollide(t *testing.T) {
	inner := testutil.Assemble(model.V2Current, []testutil.Ins{
		{Name: model.OpPushInt32, Args: []any{5}},
		{Name: model.OpStoreVariable, Args: []any{1, 0}},
		{Name: model.OpReturn, Args: []any{false}},
	})
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpPushInt32, Args: []any{1}},
		{Name: model.OpStoreVariable, Args: []any{0, 0}},
		{Name: model.OpBuildFunction, Args: []any{inner}},
		{Name: model.OpStoreVariable, Args: []any{0, 1}},
		{Name: model.OpReturn, Args: []any{false}},
	})

	if !strings.Contains(src, "var var_0 = 1;") {
		t.Fatalf("outer variable missing: %s", src)
	}
	if !strings.Contains(src, "var var_1 = 5;") {
		t.Fatalf("nested body should inherit the name counter: %s", src)
	}
}

func TestCompoundAssign(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpPushInt32, Args: []any{1}},
		{Name: model.OpStoreVariable, Args: []any{0, 0}},
		{Name: model.OpPushInt32, Args: []any{2}},
		{Name: model.OpAssignVariable, Args: []any{1, 0, 0, model.OpAdd}},
		{Name: model.OpPop},
		{Name: model.OpReturn, Args: []any{false}},
	})
	expected := "var var_0 = 1;\nvar_0 += 2;\nreturn;"
	if src != expected {
		t.Fatalf("got %q, want %q", src, expected)
	}
}

func TestTryCatchEmission(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpTryPush, Args: []any{"catch"}},
		{Name: model.OpPushInt32, Args: []any{1}},
		{Name: model.OpStoreVariable, Args: []any{0, 0}},
		{Name: model.OpTryPop},
		{Name: model.OpJump, Args: []any{"after"}},
		{Label: "catch", Name: model.OpTryCatch, Args: []any{0, 1}},
		{Name: model.OpLoadVariable, Args: []any{0, 1}},
		{Name: model.OpUnaryThrow},
		{Name: model.OpJump, Args: []any{"after"}},
		{Label: "after", Name: model.OpReturn, Args: []any{false}},
	})

	expected := strings.Join([]string{
		"try {",
		"  var var_0 = 1;",
		"} catch (var_1) {",
		"  throw var_1;",
		"}",
		"return;",
	}, "\n")
	if src != expected {
		t.Fatalf("got:\n%s\nwant:\n%s", src, expected)
	}
}

func TestTryCatchFinallyEmissionV1(t *testing.T) {
	src := liftStream(t, model.V1Legacy, nil, nil, []testutil.Ins{
		{Name: model.OpTryPush, Args: []any{"catch", "finally"}},
		{Name: model.OpPushInt32, Args: []any{1}},
		{Name: model.OpStoreVariable, Args: []any{0, 0}},
		{Name: model.OpTryPop},
		{Name: model.OpJump, Args: []any{"after"}},
		{Label: "catch", Name: model.OpTryCatch, Args: []any{0, 1}},
		{Name: model.OpPushInt32, Args: []any{2}},
		{Name: model.OpStoreVariable, Args: []any{0, 0}},
		{Name: model.OpJump, Args: []any{"after"}},
		{Label: "finally", Name: model.OpTryFinally},
		{Name: model.OpPushInt32, Args: []any{3}},
		{Name: model.OpStoreVariable, Args: []any{0, 2}},
		{Label: "after", Name: model.OpReturn, Args: []any{false}},
	})

	expected := strings.Join([]string{
		"try {",
		"  var var_0 = 1;",
		"} catch (var_1) {",
		"  var var_0 = 2;",
		"} finally {",
		"  var var_2 = 3;",
		"}",
		"return;",
	}, "\n")
	if src != expected {
		t.Fatalf("got:\n%s\nwant:\n%s", src, expected)
	}
}

func TestUnknownOpcodePlaceholder(t *testing.T) {
	code := append([]byte{250}, testutil.Assemble(model.V2Current, []testutil.Ins{
		{Name: model.OpReturn, Args: []any{false}},
	})...)
	src, err := LiftProgram(code, Options{
		OpcodeMap: testutil.OpcodeMap(),
		Version:   model.V2Current,
		Swapped:   make(model.OpcodeSet),
	})
	if err != nil {
		t.Fatalf("lift failed: %v", err)
	}
	if src != "/* UNKNOWN_250 */\nreturn;" {
		t.Fatalf("got %q", src)
	}
}

func TestStringIndexFallbackWithoutTable(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpPushString, Args: []any{4}},
		{Name: model.OpReturn, Args: []any{true}},
	})
	if src != "return __string_4;" {
		t.Fatalf("got %q", src)
	}
}

func TestCleanupDropsTrivialStatements(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpPushUndefined},
		{Name: model.OpPop},
		{Name: model.OpPushInt32, Args: []any{3}},
		{Name: model.OpPop},
		{Name: model.OpReturn, Args: []any{false}},
	})
	if src != "return;" {
		t.Fatalf("trivial literal statements should be dropped, got %q", src)
	}
}

func TestUpdateOpcodes(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpPushInt32, Args: []any{0}},
		{Name: model.OpStoreVariable, Args: []any{0, 0}},
		{Name: model.OpIncrementVariable, Args: []any{1, 0, 0}},
		{Name: model.OpReturn, Args: []any{false}},
	})
	expected := "var var_0 = 0;\n++var_0;\nreturn;"
	if src != expected {
		t.Fatalf("got %q, want %q", src, expected)
	}

	src = liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpPushInt32, Args: []any{0}},
		{Name: model.OpStoreVariable, Args: []any{0, 0}},
		{Name: model.OpLoadVariable, Args: []any{0, 0}},
		{Name: model.OpDecrementVariable, Args: []any{0, 0, 0}},
		{Name: model.OpReturn, Args: []any{true}},
	})
	expected = "var var_0 = 0;\nreturn var_0--;"
	if src != expected {
		t.Fatalf("got %q, want %q", src, expected)
	}
}

func TestOutOfRangeScopeNormalized(t *testing.T) {
	src := liftStream(t, model.V2Current, nil, nil, []testutil.Ins{
		{Name: model.OpPushInt32, Args: []any{1}},
		{Name: model.OpStoreVariable, Args: []any{5000, 0}},
		{Name: model.OpLoadVariable, Args: []any{0, 0}},
		{Name: model.OpReturn, Args: []any{true}},
	})
	// scope 5000 normalizes to 0, so the load resolves to the same name.
	expected := "var var_0 = 1;\nreturn var_0;"
	if src != expected {
		t.Fatalf("got %q, want %q", src, expected)
	}
}
