package fingerprint

import (
	"github.com/User319183/NebulaVM-Deobfuscator/internal/model"
)

// binaryByOperator is checked in order: multi-character operators first so
// a handler carrying `<=` never matches `<`.
var binaryByOperator = []struct {
	op   string
	name string
}{
	{"instanceof", model.OpInstanceof},
	{"in", model.OpIn},
	{"===", model.OpStrictEqual},
	{"!==", model.OpStrictNotEqual},
	{"==", model.OpEqual},
	{"!=", model.OpNotEqual},
	{"<=", model.OpLessThanEqual},
	{">=", model.OpGreaterThanEqual},
	{"<<", model.OpShiftLeft},
	{">>>", model.OpShiftRightUnsigned},
	{">>", model.OpShiftRight},
	{"<", model.OpLessThan},
	{">", model.OpGreaterThan},
	{"+", model.OpAdd},
	{"-", model.OpSubtract},
	{"*", model.OpMultiply},
	{"/", model.OpDivide},
	{"%", model.OpModulo},
	{"^", model.OpBitwiseXor},
	{"&", model.OpBitwiseAnd},
	{"|", model.OpBitwiseOr},
}

// classify maps a feature vector to a canonical opcode name, or "" when
// the handler matches no rule. The cascade runs lexical-specificity
// first: string-table reads, literal pushes, and builder signatures
// before the generic arithmetic/comparison fallthrough.
func classify(f *features) string {
	switch {
	case f.hasDebugger:
		return model.OpDebugger

	case f.readsString && f.usesGlobal:
		return model.OpLoadGlobalProperty
	case f.readsString && f.hasUpdate:
		if f.updateOp == "--" {
			return model.OpDecrementProperty
		}
		return model.OpIncrementProperty
	case f.usesRegExp:
		return model.OpBuildRegexp
	case f.readsString && f.pushCalls == 1 && f.popCalls == 0 && !f.hasFnLit:
		return model.OpPushString

	case f.hasFloat64 || f.readDblCalls > 0:
		return model.OpPushDouble
	case f.readByteCalls > 0 && f.eqOne && !f.usesScopes && f.popCalls == 0 && f.pushCalls == 1:
		return model.OpPushBoolean
	case f.readByteCalls > 0 && f.eqOne && !f.usesScopes && f.pushCalls == 0:
		return model.OpReturn

	case f.hasUpdate && f.usesScopes:
		if f.updateOp == "--" {
			return model.OpDecrementVariable
		}
		return model.OpIncrementVariable
	case f.hasUpdate:
		if f.updateOp == "--" {
			return model.OpDecrementElement
		}
		return model.OpIncrementElement

	case f.hasThrow:
		return model.OpUnaryThrow
	case f.hasFnLit || f.arrayFrom || f.hasTryFinally:
		return model.OpBuildFunction
	case f.usesNew:
		return model.OpConstruct
	case f.usesApply && f.computedMember > 0:
		return model.OpCallMethod
	case f.usesApply:
		return model.OpCallFunction

	case f.usesThisRef:
		return model.OpLoadThis
	case f.usesArguments && f.readDwordCalls > 0:
		return model.OpLoadArgument
	case f.usesArguments:
		return model.OpLoadArguments
	case f.usesGlobal:
		return model.OpLoadGlobal

	case f.usesScopes && f.hasAssign && f.readByteCalls > 0:
		return model.OpAssignVariable
	case f.usesScopes && f.hasAssign && f.popCalls == 0:
		return model.OpTryCatch
	case f.usesScopes && f.hasAssign:
		return model.OpStoreVariable
	case f.usesScopes:
		return model.OpLoadVariable

	case f.memberPush && f.hasArrayLit && f.readDwordCalls > 0 && f.pushCalls == 0:
		return model.OpTryPush
	case f.memberPop && f.popCalls == 0 && f.pushCalls == 0:
		return model.OpTryPop
	case f.hasObjectLit && f.hasLoop:
		return model.OpBuildObject
	case f.hasArrayLit && f.hasLoop:
		return model.OpBuildArray

	case f.readDwordCalls > 0 && f.hasIf && f.popCalls == 1:
		if f.ops["!"] {
			return model.OpJumpIfFalse
		}
		return model.OpJumpIfTrue
	case f.readDwordCalls > 0 && f.hasAssign && f.popCalls == 0 && f.pushCalls == 0:
		return model.OpJump
	case f.readDwordCalls > 0 && f.pushCalls == 1 && f.popCalls == 0:
		return model.OpPushInt32

	case f.pushesNull && f.pushCalls == 1 && f.popCalls == 0:
		return model.OpPushNull
	case f.ops["void"] && f.popCalls == 0 && f.pushCalls == 1:
		return model.OpPushUndefined
	case f.popCalls == 1 && f.pushCalls == 2:
		return model.OpPushDuplicate

	case f.popCalls == 3 && f.hasAssign && f.computedMember > 0:
		return model.OpSetProperty
	case f.popCalls == 2 && f.pushCalls == 1 && f.computedMember > 0 && len(f.ops) == 0:
		return model.OpGetProperty
	case f.popCalls == 2 && f.pushCalls == 1 && len(f.ops) == 0:
		return model.OpSequencePop

	case f.popCalls == 1 && f.pushCalls == 0 && f.stmts == 1:
		return model.OpPop

	case f.popCalls == 1 && f.pushCalls == 1:
		return classifyUnary(f)
	case f.popCalls == 2 && f.pushCalls == 1:
		return classifyBinary(f)

	case f.hasAssign && f.stmts == 1 && f.popCalls == 0 && f.pushCalls == 0 &&
		f.readByteCalls == 0 && f.readDwordCalls == 0:
		return model.OpTryFinally
	}

	return ""
}

func classifyUnary(f *features) string {
	switch {
	case f.ops["typeof"]:
		return model.OpTypeof
	case f.ops["void"]:
		return model.OpVoid
	case f.ops["!"]:
		return model.OpUnaryNot
	case f.ops["~"]:
		return model.OpUnaryBitwiseNot
	case f.ops["-"]:
		return model.OpUnaryMinus
	case f.ops["+"]:
		return model.OpUnaryPlus
	}
	return ""
}

func classifyBinary(f *features) string {
	for _, entry := range binaryByOperator {
		if f.ops[entry.op] {
			return entry.name
		}
	}
	return ""
}
