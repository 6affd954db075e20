package model

import "fmt"

// ArgKind discriminates the typed operand entries of an instruction.
type ArgKind string

const (
	KindStringIndex ArgKind = "string_index"
	KindDword       ArgKind = "dword"
	KindSignedDword ArgKind = "signed_dword"
	KindDouble      ArgKind = "double"
	KindBoolean     ArgKind = "boolean"
	KindAddress     ArgKind = "address"
	KindArgc        ArgKind = "argc"
	KindLength      ArgKind = "length"
	KindHasValue    ArgKind = "has_value"
	KindHasFlags    ArgKind = "has_flags"
	KindScope       ArgKind = "scope"
	KindDest        ArgKind = "dest"
	KindPrefix      ArgKind = "prefix"
	KindIsOp        ArgKind = "is_op"
	KindAssignOp    ArgKind = "assign_op"
	KindCatchAddr   ArgKind = "catch_addr"
	KindFinallyAddr ArgKind = "finally_addr"
	KindVarSlot     ArgKind = "var_slot"
)

// Arg is one typed operand. Value holds an int for every kind except
// KindDouble (float64) and KindAssignOp (string, the embedded compound
// operator's canonical name).
type Arg struct {
	Kind  ArgKind
	Value any
}

func (a Arg) Int() int {
	switch v := a.Value.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case uint32:
		return int(v)
	}
	return 0
}

func (a Arg) Float() float64 {
	f, _ := a.Value.(float64)
	return f
}

func (a Arg) Str() string {
	s, _ := a.Value.(string)
	return s
}

// Instruction is one decoded bytecode instruction. Immutable after
// disassembly.
type Instruction struct {
	Addr   int
	Opcode int
	OpName string
	Args   []Arg

	// StringValue is resolved for string-table operands when a table is
	// available.
	StringValue string
	// FnBody holds the raw nested payload of a BUILD_FUNCTION.
	FnBody []byte
	// Error records an operand underrun or similar local decode failure.
	Error string
}

// Arg returns the first operand of the given kind.
func (i *Instruction) Arg(kind ArgKind) (Arg, bool) {
	for _, a := range i.Args {
		if a.Kind == kind {
			return a, true
		}
	}
	return Arg{}, false
}

func (i *Instruction) ArgInt(kind ArgKind) int {
	a, _ := i.Arg(kind)
	return a.Int()
}

func (i *Instruction) String() string {
	return fmt.Sprintf("%04d %s", i.Addr, i.OpName)
}

// IsJump reports whether the instruction is any control transfer.
func (i *Instruction) IsJump() bool {
	switch i.OpName {
	case OpJump, OpJumpIfTrue, OpJumpIfFalse:
		return true
	}
	return false
}

func (i *Instruction) IsConditionalJump() bool {
	return i.OpName == OpJumpIfTrue || i.OpName == OpJumpIfFalse
}

// JumpTarget returns the target address of a jump instruction.
func (i *Instruction) JumpTarget() int {
	a, _ := i.Arg(KindAddress)
	return a.Int()
}

// OperandSchema returns the ordered operand kinds for a canonical opcode
// name, parameterized by the payload version for the handful of
// instructions whose layout changed between V1 and V2. BUILD_FUNCTION and
// the compound tail of ASSIGN_VARIABLE are handled specially by the
// disassembler and do not appear here.
func OperandSchema(name string, v Version) []ArgKind {
	switch name {
	case OpPushString:
		return []ArgKind{KindStringIndex}
	case OpPushInt32:
		return []ArgKind{KindSignedDword}
	case OpPushDouble:
		return []ArgKind{KindDouble}
	case OpPushBoolean:
		return []ArgKind{KindBoolean}
	case OpIncrementVariable, OpDecrementVariable:
		return []ArgKind{KindPrefix, KindScope, KindVarSlot}
	case OpIncrementProperty, OpDecrementProperty:
		return []ArgKind{KindPrefix, KindStringIndex}
	case OpIncrementElement, OpDecrementElement:
		return []ArgKind{KindPrefix}
	case OpLoadVariable, OpStoreVariable:
		return []ArgKind{KindScope, KindVarSlot}
	case OpAssignVariable:
		return []ArgKind{KindIsOp, KindScope, KindDest}
	case OpLoadGlobalProperty:
		return []ArgKind{KindStringIndex}
	case OpLoadArgument:
		return []ArgKind{KindDword}
	case OpCallFunction, OpCallMethod, OpConstruct:
		return []ArgKind{KindArgc}
	case OpBuildArray, OpBuildObject:
		return []ArgKind{KindLength}
	case OpBuildRegexp:
		if v == V1Legacy {
			return []ArgKind{KindStringIndex, KindStringIndex}
		}
		return []ArgKind{KindHasFlags}
	case OpJump, OpJumpIfTrue, OpJumpIfFalse:
		return []ArgKind{KindAddress}
	case OpReturn:
		return []ArgKind{KindHasValue}
	case OpTryPush:
		if v == V1Legacy {
			return []ArgKind{KindCatchAddr, KindFinallyAddr}
		}
		return []ArgKind{KindCatchAddr}
	case OpTryCatch:
		return []ArgKind{KindScope, KindVarSlot}
	}
	return nil
}

// Width returns the encoded byte width of an operand kind.
func (k ArgKind) Width() int {
	switch k {
	case KindBoolean, KindArgc, KindHasValue, KindHasFlags, KindPrefix, KindIsOp:
		return 1
	case KindDouble:
		return 8
	default:
		return 4
	}
}

// CanonicalNames lists every canonical opcode name once.
func CanonicalNames() []string {
	return []string{
		OpPushString, OpPushInt32, OpPushDouble, OpPushBoolean,
		OpPushNull, OpPushUndefined, OpPushDuplicate, OpPop,
		OpAdd, OpSubtract, OpMultiply, OpDivide, OpModulo,
		OpLessThan, OpLessThanEqual, OpGreaterThan, OpGreaterThanEqual,
		OpEqual, OpStrictEqual, OpNotEqual, OpStrictNotEqual,
		OpShiftLeft, OpShiftRight, OpShiftRightUnsigned,
		OpBitwiseXor, OpBitwiseAnd, OpBitwiseOr,
		OpIn, OpInstanceof,
		OpUnaryPlus, OpUnaryMinus, OpUnaryNot, OpUnaryBitwiseNot,
		OpTypeof, OpVoid, OpUnaryThrow,
		OpIncrementVariable, OpDecrementVariable,
		OpIncrementProperty, OpDecrementProperty,
		OpIncrementElement, OpDecrementElement,
		OpLoadVariable, OpStoreVariable, OpAssignVariable,
		OpLoadGlobal, OpLoadGlobalProperty, OpLoadThis,
		OpLoadArgument, OpLoadArguments,
		OpCallFunction, OpCallMethod, OpConstruct,
		OpGetProperty, OpSetProperty,
		OpBuildArray, OpBuildObject, OpBuildFunction, OpBuildRegexp,
		OpJump, OpJumpIfTrue, OpJumpIfFalse,
		OpReturn, OpDebugger,
		OpTryPush, OpTryPop, OpTryCatch, OpTryFinally,
		OpSequencePop,
	}
}
