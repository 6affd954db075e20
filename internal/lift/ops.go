package lift

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/model"
)

// step processes one instruction outside any region and returns the next
// index. A panicking handler becomes an inline error comment; lifting
// continues with the next instruction.
func (ctx *bodyCtx) step(i int, st *stack) (next int) {
	instr := ctx.instrs[i]
	next = i + 1

	defer func() {
		if r := recover(); r != nil {
			ctx.b.comment(fmt.Sprintf("Error: %v", r))
			ctx.l.warn("lift", fmt.Sprintf("handler for %s: %v", instr.OpName, r), instr.Addr)
		}
	}()

	if strings.HasPrefix(instr.OpName, "UNKNOWN_") {
		ctx.b.comment(instr.OpName)
		ctx.l.warn("lift", "unclassified opcode "+instr.OpName, instr.Addr)
		return
	}

	if op := model.BinaryOperator(instr.OpName); op != "" {
		ctx.stepBinary(instr, op, st)
		return
	}

	switch instr.OpName {
	case model.OpPushString:
		st.push(ctx.stringLiteral(instr))
	case model.OpPushInt32:
		st.push(strconv.Itoa(instr.ArgInt(model.KindSignedDword)))
	case model.OpPushDouble:
		arg, _ := instr.Arg(model.KindDouble)
		st.push(jsNumber(arg.Float()))
	case model.OpPushBoolean:
		if instr.ArgInt(model.KindBoolean) == 1 {
			st.push("true")
		} else {
			st.push("false")
		}
	case model.OpPushNull:
		st.push("null")
	case model.OpPushUndefined:
		st.push("undefined")
	case model.OpPushDuplicate:
		st.push(st.peek("undefined"))
	case model.OpPop:
		expr := st.pop("")
		if expr != "" && !isTrivial(expr) {
			ctx.b.line(expr + ";")
		}
	case model.OpSequencePop:
		top := st.pop("undefined")
		st.pop("")
		st.push(top)

	case model.OpUnaryPlus:
		st.push("(+" + st.pop("0") + ")")
	case model.OpUnaryMinus:
		st.push("(-" + st.pop("0") + ")")
	case model.OpUnaryNot:
		st.push("(!" + st.pop("true") + ")")
	case model.OpUnaryBitwiseNot:
		st.push("(~" + st.pop("0") + ")")
	case model.OpTypeof:
		st.push("(typeof " + st.pop("undefined") + ")")
	case model.OpVoid:
		st.push("(void " + st.pop("0") + ")")
	case model.OpUnaryThrow:
		ctx.b.line("throw " + st.pop("undefined") + ";")

	case model.OpIncrementVariable, model.OpDecrementVariable:
		name := ctx.l.names.name(instr.ArgInt(model.KindScope), instr.ArgInt(model.KindVarSlot))
		ctx.finish(i, st, updateExpr(instr, name))
	case model.OpIncrementProperty, model.OpDecrementProperty:
		obj := st.pop("{}")
		target := propertyAccess(obj, ctx.stringLiteral(instr))
		ctx.finish(i, st, updateExpr(instr, target))
	case model.OpIncrementElement, model.OpDecrementElement:
		key := st.pop("0")
		obj := st.pop("{}")
		ctx.finish(i, st, updateExpr(instr, obj+"["+key+"]"))

	case model.OpLoadVariable:
		st.push(ctx.l.names.name(instr.ArgInt(model.KindScope), instr.ArgInt(model.KindVarSlot)))
	case model.OpStoreVariable:
		name := ctx.l.names.name(instr.ArgInt(model.KindScope), instr.ArgInt(model.KindVarSlot))
		ctx.b.line("var " + name + " = " + st.pop("undefined") + ";")
	case model.OpAssignVariable:
		name := ctx.l.names.name(instr.ArgInt(model.KindScope), instr.ArgInt(model.KindDest))
		value := st.pop("undefined")
		operator := "="
		if instr.ArgInt(model.KindIsOp) == 1 {
			arg, _ := instr.Arg(model.KindAssignOp)
			if op := model.BinaryOperator(arg.Str()); op != "" {
				operator = op + "="
			}
		}
		ctx.finish(i, st, name+" "+operator+" "+value)

	case model.OpLoadGlobal:
		st.push("globalThis")
	case model.OpLoadGlobalProperty:
		lit := ctx.stringLiteral(instr)
		if name, ok := unquoteIdent(lit); ok {
			st.push(name)
		} else {
			st.push("globalThis[" + lit + "]")
		}
	case model.OpLoadThis:
		st.push("this")
	case model.OpLoadArgument:
		st.push(fmt.Sprintf("arguments[%d]", instr.ArgInt(model.KindDword)))
	case model.OpLoadArguments:
		st.push("arguments")

	case model.OpCallFunction:
		callee := st.pop("undefined")
		ctx.finish(i, st, callee+"("+ctx.popArgs(instr, st)+")")
	case model.OpCallMethod:
		name := st.pop(`""`)
		obj := st.pop("{}")
		ctx.finish(i, st, propertyAccess(obj, name)+"("+ctx.popArgs(instr, st)+")")
	case model.OpConstruct:
		callee := st.pop("Object")
		ctx.finish(i, st, "new "+callee+"("+ctx.popArgs(instr, st)+")")

	case model.OpGetProperty:
		key := st.pop(`""`)
		obj := st.pop("{}")
		st.push(propertyAccess(obj, key))
	case model.OpSetProperty:
		value := st.pop("undefined")
		key := st.pop(`""`)
		obj := st.pop("{}")
		ctx.finish(i, st, propertyAccess(obj, key)+" = "+value)

	case model.OpBuildArray:
		n := instr.ArgInt(model.KindLength)
		elems := make([]string, 0, n)
		for k := 0; k < n; k++ {
			elems = append(elems, st.pop("undefined"))
		}
		st.push("[" + strings.Join(elems, ", ") + "]")
	case model.OpBuildObject:
		n := instr.ArgInt(model.KindLength)
		entries := make([]string, 0, n)
		for k := 0; k < n; k++ {
			value := st.pop("undefined")
			key := st.pop(`""`)
			entries = append(entries, objectKey(key)+": "+value)
		}
		st.push("{" + strings.Join(entries, ", ") + "}")
	case model.OpBuildFunction:
		st.push(ctx.liftNestedFunction(instr))
	case model.OpBuildRegexp:
		st.push(ctx.regexpLiteral(instr, st))

	case model.OpJump:
		ctx.b.comment(fmt.Sprintf("goto %d", instr.JumpTarget()))
		ctx.l.warn("lift", fmt.Sprintf("unstructured jump to %d", instr.JumpTarget()), instr.Addr)
	case model.OpJumpIfTrue, model.OpJumpIfFalse:
		cond := st.pop("true")
		if instr.OpName == model.OpJumpIfFalse {
			cond = "(!" + cond + ")"
		}
		ctx.b.comment(fmt.Sprintf("if (%s) goto %d", cond, instr.JumpTarget()))
		ctx.l.warn("lift", fmt.Sprintf("unstructured conditional jump to %d", instr.JumpTarget()), instr.Addr)

	case model.OpReturn:
		if instr.ArgInt(model.KindHasValue) == 1 {
			ctx.b.line("return " + st.pop("undefined") + ";")
		} else {
			ctx.b.line("return;")
		}
	case model.OpDebugger:
		ctx.b.line("debugger;")

	case model.OpTryPush, model.OpTryPop, model.OpTryCatch, model.OpTryFinally:
		// Absorbed by try regions; a stray marker carries no behavior.
	}

	return
}

func (ctx *bodyCtx) stepBinary(instr *model.Instruction, op string, st *stack) {
	defLeft, defRight := "0", "0"
	switch instr.OpName {
	case model.OpIn:
		defLeft, defRight = `""`, "{}"
	case model.OpInstanceof:
		defLeft, defRight = "null", "Object"
	}

	right := st.pop(defRight)
	left := st.pop(defLeft)
	if ctx.l.opts.Swapped.Has(instr.Opcode) {
		left, right = right, left
	}
	st.push("(" + left + " " + op + " " + right + ")")
}

// popArgs pops argc call arguments. The obfuscator pushes arguments in
// reverse, so pop order is source order; see the lifter tests for the
// documented convention.
func (ctx *bodyCtx) popArgs(instr *model.Instruction, st *stack) string {
	argc := instr.ArgInt(model.KindArgc)
	args := make([]string, 0, argc)
	for k := 0; k < argc; k++ {
		args = append(args, st.pop("undefined"))
	}
	return strings.Join(args, ", ")
}

// finish pushes an effectful expression when the next instruction
// consumes it, and emits it as a statement otherwise.
func (ctx *bodyCtx) finish(i int, st *stack, expr string) {
	if next := ctx.nextInstr(i); next != nil && consumesTop(next) {
		st.push(expr)
		return
	}
	ctx.b.line(expr + ";")
}

func (ctx *bodyCtx) nextInstr(i int) *model.Instruction {
	if i+1 < len(ctx.instrs) {
		return ctx.instrs[i+1]
	}
	return nil
}

// consumesTop reports whether an instruction pops at least one operand.
func consumesTop(instr *model.Instruction) bool {
	if strings.HasPrefix(instr.OpName, "UNKNOWN_") {
		return false
	}
	switch instr.OpName {
	case model.OpPushString, model.OpPushInt32, model.OpPushDouble,
		model.OpPushBoolean, model.OpPushNull, model.OpPushUndefined,
		model.OpLoadVariable, model.OpLoadGlobal, model.OpLoadGlobalProperty,
		model.OpLoadThis, model.OpLoadArgument, model.OpLoadArguments,
		model.OpIncrementVariable, model.OpDecrementVariable,
		model.OpJump, model.OpDebugger, model.OpBuildFunction,
		model.OpTryPush, model.OpTryPop, model.OpTryCatch, model.OpTryFinally:
		return false
	case model.OpReturn:
		return instr.ArgInt(model.KindHasValue) == 1
	case model.OpBuildArray, model.OpBuildObject:
		return instr.ArgInt(model.KindLength) > 0
	case model.OpBuildRegexp:
		_, hasFlags := instr.Arg(model.KindHasFlags)
		return hasFlags
	}
	return true
}

func (ctx *bodyCtx) stringLiteral(instr *model.Instruction) string {
	arg, ok := instr.Arg(model.KindStringIndex)
	if !ok {
		return `""`
	}
	idx := arg.Int()
	if idx < 0 || idx >= len(ctx.l.opts.Strings) {
		// No table (or a hole in it): keep the index visible instead of
		// inventing a literal.
		return fmt.Sprintf("__string_%d", idx)
	}
	return strconv.Quote(ctx.l.opts.Strings[idx])
}

func (ctx *bodyCtx) regexpLiteral(instr *model.Instruction, st *stack) string {
	if ctx.l.opts.Version == model.V1Legacy {
		var pattern, flags string
		if len(instr.Args) == 2 {
			pattern = strings.Trim(ctx.resolveString(instr.Args[0].Int()), `"`)
			flags = strings.Trim(ctx.resolveString(instr.Args[1].Int()), `"`)
		}
		return "/" + pattern + "/" + flags
	}

	flags := `""`
	if instr.ArgInt(model.KindHasFlags) == 1 {
		flags = st.pop(`""`)
	}
	pattern := st.pop(`""`)
	if lit, ok := unquote(pattern); ok {
		f, _ := unquote(flags)
		return "/" + lit + "/" + f
	}
	return "new RegExp(" + pattern + ", " + flags + ")"
}

func (ctx *bodyCtx) resolveString(idx int) string {
	if idx < 0 || idx >= len(ctx.l.opts.Strings) {
		return fmt.Sprintf("__string_%d", idx)
	}
	return strconv.Quote(ctx.l.opts.Strings[idx])
}

func updateExpr(instr *model.Instruction, target string) string {
	op := "++"
	if instr.OpName == model.OpDecrementVariable || instr.OpName == model.OpDecrementProperty ||
		instr.OpName == model.OpDecrementElement {
		op = "--"
	}
	if instr.ArgInt(model.KindPrefix) == 1 {
		return op + target
	}
	return target + op
}

// propertyAccess emits dotted form for safe identifier keys and bracketed
// form otherwise.
func propertyAccess(obj, key string) string {
	if name, ok := unquoteIdent(key); ok {
		return obj + "." + name
	}
	return obj + "[" + key + "]"
}

func objectKey(key string) string {
	if name, ok := unquoteIdent(key); ok {
		return name
	}
	return key
}

func unquote(expr string) (string, bool) {
	if len(expr) >= 2 && expr[0] == '"' && expr[len(expr)-1] == '"' {
		if s, err := strconv.Unquote(expr); err == nil {
			return s, true
		}
	}
	return "", false
}

func unquoteIdent(expr string) (string, bool) {
	s, ok := unquote(expr)
	if !ok || !identRe.MatchString(s) {
		return "", false
	}
	return s, true
}

func jsNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
