package lift

import (
	"fmt"
	"strings"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/cfg"
	"github.com/User319183/NebulaVM-Deobfuscator/internal/diagnostics"
	"github.com/User319183/NebulaVM-Deobfuscator/internal/disasm"
	"github.com/User319183/NebulaVM-Deobfuscator/internal/model"
)

// Options fixes the per-payload context shared by the outer body and
// every nested function body.
type Options struct {
	OpcodeMap    *model.OpcodeMap
	Strings      []string
	Version      model.Version
	Swapped      model.OpcodeSet
	ReturnOpcode int
	HasReturn    bool
	Sink         func(diagnostics.Diagnostic)
}

// LiftProgram disassembles the decoded instruction stream and lifts it to
// source text. Local failures surface as inline comments; only an unusable
// opcode map is an error.
func LiftProgram(code []byte, opts Options) (string, error) {
	l := &lifter{opts: opts, names: newVarNamer()}
	lines, err := l.liftBody(code, 0)
	if err != nil {
		return "", err
	}
	return strings.Join(cleanup(lines), "\n"), nil
}

type lifter struct {
	opts  Options
	names *varNamer
}

func (l *lifter) warn(stage, msg string, addr int) {
	if l.opts.Sink != nil {
		l.opts.Sink(diagnostics.Diagnostic{Stage: stage, Severity: diagnostics.Warn, Message: msg, Addr: addr})
	}
}

// liftBody runs the full pipeline for one function body. Nested bodies
// reuse the opcode map, string table, and version, but never re-run
// version detection.
func (l *lifter) liftBody(code []byte, indent int) ([]string, error) {
	var dopts []disasm.Option
	if l.opts.HasReturn {
		dopts = append(dopts, disasm.WithReturnOpcode(l.opts.ReturnOpcode))
	}
	d, err := disasm.New(l.opts.OpcodeMap, l.opts.Strings, l.opts.Version, dopts...)
	if err != nil {
		return nil, err
	}

	instrs := d.Disassemble(code)
	disasm.ValidateJumps(instrs)

	g := cfg.Build(instrs)
	dom := cfg.Analyze(g)
	regions := cfg.Recognize(g, dom)

	ctx := &bodyCtx{
		l:       l,
		instrs:  instrs,
		regions: regions,
		b:       &body{indent: indent},
	}
	ctx.walk(0, len(instrs), &stack{})
	return ctx.b.lines, nil
}

// bodyCtx is the per-body lifting state. The region maps are read-only
// views consulted in priority order at every instruction.
type bodyCtx struct {
	l       *lifter
	instrs  []*model.Instruction
	regions *cfg.Regions
	b       *body
}

func (ctx *bodyCtx) walk(start, end int, st *stack) {
	i := start
	for i < end && i < len(ctx.instrs) {
		instr := ctx.instrs[i]

		if instr.Error != "" {
			ctx.b.comment("Error: " + instr.Error)
			ctx.l.warn("lift", instr.Error, instr.Addr)
			i++
			continue
		}

		if region, ok := ctx.regions.Tries[i]; ok {
			i = ctx.liftTry(region, st)
			continue
		}
		if loop, ok := ctx.regions.Loops[i]; ok {
			i = ctx.liftLoop(loop)
			continue
		}
		if region, ok := ctx.regions.Logicals[i]; ok {
			i = ctx.liftLogical(region, st)
			continue
		}
		if region, ok := ctx.regions.Ternaries[i]; ok {
			i = ctx.liftTernary(region, st)
			continue
		}
		if region, ok := ctx.regions.IfElses[i]; ok {
			i = ctx.liftIfElse(region, st)
			continue
		}

		i = ctx.step(i, st)
	}
}

// liftCond evaluates a pure condition range on a scratch stack.
func (ctx *bodyCtx) liftCond(start, end int) string {
	scratch := &stack{}
	ctx.walk(start, end, scratch)
	return scratch.pop("true")
}

func (ctx *bodyCtx) liftLoop(loop *cfg.Loop) int {
	// A v2 loop is keyed at its CondStart; hide that entry while the
	// condition is walked so the walk does not re-enter this loop.
	if ctx.regions.Loops[loop.CondStart] == loop {
		delete(ctx.regions.Loops, loop.CondStart)
		defer func() { ctx.regions.Loops[loop.CondStart] = loop }()
	}
	cond := ctx.liftCond(loop.CondStart, loop.CondJumpIdx)

	// V2 exits the loop when the conditional fires; V1 takes the back
	// edge when it fires.
	keep := cond
	if loop.Pattern == "v2" && loop.IsTrue {
		keep = "(!" + cond + ")"
	}
	if loop.Pattern == "v1" && !loop.IsTrue {
		keep = "(!" + cond + ")"
	}

	ctx.b.line("while (" + keep + ") {")
	ctx.b.indent++
	ctx.walk(loop.BodyStart, loop.BodyEnd, &stack{})
	ctx.b.indent--
	ctx.b.line("}")
	return loop.ExitIdx
}

func (ctx *bodyCtx) liftLogical(region *cfg.Logical, st *stack) int {
	left := st.pop("false")

	right := &stack{}
	ctx.walk(region.RightStart, region.RightEnd, right)

	st.push("(" + left + " " + region.Operator + " " + right.pop("true") + ")")
	return region.TargetIdx
}

func (ctx *bodyCtx) liftTernary(region *cfg.IfElse, st *stack) int {
	cond := st.pop("true")

	trueClone := st.clone()
	ctx.walk(region.TrueStart, region.TrueEnd, trueClone)
	falseClone := st.clone()
	ctx.walk(region.FalseStart, region.FalseEnd, falseClone)

	st.push("(" + cond + " ? " + trueClone.pop("undefined") + " : " + falseClone.pop("undefined") + ")")
	return region.MergeIdx
}

func (ctx *bodyCtx) liftIfElse(region *cfg.IfElse, st *stack) int {
	cond := st.pop("true")

	ctx.b.line("if (" + cond + ") {")
	ctx.b.indent++
	ctx.walk(region.TrueStart, region.TrueEnd, st.clone())
	ctx.b.indent--

	if region.HasElse() {
		ctx.b.line("} else {")
		ctx.b.indent++
		ctx.walk(region.FalseStart, region.FalseEnd, st.clone())
		ctx.b.indent--
	}
	ctx.b.line("}")
	return region.MergeIdx
}

func (ctx *bodyCtx) liftTry(region *cfg.TryCatch, st *stack) int {
	ctx.b.line("try {")
	ctx.b.indent++
	ctx.walk(region.TryStart, region.TryEnd, st.clone())
	ctx.b.indent--

	catchStart := region.CatchStart
	catchVar := "e"
	if catchStart < len(ctx.instrs) && ctx.instrs[catchStart].OpName == model.OpTryCatch {
		marker := ctx.instrs[catchStart]
		catchVar = ctx.l.names.name(marker.ArgInt(model.KindScope), marker.ArgInt(model.KindVarSlot))
		catchStart++
	}

	ctx.b.line("} catch (" + catchVar + ") {")
	ctx.b.indent++
	ctx.walk(catchStart, region.CatchEnd, &stack{})
	ctx.b.indent--

	if region.FinallyStart >= 0 {
		finallyStart := region.FinallyStart
		if finallyStart < len(ctx.instrs) && ctx.instrs[finallyStart].OpName == model.OpTryFinally {
			finallyStart++
		}
		ctx.b.line("} finally {")
		ctx.b.indent++
		ctx.walk(finallyStart, region.FinallyEnd, &stack{})
		ctx.b.indent--
	}

	ctx.b.line("}")
	return region.AfterIdx
}

// liftNestedFunction re-disassembles a BUILD_FUNCTION body and lifts it
// one level deeper, returning the function expression text.
func (ctx *bodyCtx) liftNestedFunction(instr *model.Instruction) string {
	lines, err := ctx.l.liftBody(instr.FnBody, ctx.b.indent+1)
	if err != nil {
		ctx.l.warn("lift", fmt.Sprintf("nested function at %d: %v", instr.Addr, err), instr.Addr)
		return "function () { /* Error: nested body */ }"
	}
	lines = cleanup(lines)
	pad := strings.Repeat("  ", ctx.b.indent)
	if len(lines) == 0 {
		return "function () {}"
	}
	return "function () {\n" + strings.Join(lines, "\n") + "\n" + pad + "}"
}
