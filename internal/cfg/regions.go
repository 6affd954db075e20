package cfg

import (
	"github.com/User319183/NebulaVM-Deobfuscator/internal/model"
)

// Loop is a recognized loop region. All fields are instruction indices.
// V1 payloads compile loops post-test (an initial forward jump into the
// condition, a conditional back-edge); V2 compiles them pre-test (a
// conditional forward exit, an unconditional back jump).
type Loop struct {
	Pattern     string // "v1" or "v2"
	InitJumpIdx int    // v1 only, -1 otherwise
	CondStart   int
	CondEnd     int // == CondJumpIdx
	CondJumpIdx int
	BodyStart   int
	BodyEnd     int // exclusive
	BackJumpIdx int // v2 only, -1 otherwise
	ExitIdx     int
	IsTrue      bool // conditional is JUMP_IF_TRUE (v1: fires the back edge; v2: fires the exit)
}

// IfElse is a two-armed conditional region. Branch ranges are half-open
// index intervals with their terminal JUMP already stripped. A ternary is
// the same shape with both branches pure single-block expressions.
type IfElse struct {
	CondJumpIdx int
	TrueStart   int
	TrueEnd     int
	FalseStart  int
	FalseEnd    int
	MergeIdx    int
	TrueBlocks  []int
	FalseBlocks []int
}

// HasElse reports whether the false branch is non-empty.
func (r *IfElse) HasElse() bool {
	return r.FalseEnd > r.FalseStart
}

// Logical is a short-circuit region: DUPLICATE, conditional forward jump,
// POP, then the right operand up to the join.
type Logical struct {
	Operator     string // "&&" or "||"
	DuplicateIdx int
	JumpIdx      int
	PopIdx       int
	RightStart   int
	RightEnd     int // exclusive, == TargetIdx
	TargetIdx    int
}

// TryCatch is a protected region. Indices are half-open; FinallyStart is
// -1 when the payload carries no finally block.
type TryCatch struct {
	TryPushIdx   int
	TryStart     int
	TryEnd       int // idx of the matching TRY_POP
	CatchAddr    int
	CatchStart   int
	CatchEnd     int
	FinallyStart int
	FinallyEnd   int
	AfterIdx     int
}

// Regions are the structured views derived from one CFG. Maps are keyed
// by the instruction index the lifter will encounter first.
type Regions struct {
	Loops     map[int]*Loop    // keyed by InitJumpIdx (v1) / CondStart (v2)
	LoopJumps map[int]*Loop    // keyed by CondJumpIdx
	IfElses   map[int]*IfElse  // keyed by CondJumpIdx
	Ternaries map[int]*IfElse  // keyed by CondJumpIdx
	Logicals  map[int]*Logical // keyed by DuplicateIdx
	Tries     map[int]*TryCatch
}

// Recognize derives every structured region from the CFG. The returned
// maps are read-only views for the lifter.
func Recognize(g *CFG, dom *DomInfo) *Regions {
	r := &Regions{
		Loops:     make(map[int]*Loop),
		LoopJumps: make(map[int]*Loop),
		IfElses:   make(map[int]*IfElse),
		Ternaries: make(map[int]*IfElse),
		Logicals:  make(map[int]*Logical),
		Tries:     make(map[int]*TryCatch),
	}

	used := make(map[int]bool)
	r.findLoopsV2(g, used)
	r.findLoopsV1(g, used)
	r.findConditionals(g, dom)
	r.findLogicals(g)
	r.findTries(g)
	return r
}

// findLoopsV2 recognizes the pre-test pattern: a conditional forward exit
// whose target is immediately preceded by an unconditional jump back to
// the condition.
func (r *Regions) findLoopsV2(g *CFG, used map[int]bool) {
	for j, instr := range g.Instrs {
		if !instr.IsConditionalJump() || used[j] {
			continue
		}
		exitIdx, ok := g.AddrToIdx[instr.JumpTarget()]
		if !ok || exitIdx <= j+1 {
			continue
		}

		backIdx := exitIdx - 1
		back := g.Instrs[backIdx]
		if back.OpName != model.OpJump || used[backIdx] {
			continue
		}
		condStart, ok := g.AddrToIdx[back.JumpTarget()]
		if !ok || condStart > j {
			continue
		}

		loop := &Loop{
			Pattern:     "v2",
			InitJumpIdx: -1,
			CondStart:   condStart,
			CondEnd:     j,
			CondJumpIdx: j,
			BodyStart:   j + 1,
			BodyEnd:     backIdx,
			BackJumpIdx: backIdx,
			ExitIdx:     exitIdx,
			IsTrue:      instr.OpName == model.OpJumpIfTrue,
		}
		r.Loops[condStart] = loop
		r.LoopJumps[j] = loop
		for i := condStart; i < exitIdx; i++ {
			used[i] = true
		}
	}
}

// findLoopsV1 recognizes the post-test pattern: an unconditional forward
// jump into the condition, whose conditional jump targets at or before
// the initial jump's successor.
func (r *Regions) findLoopsV1(g *CFG, used map[int]bool) {
	for i, instr := range g.Instrs {
		if instr.OpName != model.OpJump || used[i] {
			continue
		}
		condStart, ok := g.AddrToIdx[instr.JumpTarget()]
		if !ok || condStart <= i {
			continue
		}

		condJump := -1
		for k := condStart; k < len(g.Instrs); k++ {
			c := g.Instrs[k]
			if !c.IsConditionalJump() {
				continue
			}
			target, ok := g.AddrToIdx[c.JumpTarget()]
			if ok && target <= i+1 && !used[k] {
				condJump = k
			}
			break
		}
		if condJump < 0 {
			continue
		}

		loop := &Loop{
			Pattern:     "v1",
			InitJumpIdx: i,
			CondStart:   condStart,
			CondEnd:     condJump,
			CondJumpIdx: condJump,
			BodyStart:   i + 1,
			BodyEnd:     condStart,
			BackJumpIdx: -1,
			ExitIdx:     condJump + 1,
			IsTrue:      g.Instrs[condJump].OpName == model.OpJumpIfTrue,
		}
		r.Loops[i] = loop
		r.LoopJumps[condJump] = loop
		for k := i; k <= condJump; k++ {
			used[k] = true
		}
	}
}

// findConditionals recognizes if/if-else regions: a conditional block
// dominating both successors, with a common immediate post-dominator as
// the merge. Conditionals already consumed by a loop are excluded. A
// region whose branches are single-block pure expression runs is
// reclassified as a ternary.
func (r *Regions) findConditionals(g *CFG, dom *DomInfo) {
	for _, block := range g.Blocks {
		if !block.IsConditional {
			continue
		}
		condJumpIdx := block.EndIdx
		if _, isLoop := r.LoopJumps[condJumpIdx]; isLoop {
			continue
		}
		if block.TrueSucc < 0 || block.FalseSucc < 0 {
			continue
		}
		if !dom.Dominates(block.Id, block.TrueSucc) || !dom.Dominates(block.Id, block.FalseSucc) {
			continue
		}
		mergeBlock := dom.IPDom[block.Id]
		if mergeBlock < 0 {
			continue
		}

		mergeIdx := g.Blocks[mergeBlock].StartIdx
		region := &IfElse{
			CondJumpIdx: condJumpIdx,
			MergeIdx:    mergeIdx,
			TrueBlocks:  collectBranch(g, block.TrueSucc, mergeBlock),
			FalseBlocks: collectBranch(g, block.FalseSucc, mergeBlock),
		}

		region.TrueStart, region.TrueEnd = branchRange(g, region.TrueBlocks, mergeIdx)
		region.FalseStart, region.FalseEnd = branchRange(g, region.FalseBlocks, mergeIdx)
		if region.TrueEnd <= region.TrueStart && region.FalseEnd <= region.FalseStart {
			continue
		}

		if r.isTernary(g, region) {
			r.Ternaries[condJumpIdx] = region
		} else {
			r.IfElses[condJumpIdx] = region
		}
	}
}

// collectBranch gathers the blocks of one arm breadth-first, stopping at
// the merge block.
func collectBranch(g *CFG, start, merge int) []int {
	if start == merge {
		return nil
	}
	var out []int
	seen := map[int]bool{start: true}
	queue := []int{start}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		out = append(out, b)
		for _, s := range g.Blocks[b].Succs {
			if s == merge || seen[s] {
				continue
			}
			seen[s] = true
			queue = append(queue, s)
		}
	}
	return out
}

// branchRange converts a branch's block list to a half-open instruction
// range with the terminal jump-to-merge stripped.
func branchRange(g *CFG, blocks []int, mergeIdx int) (int, int) {
	if len(blocks) == 0 {
		return mergeIdx, mergeIdx
	}
	start := g.Blocks[blocks[0]].StartIdx
	end := start
	for _, b := range blocks {
		if g.Blocks[b].EndIdx+1 > end {
			end = g.Blocks[b].EndIdx + 1
		}
	}
	if end > start {
		last := g.Instrs[end-1]
		if last.OpName == model.OpJump {
			if t, ok := g.AddrToIdx[last.JumpTarget()]; ok && t >= mergeIdx {
				end--
			}
		}
	}
	return start, end
}

// isTernary accepts an if-else whose arms are both one pure-expression
// basic block; such a region folds to a single pushed value.
func (r *Regions) isTernary(g *CFG, region *IfElse) bool {
	if len(region.TrueBlocks) != 1 || len(region.FalseBlocks) != 1 {
		return false
	}
	return pureRange(g.Instrs, region.TrueStart, region.TrueEnd) &&
		pureRange(g.Instrs, region.FalseStart, region.FalseEnd) &&
		region.TrueEnd > region.TrueStart &&
		region.FalseEnd > region.FalseStart
}

// findLogicals recognizes the short-circuit triple DUPLICATE /
// JUMP_IF_{FALSE,TRUE} / POP with a pure tail up to the forward target.
func (r *Regions) findLogicals(g *CFG) {
	for i := 0; i+2 < len(g.Instrs); i++ {
		if g.Instrs[i].OpName != model.OpPushDuplicate {
			continue
		}
		jump := g.Instrs[i+1]
		if !jump.IsConditionalJump() {
			continue
		}
		if g.Instrs[i+2].OpName != model.OpPop {
			continue
		}
		target, ok := g.AddrToIdx[jump.JumpTarget()]
		if !ok || target <= i+2 {
			continue
		}
		if !pureRange(g.Instrs, i+3, target) {
			continue
		}

		op := "&&"
		if jump.OpName == model.OpJumpIfTrue {
			op = "||"
		}
		r.Logicals[i] = &Logical{
			Operator:     op,
			DuplicateIdx: i,
			JumpIdx:      i + 1,
			PopIdx:       i + 2,
			RightStart:   i + 3,
			RightEnd:     target,
			TargetIdx:    target,
		}
	}
}

// findTries matches TRY_PUSH/TRY_POP pairs with an auxiliary stack;
// nesting is assumed well-parenthesized.
func (r *Regions) findTries(g *CFG) {
	type openTry struct {
		pushIdx     int
		catchAddr   int
		finallyAddr int
		hasFinally  bool
	}
	var stack []openTry

	for i, instr := range g.Instrs {
		switch instr.OpName {
		case model.OpTryPush:
			entry := openTry{pushIdx: i, catchAddr: instr.ArgInt(model.KindCatchAddr)}
			if arg, ok := instr.Arg(model.KindFinallyAddr); ok {
				entry.finallyAddr = arg.Int()
				entry.hasFinally = entry.finallyAddr > 0
			}
			stack = append(stack, entry)
		case model.OpTryPop:
			if len(stack) == 0 {
				continue
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			r.closeTry(g, open.pushIdx, open.catchAddr, open.finallyAddr, open.hasFinally, i)
		}
	}
}

func (r *Regions) closeTry(g *CFG, pushIdx, catchAddr, finallyAddr int, hasFinally bool, popIdx int) {
	region := &TryCatch{
		TryPushIdx:   pushIdx,
		TryStart:     pushIdx + 1,
		TryEnd:       popIdx,
		CatchAddr:    catchAddr,
		FinallyStart: -1,
		FinallyEnd:   -1,
		AfterIdx:     len(g.Instrs),
	}

	catchStart, ok := g.AddrToIdx[catchAddr]
	if !ok {
		return
	}
	region.CatchStart = catchStart

	afterAddr := -1
	if popIdx+1 < len(g.Instrs) && g.Instrs[popIdx+1].OpName == model.OpJump {
		afterAddr = g.Instrs[popIdx+1].JumpTarget()
		if idx, ok := g.AddrToIdx[afterAddr]; ok {
			region.AfterIdx = idx
		}
	}

	region.CatchEnd = region.AfterIdx
	for k := catchStart; k < len(g.Instrs); k++ {
		c := g.Instrs[k]
		if c.OpName == model.OpJump && afterAddr >= 0 && c.JumpTarget() == afterAddr {
			region.CatchEnd = k
			break
		}
	}

	if hasFinally {
		if finallyIdx, ok := g.AddrToIdx[finallyAddr]; ok {
			region.FinallyStart = finallyIdx
			region.FinallyEnd = region.AfterIdx
			if region.CatchEnd > finallyIdx {
				region.CatchEnd = finallyIdx
			}
		}
	}

	r.Tries[pushIdx] = region
}

// pureRange reports whether every instruction in [start, end) is a pure
// expression: no stores, throws, returns, jumps, or debugger traps.
func pureRange(instrs []*model.Instruction, start, end int) bool {
	for i := start; i < end && i < len(instrs); i++ {
		switch instrs[i].OpName {
		case model.OpStoreVariable, model.OpAssignVariable, model.OpSetProperty,
			model.OpUnaryThrow, model.OpReturn, model.OpDebugger,
			model.OpJump, model.OpJumpIfTrue, model.OpJumpIfFalse,
			model.OpTryPush, model.OpTryPop, model.OpTryCatch, model.OpTryFinally:
			return false
		}
		if instrs[i].Error != "" {
			return false
		}
	}
	return true
}
