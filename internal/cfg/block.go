package cfg

import (
	"sort"

	"github.com/User319183/NebulaVM-Deobfuscator/internal/model"
)

// BasicBlock is a maximal straight-line run of instructions. StartIdx and
// EndIdx are inclusive indices into the owning CFG's instruction slice.
// Successor and predecessor links are block ids so the block graph never
// holds cross-pointers that outlive the CFG.
type BasicBlock struct {
	Id       int
	StartIdx int
	EndIdx   int

	Succs []int
	Preds []int

	IsConditional bool
	TrueSucc      int
	FalseSucc     int
}

// CFG holds the basic blocks of one function body.
type CFG struct {
	Instrs []*model.Instruction
	Blocks []*BasicBlock
	Entry  int
	Exits  []int

	// AddrToIdx maps instruction addresses to stream indices; IdxToBlock
	// maps stream indices to block ids.
	AddrToIdx  map[int]int
	IdxToBlock []int
}

// Build partitions the instruction stream into basic blocks and wires
// control-flow edges. Jumps with unresolvable targets contribute no edge;
// the disassembler has already flagged them.
func Build(instrs []*model.Instruction) *CFG {
	g := &CFG{
		Instrs:     instrs,
		AddrToIdx:  make(map[int]int, len(instrs)),
		IdxToBlock: make([]int, len(instrs)),
	}
	if len(instrs) == 0 {
		return g
	}

	for i, instr := range instrs {
		g.AddrToIdx[instr.Addr] = i
	}

	leaders := map[int]bool{0: true}
	for i, instr := range instrs {
		if instr.IsJump() {
			if target, ok := g.AddrToIdx[instr.JumpTarget()]; ok {
				leaders[target] = true
			}
			if i+1 < len(instrs) {
				leaders[i+1] = true
			}
		}
		if instr.OpName == model.OpReturn && i+1 < len(instrs) {
			leaders[i+1] = true
		}
	}

	sorted := make([]int, 0, len(leaders))
	for idx := range leaders {
		sorted = append(sorted, idx)
	}
	sort.Ints(sorted)

	for bi, start := range sorted {
		end := len(instrs) - 1
		if bi+1 < len(sorted) {
			end = sorted[bi+1] - 1
		}
		block := &BasicBlock{
			Id:       bi,
			StartIdx: start,
			EndIdx:   end,
			TrueSucc: -1, FalseSucc: -1,
		}
		g.Blocks = append(g.Blocks, block)
		for i := start; i <= end; i++ {
			g.IdxToBlock[i] = bi
		}
	}

	for _, block := range g.Blocks {
		last := instrs[block.EndIdx]
		switch last.OpName {
		case model.OpJump:
			if target, ok := g.AddrToIdx[last.JumpTarget()]; ok {
				g.addEdge(block.Id, g.IdxToBlock[target])
			}
		case model.OpJumpIfTrue, model.OpJumpIfFalse:
			block.IsConditional = true
			if target, ok := g.AddrToIdx[last.JumpTarget()]; ok {
				targetBlock := g.IdxToBlock[target]
				g.addEdge(block.Id, targetBlock)
				if last.OpName == model.OpJumpIfTrue {
					block.TrueSucc = targetBlock
				} else {
					block.FalseSucc = targetBlock
				}
			}
			if block.EndIdx+1 < len(instrs) {
				fall := g.IdxToBlock[block.EndIdx+1]
				g.addEdge(block.Id, fall)
				if last.OpName == model.OpJumpIfTrue {
					block.FalseSucc = fall
				} else {
					block.TrueSucc = fall
				}
			}
		case model.OpReturn:
			g.Exits = append(g.Exits, block.Id)
		default:
			if block.EndIdx+1 < len(instrs) {
				g.addEdge(block.Id, g.IdxToBlock[block.EndIdx+1])
			} else {
				g.Exits = append(g.Exits, block.Id)
			}
		}
	}

	if len(g.Exits) == 0 && len(g.Blocks) > 0 {
		// Degenerate body ending in an unconditional backward jump.
		g.Exits = append(g.Exits, g.Blocks[len(g.Blocks)-1].Id)
	}

	return g
}

func (g *CFG) addEdge(from, to int) {
	for _, s := range g.Blocks[from].Succs {
		if s == to {
			return
		}
	}
	g.Blocks[from].Succs = append(g.Blocks[from].Succs, to)
	g.Blocks[to].Preds = append(g.Blocks[to].Preds, from)
}

// BlockAt returns the block containing instruction index idx.
func (g *CFG) BlockAt(idx int) *BasicBlock {
	if idx < 0 || idx >= len(g.IdxToBlock) {
		return nil
	}
	return g.Blocks[g.IdxToBlock[idx]]
}
