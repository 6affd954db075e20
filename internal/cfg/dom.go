package cfg

// DomInfo holds the dominator and post-dominator fixpoints of one CFG,
// addressable by block id.
type DomInfo struct {
	Dom     []map[int]bool
	PostDom []map[int]bool
	IDom    []int
	IPDom   []int
}

// Analyze computes dominators and post-dominators by iterative
// intersection to a fixpoint, then derives the immediate relations.
func Analyze(g *CFG) *DomInfo {
	n := len(g.Blocks)
	info := &DomInfo{
		Dom:     make([]map[int]bool, n),
		PostDom: make([]map[int]bool, n),
		IDom:    make([]int, n),
		IPDom:   make([]int, n),
	}
	if n == 0 {
		return info
	}

	info.Dom = solveMulti(n, map[int]bool{g.Entry: true}, func(b int) []int { return g.Blocks[b].Preds })

	exits := make(map[int]bool, len(g.Exits))
	for _, e := range g.Exits {
		exits[e] = true
	}
	info.PostDom = solveMulti(n, exits, func(b int) []int { return g.Blocks[b].Succs })

	for b := 0; b < n; b++ {
		info.IDom[b] = immediate(info.Dom, b)
		info.IPDom[b] = immediate(info.PostDom, b)
	}
	return info
}

func solveMulti(n int, roots map[int]bool, inputs func(int) []int) []map[int]bool {
	sets := make([]map[int]bool, n)
	for b := 0; b < n; b++ {
		if roots[b] {
			sets[b] = map[int]bool{b: true}
			continue
		}
		all := make(map[int]bool, n)
		for i := 0; i < n; i++ {
			all[i] = true
		}
		sets[b] = all
	}

	changed := true
	for changed {
		changed = false
		for b := 0; b < n; b++ {
			if roots[b] {
				continue
			}
			next := intersectInputs(sets, inputs(b), n)
			next[b] = true
			if !sameSet(next, sets[b]) {
				sets[b] = next
				changed = true
			}
		}
	}
	return sets
}

func intersectInputs(sets []map[int]bool, inputs []int, n int) map[int]bool {
	out := make(map[int]bool)
	first := true
	for _, in := range inputs {
		if first {
			for k := range sets[in] {
				out[k] = true
			}
			first = false
			continue
		}
		for k := range out {
			if !sets[in][k] {
				delete(out, k)
			}
		}
	}
	if first {
		// No inputs: unreachable from the roots, keep the universal set.
		for i := 0; i < n; i++ {
			out[i] = true
		}
	}
	return out
}

func sameSet(a, b map[int]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// immediate picks, among the strict (post-)dominators of b, the one whose
// own set contains every other candidate.
func immediate(sets []map[int]bool, b int) int {
	candidates := make([]int, 0, len(sets[b]))
	for d := range sets[b] {
		if d != b {
			candidates = append(candidates, d)
		}
	}

	for _, c := range candidates {
		covers := true
		for _, other := range candidates {
			if other != c && !sets[c][other] {
				covers = false
				break
			}
		}
		if covers {
			return c
		}
	}
	return -1
}

// Dominates reports whether a dominates b.
func (d *DomInfo) Dominates(a, b int) bool {
	if b < 0 || b >= len(d.Dom) {
		return false
	}
	return d.Dom[b][a]
}

// PostDominates reports whether a post-dominates b.
func (d *DomInfo) PostDominates(a, b int) bool {
	if b < 0 || b >= len(d.PostDom) {
		return false
	}
	return d.PostDom[b][a]
}
