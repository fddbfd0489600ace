package riscu

import (
	"fmt"
	"io"
	"sort"
)

// EdgeKind classifies a control-flow edge.
type EdgeKind int

const (
	EdgeStraight = EdgeKind(iota)
	EdgeTaken
	EdgeNotTaken
	EdgeCall
	EdgeReturn
)

var edgeKinds = [...]string{
	EdgeStraight: "straight",
	EdgeTaken:    "taken",
	EdgeNotTaken: "not-taken",
	EdgeCall:     "call",
	EdgeReturn:   "return",
}

// String returns the string representation of the edge kind.
func (k EdgeKind) String() string {
	if k >= 0 && k < EdgeKind(len(edgeKinds)) {
		return edgeKinds[k]
	}
	return fmt.Sprintf("EdgeKind<%d>", int(k))
}

// Edge is a possible successor of a basic block.
// To is -1 when the target is only resolvable at execution time (jalr).
type Edge struct {
	To   int
	Kind EdgeKind
}

// Block is a basic block: a maximal straight-line instruction run.
// First/Last index into Program.Instructions; End is the address one
// past the last instruction.
type Block struct {
	Index int
	Addr  uint64
	End   uint64
	First int
	Last  int
	Edges []Edge
}

// CFG is the static control-flow graph over basic blocks.
type CFG struct {
	Blocks   []Block
	exitDist []int
}

// buildCFG splits the instruction stream at leaders and wires successor
// edges. Branch and jump targets outside the code range are load-time
// failures.
func buildCFG(p *Program) (*CFG, error) {
	n := len(p.Instructions)

	// Leaders: first instruction, entry, every static transfer target,
	// and every instruction following a terminator.
	leaders := make(map[int]bool)
	leaders[0] = true
	leaders[p.IndexOf(p.Entry)] = true
	for i := range p.Instructions {
		inst := &p.Instructions[i]
		switch inst.Op {
		case OpBEQ, OpJAL:
			t := p.IndexOf(inst.Target())
			if t < 0 {
				return nil, fmt.Errorf("riscu: transfer target 0x%x outside code at 0x%x", inst.Target(), inst.Addr)
			}
			leaders[t] = true
		}
		if inst.IsTerminator() && i+1 < n {
			leaders[i+1] = true
		}
	}

	starts := make([]int, 0, len(leaders))
	for i := range leaders {
		starts = append(starts, i)
	}
	sort.Ints(starts)

	cfg := &CFG{Blocks: make([]Block, len(starts))}
	blockOf := make(map[int]int, len(starts)) // leader instruction -> block
	for bi, first := range starts {
		last := n - 1
		if bi+1 < len(starts) {
			last = starts[bi+1] - 1
		}
		cfg.Blocks[bi] = Block{
			Index: bi,
			Addr:  p.Instructions[first].Addr,
			End:   p.Instructions[last].Addr + 4,
			First: first,
			Last:  last,
		}
		blockOf[first] = bi
	}

	for bi := range cfg.Blocks {
		b := &cfg.Blocks[bi]
		last := &p.Instructions[b.Last]

		switch last.Op {
		case OpBEQ:
			b.Edges = append(b.Edges, Edge{To: blockOf[p.IndexOf(last.Target())], Kind: EdgeTaken})
			if b.Last+1 < n {
				b.Edges = append(b.Edges, Edge{To: blockOf[b.Last+1], Kind: EdgeNotTaken})
			}
		case OpJAL:
			kind := EdgeStraight
			if last.IsCall() {
				kind = EdgeCall
			}
			b.Edges = append(b.Edges, Edge{To: blockOf[p.IndexOf(last.Target())], Kind: kind})
		case OpJALR:
			kind := EdgeStraight
			if last.IsReturn() {
				kind = EdgeReturn
			} else if last.IsCall() {
				kind = EdgeCall
			}
			b.Edges = append(b.Edges, Edge{To: -1, Kind: kind})
		default: // fall through, ecall included
			if b.Last+1 < n {
				b.Edges = append(b.Edges, Edge{To: blockOf[b.Last+1], Kind: EdgeStraight})
			}
		}
	}

	cfg.exitDist = computeExitDistances(p, cfg)
	return cfg, nil
}

// computeExitDistances runs a reverse breadth-first search from every
// block ending in ecall. Unreachable blocks get -1.
func computeExitDistances(p *Program, cfg *CFG) []int {
	rev := make([][]int, len(cfg.Blocks))
	for bi := range cfg.Blocks {
		for _, e := range cfg.Blocks[bi].Edges {
			if e.To >= 0 {
				rev[e.To] = append(rev[e.To], bi)
			}
		}
	}

	dist := make([]int, len(cfg.Blocks))
	var queue []int
	for bi := range cfg.Blocks {
		if p.Instructions[cfg.Blocks[bi].Last].Op == OpECALL {
			dist[bi] = 0
			queue = append(queue, bi)
		} else {
			dist[bi] = -1
		}
	}
	for len(queue) > 0 {
		bi := queue[0]
		queue = queue[1:]
		for _, prev := range rev[bi] {
			if dist[prev] == -1 {
				dist[prev] = dist[bi] + 1
				queue = append(queue, prev)
			}
		}
	}
	return dist
}

// BlockAt returns the block containing addr, or nil.
func (c *CFG) BlockAt(addr uint64) *Block {
	i := sort.Search(len(c.Blocks), func(i int) bool { return c.Blocks[i].End > addr })
	if i >= len(c.Blocks) || addr < c.Blocks[i].Addr {
		return nil
	}
	return &c.Blocks[i]
}

// ExitDistances returns, per block, the edge count to the nearest block
// ending in ecall; -1 if no static path exists.
func (c *CFG) ExitDistances() []int {
	return c.exitDist
}

// WriteDot writes the graph in Graphviz dot format.
func (c *CFG) WriteDot(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "digraph cfg {"); err != nil {
		return err
	}
	fmt.Fprintln(w, "\tnode [shape=box fontname=monospace];")
	for i := range c.Blocks {
		b := &c.Blocks[i]
		label := fmt.Sprintf("0x%x..0x%x", b.Addr, b.End)
		if c.exitDist[i] >= 0 {
			label += fmt.Sprintf("\\nexit+%d", c.exitDist[i])
		}
		fmt.Fprintf(w, "\tb%d [label=\"%s\"];\n", b.Index, label)
	}
	for i := range c.Blocks {
		b := &c.Blocks[i]
		for _, e := range b.Edges {
			if e.To < 0 {
				fmt.Fprintf(w, "\ti%d [label=\"?\" shape=plaintext];\n", b.Index)
				fmt.Fprintf(w, "\tb%d -> i%d [label=%q style=dashed];\n", b.Index, b.Index, e.Kind)
				continue
			}
			fmt.Fprintf(w, "\tb%d -> b%d [label=%q];\n", b.Index, e.To, e.Kind)
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}
