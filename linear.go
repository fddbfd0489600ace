package golem

import (
	"math/bits"
	"sort"
)

// LinearSolver is a fast path for queries whose conjuncts are affine in a
// single 64-bit input: a*x + b compared against c*x + d, all arithmetic
// modulo 2^64. Conjuncts over different inputs form independent systems
// that are solved separately and merged into one model. Anything outside
// this fragment yields VerdictUnknown so a chained solver can take over.
//
// Equalities with an odd coefficient are inverted exactly; even
// coefficients reduce to a power-of-two congruence. Unsigned comparisons
// translate to cyclic intervals on the value ring. An unsat verdict is
// only returned when the per-variable domain is provably empty.
type LinearSolver struct {
	// MaxProbes bounds the candidate walk per variable. When exceeded the
	// query is declined rather than misjudged.
	MaxProbes int
}

// NewLinearSolver returns a new instance of LinearSolver.
func NewLinearSolver() *LinearSolver {
	return &LinearSolver{MaxProbes: 4096}
}

// Solve implements Solver.
func (s *LinearSolver) Solve(constraints []Expr, inputs []*InputExpr) (Verdict, []uint64, error) {
	doms := make(map[int]*varDomain)

	for _, expr := range constraints {
		switch accept := s.addConjunct(doms, expr, false); accept {
		case conjunctUnsat:
			return VerdictUnsat, nil, nil
		case conjunctUnknown:
			return VerdictUnknown, nil, nil
		}
	}

	// Solve each variable independently.
	maxID := -1
	for _, input := range inputs {
		if input.ID > maxID {
			maxID = input.ID
		}
	}
	values := make([]uint64, maxID+1)
	for id, dom := range doms {
		value, found, definitive := dom.solve(s.MaxProbes)
		if !found {
			if definitive {
				return VerdictUnsat, nil, nil
			}
			return VerdictUnknown, nil, nil
		}
		if id >= 0 && id < len(values) {
			values[id] = value
		}
	}

	// Double-check the model against every conjunct; decline on any
	// disagreement instead of returning a bad witness.
	evaluator := NewExprEvaluator(values)
	for _, expr := range constraints {
		c, err := evaluator.Evaluate(expr)
		if err != nil || !c.IsTrue() {
			return VerdictUnknown, nil, nil
		}
	}

	model := make([]uint64, len(inputs))
	for i, input := range inputs {
		model[i] = values[input.ID]
	}
	return VerdictSat, model, nil
}

// Conjunct outcomes.
type conjunctResult int

const (
	conjunctOK = conjunctResult(iota)
	conjunctUnsat
	conjunctUnknown
)

// addConjunct folds one conjunct into the per-variable domains. The
// negate flag tracks negation through NotExpr and bool equalities.
func (s *LinearSolver) addConjunct(doms map[int]*varDomain, expr Expr, negate bool) conjunctResult {
	switch expr := expr.(type) {
	case *ConstantExpr:
		if expr.IsTrue() != negate {
			return conjunctOK
		}
		return conjunctUnsat

	case *NotExpr:
		return s.addConjunct(doms, expr.Expr, !negate)

	case *BinaryExpr:
		switch expr.Op {
		case EQ:
			// A bool-width constant on the left selects or negates the
			// right side; this covers the lowered not-equal form.
			if lhs, ok := expr.LHS.(*ConstantExpr); ok && lhs.Width == WidthBool {
				if lhs.IsTrue() {
					return s.addConjunct(doms, expr.RHS, negate)
				}
				return s.addConjunct(doms, expr.RHS, !negate)
			}
			return s.addEquality(doms, expr.LHS, expr.RHS, negate)
		case ULT:
			return s.addUlt(doms, expr.LHS, expr.RHS, negate)
		case ULE:
			// l <= r is the complement of r < l.
			return s.addUlt(doms, expr.RHS, expr.LHS, !negate)
		}
	}
	return conjunctUnknown
}

// addEquality records a*x + b == c*x + d, or its negation.
func (s *LinearSolver) addEquality(doms map[int]*varDomain, lhs, rhs Expr, negate bool) conjunctResult {
	l, ok := affineOf(lhs)
	if !ok {
		return conjunctUnknown
	}
	r, ok := affineOf(rhs)
	if !ok {
		return conjunctUnknown
	}
	x, ok := mergeVar(l.x, r.x)
	if !ok {
		return conjunctUnknown
	}

	a, d := l.a-r.a, r.b-l.b // a*x == d

	if a == 0 {
		if (d == 0) != negate {
			return conjunctOK
		}
		return conjunctUnsat
	}

	// Reduce a*x == d to x == residue (mod 2^modBits).
	k := uint(bits.TrailingZeros64(a))
	if k > 0 && uint(bits.TrailingZeros64(d)) < k {
		// No solution exists; its negation always holds.
		if negate {
			return conjunctOK
		}
		return conjunctUnsat
	}
	modBits := 64 - k
	residue := (modInverse64(a>>k) * (d >> k)) & lowMask(modBits)

	dom := domainOf(doms, x)
	if negate {
		dom.exclusions = append(dom.exclusions, congruence{residue: residue, modBits: modBits})
		return conjunctOK
	}
	if !dom.addCongruence(residue, modBits) {
		return conjunctUnsat
	}
	return conjunctOK
}

// addUlt records a*x + b < c*x + d as a cyclic interval on x, or the
// complementary interval when negated. Only unit coefficients translate.
func (s *LinearSolver) addUlt(doms map[int]*varDomain, lhs, rhs Expr, negate bool) conjunctResult {
	l, ok := affineOf(lhs)
	if !ok || l.a > 1 {
		return conjunctUnknown
	}
	r, ok := affineOf(rhs)
	if !ok || r.a > 1 {
		return conjunctUnknown
	}
	x, ok := mergeVar(l.x, r.x)
	if !ok {
		return conjunctUnknown
	}

	// Solution set of l < r over x, as an arc start and length.
	var lo, n uint64
	switch {
	case l.a == 1 && r.a == 1:
		// x+b < x+d wraps iff x+d lands in the top delta values.
		delta := l.b - r.b
		lo, n = -delta-r.b, delta
	case l.a == 1:
		// x+b < d holds for the d values ending below d.
		lo, n = -l.b, r.b
	case r.a == 1:
		// b < x+d holds above b, excluding the wrap to zero.
		lo, n = l.b+1-r.b, -(l.b + 1)
	default:
		if (l.b < r.b) != negate {
			return conjunctOK
		}
		return conjunctUnsat
	}

	if negate {
		// Complement arc. A full complement of the empty set is a no-op.
		if n == 0 {
			return conjunctOK
		}
		lo, n = lo+n, -n
	}
	if n == 0 {
		return conjunctUnsat
	}

	dom := domainOf(doms, x)
	if !dom.addArc(lo, n) {
		return conjunctUnsat
	}
	return conjunctOK
}

// affine is a*x + b with all arithmetic modulo 2^64. x is nil for a
// constant form.
type affine struct {
	x *InputExpr
	a uint64
	b uint64
}

// affineOf reduces expr to affine form over at most one 64-bit input.
func affineOf(expr Expr) (affine, bool) {
	switch expr := expr.(type) {
	case *ConstantExpr:
		if expr.Width != Width64 {
			return affine{}, false
		}
		return affine{b: expr.Value}, true

	case *InputExpr:
		if expr.Width != Width64 {
			return affine{}, false
		}
		return affine{x: expr, a: 1}, true

	case *BinaryExpr:
		l, ok := affineOf(expr.LHS)
		if !ok {
			return affine{}, false
		}
		r, ok := affineOf(expr.RHS)
		if !ok {
			return affine{}, false
		}
		x, ok := mergeVar(l.x, r.x)
		if !ok {
			return affine{}, false
		}

		switch expr.Op {
		case ADD:
			return affine{x: x, a: l.a + r.a, b: l.b + r.b}, true
		case SUB:
			return affine{x: x, a: l.a - r.a, b: l.b - r.b}, true
		case MUL:
			// One side must be constant for the product to stay affine.
			if l.x == nil {
				return affine{x: r.x, a: l.b * r.a, b: l.b * r.b}, true
			} else if r.x == nil {
				return affine{x: l.x, a: r.b * l.a, b: r.b * l.b}, true
			}
			return affine{}, false
		case SHL:
			if r.x != nil || r.b >= 64 {
				return affine{}, false
			}
			return affine{x: l.x, a: l.a << r.b, b: l.b << r.b}, true
		}
	}
	return affine{}, false
}

// mergeVar unifies the variables of two affine forms.
func mergeVar(a, b *InputExpr) (*InputExpr, bool) {
	if a == nil {
		return b, true
	} else if b == nil || a == b {
		return a, true
	} else if a.ID == b.ID {
		return a, true
	}
	return nil, false
}

// congruence is x ≡ residue (mod 2^modBits).
type congruence struct {
	residue uint64
	modBits uint
}

// arc is the cyclic interval {x : (x-lo) mod 2^64 < n}, n > 0.
type arc struct {
	lo, n uint64
}

// varDomain is the solution set for one variable: an optional power-of-two
// congruence, an intersection of arcs, and excluded residue classes.
type varDomain struct {
	hasCongruence bool
	cong          congruence

	restricted bool // arcs is meaningful; empty means no solution
	arcs       []arc

	exclusions []congruence
}

func domainOf(doms map[int]*varDomain, x *InputExpr) *varDomain {
	dom := doms[x.ID]
	if dom == nil {
		dom = &varDomain{}
		doms[x.ID] = dom
	}
	return dom
}

// addCongruence intersects a new congruence with the existing one.
// Returns false if the domain becomes empty.
func (d *varDomain) addCongruence(residue uint64, modBits uint) bool {
	if !d.hasCongruence {
		d.hasCongruence = true
		d.cong = congruence{residue: residue, modBits: modBits}
		return true
	}

	// The stricter congruence survives if the looser one agrees on its
	// low bits.
	weak, strong := d.cong, (congruence{residue: residue, modBits: modBits})
	if weak.modBits > strong.modBits {
		weak, strong = strong, weak
	}
	if strong.residue&lowMask(weak.modBits) != weak.residue {
		return false
	}
	d.cong = strong
	return true
}

// addArc intersects a new arc with the allowed set.
// Returns false if the domain becomes empty.
func (d *varDomain) addArc(lo, n uint64) bool {
	if !d.restricted {
		d.restricted = true
		d.arcs = []arc{{lo: lo, n: n}}
		return true
	}

	var next []arc
	for _, a := range d.arcs {
		// Offset of the new arc start within a.
		off := lo - a.lo
		if off < a.n {
			next = append(next, arc{lo: lo, n: min64(a.n-off, n)})
		}
		// Wrapped tail of the new arc, if it passes the ring origin.
		if wrapped := off + n; wrapped < off && wrapped > 0 {
			next = append(next, arc{lo: a.lo, n: min64(wrapped, a.n)})
		}
	}
	d.arcs = next
	return len(next) > 0
}

// excluded returns true if x falls in an excluded residue class.
func (d *varDomain) excluded(x uint64) bool {
	for _, ex := range d.exclusions {
		if x&lowMask(ex.modBits) == ex.residue {
			return true
		}
	}
	return false
}

// solve picks the smallest admissible value, walking congruence-spaced
// candidates through each allowed arc. The found flag reports success;
// definitive reports whether an unsuccessful walk proved emptiness.
func (d *varDomain) solve(maxProbes int) (value uint64, found, definitive bool) {
	base, step := uint64(0), uint64(1)
	if d.hasCongruence {
		base = d.cong.residue
		if d.cong.modBits == 64 {
			// Exactly one candidate.
			if d.contains(base) && !d.excluded(base) {
				return base, true, true
			}
			return 0, false, true
		}
		step = uint64(1) << d.cong.modBits
	}

	if !d.restricted {
		// Unbounded ring; only exclusions can reject candidates, and each
		// rejects at most one candidate per congruence class walk.
		x := base
		for probe := 0; probe <= len(d.exclusions); probe++ {
			if !d.excluded(x) {
				return x, true, true
			}
			x += step
		}
		return 0, false, false
	}

	arcs := append([]arc(nil), d.arcs...)
	sort.Slice(arcs, func(i, j int) bool { return arcs[i].lo < arcs[j].lo })

	probes := 0
	for _, a := range arcs {
		// First candidate at or after the arc start congruent to base.
		x := a.lo + ((base - a.lo) & (step - 1))
		for x-a.lo < a.n {
			if probes++; probes > maxProbes {
				return 0, false, false
			}
			if !d.excluded(x) {
				return x, true, true
			}
			x += step
		}
	}
	return 0, false, true
}

// contains returns true if x lies in the allowed arc set.
func (d *varDomain) contains(x uint64) bool {
	if !d.restricted {
		return true
	}
	for _, a := range d.arcs {
		if x-a.lo < a.n {
			return true
		}
	}
	return false
}

// modInverse64 returns the multiplicative inverse of odd a modulo 2^64
// by Newton iteration, doubling correct low bits each round.
func modInverse64(a uint64) uint64 {
	x := a // correct to 3 bits
	for i := 0; i < 5; i++ {
		x *= 2 - a*x
	}
	return x
}

func lowMask(bitCount uint) uint64 {
	if bitCount >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bitCount) - 1
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
