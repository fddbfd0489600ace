package golem

import (
	"fmt"
	"strings"
	"time"

	"github.com/golem-se/golem/riscu"
)

// FaultKind classifies a detected fault.
type FaultKind string

const (
	FaultDivisionByZero = FaultKind("division-by-zero")
	FaultOverflow       = FaultKind("overflow")
	FaultOutOfBounds    = FaultKind("out-of-bounds")
	FaultUnaligned      = FaultKind("unaligned-access")
	FaultAssertion      = FaultKind("assertion")
)

// Confidence qualifies how trustworthy a fault report is. A report is low
// confidence if its path admitted a constraint on an unknown solver verdict.
type Confidence string

const (
	ConfidenceHigh = Confidence("high")
	ConfidenceLow  = Confidence("low")
)

// FaultReport describes a single detected fault together with concrete
// input values that reach it.
type FaultReport struct {
	Kind       FaultKind
	PC         uint64
	Inst       riscu.Instruction
	StateID    int
	PathLength int      // instructions retired to reach the fault
	Witness    []uint64 // one value per input, indexed by input ID
	Confidence Confidence
}

// String returns a one-line description of the fault.
func (r *FaultReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s at %#x: %s path=%d", r.Kind, r.PC, riscu.Disassemble(r.Inst), r.PathLength)
	if len(r.Witness) > 0 {
		parts := make([]string, len(r.Witness))
		for i, v := range r.Witness {
			parts[i] = fmt.Sprintf("x%d=%d", i, v)
		}
		fmt.Fprintf(&sb, " witness=[%s]", strings.Join(parts, " "))
	}
	if r.Confidence == ConfidenceLow {
		sb.WriteString(" confidence=low")
	}
	return sb.String()
}

// TerminationReason explains why a run stopped.
type TerminationReason string

const (
	TerminationExhausted   = TerminationReason("search-exhausted")
	TerminationStepBudget  = TerminationReason("step-budget")
	TerminationStateBudget = TerminationReason("state-budget")
	TerminationDeadline    = TerminationReason("deadline")
	TerminationHalted      = TerminationReason("halted-on-fault")
	TerminationCanceled    = TerminationReason("canceled")
)

// RunSummary aggregates the outcome of a run. Faults are listed in
// detection order.
type RunSummary struct {
	Faults []*FaultReport

	Explored   int // terminal states reached
	Pruned     int // infeasible branch sides discarded
	Invariants int // states dropped on an inconsistent path condition
	Steps      int // instructions retired across all paths

	Solver   SolverStats
	Reason   TerminationReason
	Duration time.Duration
}

// String returns a one-line summary.
func (s *RunSummary) String() string {
	return fmt.Sprintf("explored=%d pruned=%d invariants=%d steps=%d faults=%d queries=%d hit-rate=%.1f%% reason=%s elapsed=%s",
		s.Explored, s.Pruned, s.Invariants, s.Steps, len(s.Faults),
		s.Solver.Queries, 100*s.Solver.HitRate(), s.Reason, s.Duration.Round(time.Millisecond))
}
