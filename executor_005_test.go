package golem_test

import (
	"testing"

	"github.com/golem-se/golem"
	"github.com/golem-se/golem/riscu"
	"github.com/google/go-cmp/cmp"
)

// buildChain returns a program that reads n words and runs one branch
// diamond per word, comparing word k against k+1. The fall-through arm of
// the first diamond divides by the zero register; every later arm is a
// plain marker instruction. A depth-first walk pops taken sides first, so
// the faulting arm sits at the very bottom of its stack while smarter
// strategies can pick it on the first fork.
func buildChain(n int64) []uint32 {
	words := readInput(8 * n)
	for k := int64(0); k < n; k++ {
		words = append(words,
			riscu.EncodeLD(riscu.RegT0, riscu.RegA1, 8*k),
			riscu.EncodeADDI(riscu.RegT1, riscu.RegZero, k+1),
			riscu.EncodeBEQ(riscu.RegT0, riscu.RegT1, 8),
		)
		if k == 0 {
			words = append(words, riscu.EncodeDIVU(riscu.RegT3, riscu.RegT1, riscu.RegZero))
		} else {
			words = append(words, riscu.EncodeADDI(riscu.RegS0, riscu.RegZero, 1))
		}
	}
	return append(words, exitZero()...)
}

func TestExecutor_Searcher(t *testing.T) {
	// Depth-first search commits to the taken subtree and burns the whole
	// step budget before the fault arm surfaces.
	t.Run("DFSBudget", func(t *testing.T) {
		e := NewExecutor(t, buildChain(10)...)
		e.MaxSteps = 300

		summary := MustRun(t, e)
		if got, exp := summary.Reason, golem.TerminationStepBudget; got != exp {
			t.Fatalf("Reason=%s, expected %s", got, exp)
		} else if got, exp := len(summary.Faults), 0; got != exp {
			t.Fatalf("len(Faults)=%d, expected %d", got, exp)
		}
	})

	// Without a budget the depth-first walk still finds the fault, after
	// exhausting every rejoining path above it.
	t.Run("DFSExhaustive", func(t *testing.T) {
		e := NewExecutor(t, buildChain(4)...)

		summary := MustRun(t, e)
		if got, exp := summary.Reason, golem.TerminationExhausted; got != exp {
			t.Fatalf("Reason=%s, expected %s", got, exp)
		} else if got, exp := summary.Explored, 9; got != exp {
			t.Fatalf("Explored=%d, expected %d", got, exp)
		} else if got, exp := len(summary.Faults), 1; got != exp {
			t.Fatalf("len(Faults)=%d, expected %d", got, exp)
		}

		report := summary.Faults[0]
		if got, exp := report.Kind, golem.FaultDivisionByZero; got != exp {
			t.Fatalf("Kind=%s, expected %s", got, exp)
		} else if got, exp := report.PC, entryAddr+28; got != exp {
			t.Fatalf("PC=%#x, expected %#x", got, exp)
		}
		if diff := cmp.Diff([]uint64{0, 0, 0, 0}, report.Witness); diff != "" {
			t.Fatalf("unexpected witness: %s", diff)
		}
	})

	// The rarity searcher scores the fault arm and the next diamond both
	// as unvisited, so the lower state ID wins and the fault is reached in
	// a handful of steps under every averaging mode.
	t.Run("Rarity", func(t *testing.T) {
		for _, mean := range []golem.MeanKind{golem.MeanArithmetic, golem.MeanHarmonic, golem.MeanGeometric} {
			t.Run(string(mean), func(t *testing.T) {
				e := NewExecutor(t, buildChain(10)...)
				e.Searcher = golem.NewRaritySearcher(e, mean)
				e.HaltOnFault = true

				summary := MustRun(t, e)
				if got, exp := summary.Reason, golem.TerminationHalted; got != exp {
					t.Fatalf("Reason=%s, expected %s", got, exp)
				} else if got, exp := len(summary.Faults), 1; got != exp {
					t.Fatalf("len(Faults)=%d, expected %d", got, exp)
				} else if got, exp := summary.Faults[0].Kind, golem.FaultDivisionByZero; got != exp {
					t.Fatalf("Kind=%s, expected %s", got, exp)
				} else if got, exp := summary.Steps, 8; got != exp {
					t.Fatalf("Steps=%d, expected %d", got, exp)
				}
			})
		}
	})

	t.Run("Coverage", func(t *testing.T) {
		e := NewExecutor(t, buildChain(10)...)
		e.Searcher = golem.NewCoverageSearcher()
		e.HaltOnFault = true

		summary := MustRun(t, e)
		if got, exp := summary.Reason, golem.TerminationHalted; got != exp {
			t.Fatalf("Reason=%s, expected %s", got, exp)
		} else if got, exp := len(summary.Faults), 1; got != exp {
			t.Fatalf("len(Faults)=%d, expected %d", got, exp)
		} else if got, exp := summary.Steps, 8; got != exp {
			t.Fatalf("Steps=%d, expected %d", got, exp)
		}
	})

	t.Run("BFS", func(t *testing.T) {
		e := NewExecutor(t, buildChain(10)...)
		e.Searcher = golem.NewBFSSearcher()
		e.HaltOnFault = true

		summary := MustRun(t, e)
		if got, exp := summary.Reason, golem.TerminationHalted; got != exp {
			t.Fatalf("Reason=%s, expected %s", got, exp)
		} else if got, exp := len(summary.Faults), 1; got != exp {
			t.Fatalf("len(Faults)=%d, expected %d", got, exp)
		} else if got, exp := summary.Steps, 8; got != exp {
			t.Fatalf("Steps=%d, expected %d", got, exp)
		}
	})
}
