package golem_test

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/golem-se/golem"
	"github.com/golem-se/golem/riscu"
)

func TestExecutor_Overflow(t *testing.T) {
	// Adding a constant to a free input wraps for the top values.
	t.Run("Add", func(t *testing.T) {
		summary := MustRun(t, NewExecutor(t, asm(
			readInput(8),
			[]uint32{
				riscu.EncodeLD(riscu.RegT0, riscu.RegA1, 0),
				riscu.EncodeADDI(riscu.RegT1, riscu.RegZero, 2047),
				riscu.EncodeADD(riscu.RegT2, riscu.RegT0, riscu.RegT1),
			},
			exitZero(),
		)...))

		if got, exp := len(summary.Faults), 1; got != exp {
			t.Fatalf("len(Faults)=%d, expected %d:\n%s", got, exp, spew.Sdump(summary.Faults))
		}

		// The smallest wrapping input is 2^64-2047.
		report := summary.Faults[0]
		if got, exp := report.Kind, golem.FaultOverflow; got != exp {
			t.Fatalf("Kind=%s, expected %s", got, exp)
		} else if got, exp := report.PC, entryAddr+24; got != exp {
			t.Fatalf("PC=%#x, expected %#x", got, exp)
		} else if got, exp := report.Witness[0], ^uint64(0)-2046; got != exp {
			t.Fatalf("Witness[0]=%d, expected %d", got, exp)
		} else if got, exp := report.Confidence, golem.ConfidenceHigh; got != exp {
			t.Fatalf("Confidence=%s, expected %s", got, exp)
		}

		// The non-wrapping side exits cleanly.
		if got, exp := summary.Explored, 1; got != exp {
			t.Fatalf("Explored=%d, expected %d", got, exp)
		} else if got, exp := summary.Steps, 10; got != exp {
			t.Fatalf("Steps=%d, expected %d", got, exp)
		}
	})

	// Subtracting a free input from a constant wraps as soon as the input
	// exceeds it.
	t.Run("Sub", func(t *testing.T) {
		summary := MustRun(t, NewExecutor(t, asm(
			readInput(8),
			[]uint32{
				riscu.EncodeLD(riscu.RegT0, riscu.RegA1, 0),
				riscu.EncodeADDI(riscu.RegT1, riscu.RegZero, 100),
				riscu.EncodeSUB(riscu.RegT2, riscu.RegT1, riscu.RegT0),
			},
			exitZero(),
		)...))

		if got, exp := len(summary.Faults), 1; got != exp {
			t.Fatalf("len(Faults)=%d, expected %d:\n%s", got, exp, spew.Sdump(summary.Faults))
		} else if got, exp := summary.Faults[0].Kind, golem.FaultOverflow; got != exp {
			t.Fatalf("Kind=%s, expected %s", got, exp)
		} else if got, exp := summary.Faults[0].Witness[0], uint64(101); got != exp {
			t.Fatalf("Witness[0]=%d, expected %d", got, exp)
		}
	})

	// The multiplication wrap predicate divides the product back out,
	// which the linear solver cannot decide. Under the default unknown
	// policy that yields a low confidence report without a witness and the
	// path continues flagged.
	t.Run("MulUnknown", func(t *testing.T) {
		words := asm(
			readInput(8),
			[]uint32{
				riscu.EncodeLD(riscu.RegT0, riscu.RegA1, 0),
				riscu.EncodeADDI(riscu.RegT1, riscu.RegZero, 3),
				riscu.EncodeMUL(riscu.RegT2, riscu.RegT0, riscu.RegT1),
			},
			exitZero(),
		)

		summary := MustRun(t, NewExecutor(t, words...))
		if got, exp := len(summary.Faults), 1; got != exp {
			t.Fatalf("len(Faults)=%d, expected %d:\n%s", got, exp, spew.Sdump(summary.Faults))
		} else if got, exp := summary.Faults[0].Kind, golem.FaultOverflow; got != exp {
			t.Fatalf("Kind=%s, expected %s", got, exp)
		} else if got, exp := summary.Faults[0].Confidence, golem.ConfidenceLow; got != exp {
			t.Fatalf("Confidence=%s, expected %s", got, exp)
		} else if got, exp := len(summary.Faults[0].Witness), 0; got != exp {
			t.Fatalf("len(Witness)=%d, expected %d", got, exp)
		}

		states := RunTerminal(t, NewExecutor(t, words...))
		if got, exp := len(states), 1; got != exp {
			t.Fatalf("len(states)=%d, expected %d", got, exp)
		} else if got, exp := states[0].Status(), golem.ExecutionStatusExited; got != exp {
			t.Fatalf("Status()=%s, expected %s", got, exp)
		} else if !states[0].LowConfidence() {
			t.Fatal("expected low confidence state")
		}
	})
}
