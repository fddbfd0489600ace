package golem_test

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/golem-se/golem"
	"github.com/golem-se/golem/riscu"
)

func TestExecutor_DivisionByZero(t *testing.T) {
	// Dividing by a free symbolic divisor reports the zero divisor once
	// and keeps exploring the nonzero side.
	t.Run("FreeDivisor", func(t *testing.T) {
		e := NewExecutor(t, asm(
			readInput(8),
			[]uint32{
				riscu.EncodeLD(riscu.RegT0, riscu.RegA1, 0),
				riscu.EncodeADDI(riscu.RegT1, riscu.RegZero, 7),
				riscu.EncodeDIVU(riscu.RegT2, riscu.RegT1, riscu.RegT0),
			},
			exitZero(),
		)...)

		summary := MustRun(t, e)
		if got, exp := len(summary.Faults), 1; got != exp {
			t.Fatalf("len(Faults)=%d, expected %d:\n%s", got, exp, spew.Sdump(summary.Faults))
		}

		report := summary.Faults[0]
		if got, exp := report.Kind, golem.FaultDivisionByZero; got != exp {
			t.Fatalf("Kind=%s, expected %s", got, exp)
		} else if got, exp := report.PC, entryAddr+24; got != exp {
			t.Fatalf("PC=%#x, expected %#x", got, exp)
		} else if got, exp := len(report.Witness), 1; got != exp {
			t.Fatalf("len(Witness)=%d, expected %d", got, exp)
		} else if got, exp := report.Witness[0], uint64(0); got != exp {
			t.Fatalf("Witness[0]=%d, expected %d", got, exp)
		} else if got, exp := report.Confidence, golem.ConfidenceHigh; got != exp {
			t.Fatalf("Confidence=%s, expected %s", got, exp)
		} else if got, exp := report.PathLength, 7; got != exp {
			t.Fatalf("PathLength=%d, expected %d", got, exp)
		}

		// The nonzero side continues to a clean exit.
		if got, exp := summary.Explored, 1; got != exp {
			t.Fatalf("Explored=%d, expected %d", got, exp)
		} else if got, exp := summary.Steps, 10; got != exp {
			t.Fatalf("Steps=%d, expected %d", got, exp)
		} else if got, exp := summary.Reason, golem.TerminationExhausted; got != exp {
			t.Fatalf("Reason=%s, expected %s", got, exp)
		}
	})

	// Same divisor through remu.
	t.Run("Remainder", func(t *testing.T) {
		e := NewExecutor(t, asm(
			readInput(8),
			[]uint32{
				riscu.EncodeLD(riscu.RegT0, riscu.RegA1, 0),
				riscu.EncodeADDI(riscu.RegT1, riscu.RegZero, 7),
				riscu.EncodeREMU(riscu.RegT2, riscu.RegT1, riscu.RegT0),
			},
			exitZero(),
		)...)

		summary := MustRun(t, e)
		if got, exp := len(summary.Faults), 1; got != exp {
			t.Fatalf("len(Faults)=%d, expected %d:\n%s", got, exp, spew.Sdump(summary.Faults))
		} else if got, exp := summary.Faults[0].Kind, golem.FaultDivisionByZero; got != exp {
			t.Fatalf("Kind=%s, expected %s", got, exp)
		} else if got, exp := summary.Faults[0].Witness[0], uint64(0); got != exp {
			t.Fatalf("Witness[0]=%d, expected %d", got, exp)
		}
	})

	// A path whose condition pins the divisor to zero has no fault-free
	// continuation and terminates as faulted; the sibling path stays clean.
	t.Run("PinnedDivisor", func(t *testing.T) {
		e := NewExecutor(t, asm(
			readInput(8),
			[]uint32{
				riscu.EncodeLD(riscu.RegT0, riscu.RegA1, 0),
				riscu.EncodeADDI(riscu.RegT1, riscu.RegZero, 7),
				riscu.EncodeBEQ(riscu.RegT0, riscu.RegZero, 8),
				riscu.EncodeJAL(riscu.RegZero, 8),
				riscu.EncodeDIVU(riscu.RegT2, riscu.RegT1, riscu.RegT0),
			},
			exitZero(),
		)...)

		states := RunTerminal(t, e)
		if got, exp := len(states), 2; got != exp {
			t.Fatalf("len(states)=%d, expected %d", got, exp)
		}

		// Depth-first order explores the taken (zero divisor) side first.
		if got, exp := states[0].Status(), golem.ExecutionStatusFaulted; got != exp {
			t.Fatalf("states[0].Status()=%s, expected %s", got, exp)
		} else if fault := states[0].Fault(); fault == nil {
			t.Fatal("states[0].Fault() is nil")
		} else if got, exp := fault.Witness[0], uint64(0); got != exp {
			t.Fatalf("Witness[0]=%d, expected %d", got, exp)
		}

		if got, exp := states[1].Status(), golem.ExecutionStatusExited; got != exp {
			t.Fatalf("states[1].Status()=%s, expected %s", got, exp)
		} else if got, exp := states[1].ExitCode(), uint64(0); got != exp {
			t.Fatalf("states[1].ExitCode()=%d, expected %d", got, exp)
		}
	})

	// With the division class disabled the architectural results apply:
	// division by zero yields all ones, remainder yields the dividend.
	t.Run("Architectural", func(t *testing.T) {
		e := NewExecutor(t, asm(
			[]uint32{
				riscu.EncodeADDI(riscu.RegT1, riscu.RegZero, 7),
				riscu.EncodeDIVU(riscu.RegT2, riscu.RegT1, riscu.RegZero),
				riscu.EncodeADDI(riscu.RegT3, riscu.RegZero, -1),
				riscu.EncodeBEQ(riscu.RegT2, riscu.RegT3, 16),
				riscu.EncodeADDI(riscu.RegA0, riscu.RegZero, 1),
				riscu.EncodeADDI(riscu.RegA7, riscu.RegZero, 93),
				riscu.EncodeECALL(),
				riscu.EncodeREMU(riscu.RegT4, riscu.RegT1, riscu.RegZero),
				riscu.EncodeADDI(riscu.RegT5, riscu.RegZero, 7),
				riscu.EncodeBEQ(riscu.RegT4, riscu.RegT5, 16),
				riscu.EncodeADDI(riscu.RegA0, riscu.RegZero, 2),
				riscu.EncodeADDI(riscu.RegA7, riscu.RegZero, 93),
				riscu.EncodeECALL(),
			},
			exitZero(),
		)...)
		e.Faults = golem.FaultSet{golem.FaultAssertion: true}

		summary := MustRun(t, e)
		if got, exp := len(summary.Faults), 0; got != exp {
			t.Fatalf("len(Faults)=%d, expected %d:\n%s", got, exp, spew.Sdump(summary.Faults))
		} else if got, exp := summary.Explored, 1; got != exp {
			t.Fatalf("Explored=%d, expected %d", got, exp)
		} else if got, exp := summary.Steps, 10; got != exp {
			t.Fatalf("Steps=%d, expected %d", got, exp)
		}
	})
}
