package golem_test

import (
	"testing"

	"github.com/golem-se/golem"
	"github.com/golem-se/golem/riscu"
)

func TestExecutor_Syscall(t *testing.T) {
	// read() maps one 64-bit input per word and returns the count.
	t.Run("Read", func(t *testing.T) {
		e := NewExecutor(t, asm(
			readInput(8),
			[]uint32{riscu.EncodeADDI(riscu.RegT0, riscu.RegA0, 0)},
			exitZero(),
		)...)

		states := RunTerminal(t, e)
		if got, exp := len(states), 1; got != exp {
			t.Fatalf("len(states)=%d, expected %d", got, exp)
		} else if got, exp := len(states[0].Inputs()), 1; got != exp {
			t.Fatalf("len(Inputs())=%d, expected %d", got, exp)
		} else if c, ok := states[0].Reg(riscu.RegT0).(*golem.ConstantExpr); !ok || c.Value != 8 {
			t.Fatalf("Reg(t0)=%s, expected 8", states[0].Reg(riscu.RegT0))
		} else if _, unmapped := states[0].Mem().FirstUnmapped(uint64(bufAddr), 8); unmapped {
			t.Fatal("expected buffer to be fully mapped")
		}
	})

	// A count below the word size stores only the low bytes of the input.
	t.Run("ReadPartial", func(t *testing.T) {
		e := NewExecutor(t, asm(
			readInput(4),
			[]uint32{riscu.EncodeLD(riscu.RegT1, riscu.RegA1, 0)},
			exitZero(),
		)...)
		e.Uninit = golem.UninitZero

		states := RunTerminal(t, e)
		if got, exp := len(states), 1; got != exp {
			t.Fatalf("len(states)=%d, expected %d", got, exp)
		} else if got, exp := len(states[0].Inputs()), 1; got != exp {
			t.Fatalf("len(Inputs())=%d, expected %d", got, exp)
		} else if _, ok := states[0].Reg(riscu.RegT1).(*golem.ConcatExpr); !ok {
			t.Fatalf("Reg(t1)=%T, expected *golem.ConcatExpr", states[0].Reg(riscu.RegT1))
		} else if addr, unmapped := states[0].Mem().FirstUnmapped(uint64(bufAddr), 8); !unmapped || addr != uint64(bufAddr)+4 {
			t.Fatalf("FirstUnmapped()=%#x,%v, expected %#x", addr, unmapped, uint64(bufAddr)+4)
		}
	})

	// write() validates the buffer range and returns the count.
	t.Run("Write", func(t *testing.T) {
		e := NewExecutor(t, asm(
			[]uint32{
				riscu.EncodeADDI(riscu.RegA1, riscu.RegZero, bufAddr),
				riscu.EncodeADDI(riscu.RegT0, riscu.RegZero, 72),
				riscu.EncodeSD(riscu.RegT0, riscu.RegA1, 0),
				riscu.EncodeADDI(riscu.RegA2, riscu.RegZero, 8),
				riscu.EncodeADDI(riscu.RegA7, riscu.RegZero, 64),
				riscu.EncodeECALL(),
				riscu.EncodeADDI(riscu.RegT1, riscu.RegA0, 0),
			},
			exitZero(),
		)...)

		states := RunTerminal(t, e)
		if got, exp := len(states), 1; got != exp {
			t.Fatalf("len(states)=%d, expected %d", got, exp)
		} else if got, exp := states[0].Status(), golem.ExecutionStatusExited; got != exp {
			t.Fatalf("Status()=%s, expected %s", got, exp)
		} else if c, ok := states[0].Reg(riscu.RegT1).(*golem.ConstantExpr); !ok || c.Value != 8 {
			t.Fatalf("Reg(t1)=%s, expected 8", states[0].Reg(riscu.RegT1))
		}
	})

	// brk() grows the program break but never shrinks it.
	t.Run("Brk", func(t *testing.T) {
		e := NewExecutor(t, asm(
			[]uint32{
				riscu.EncodeLUI(riscu.RegA0, 32), // 0x20000
				riscu.EncodeADDI(riscu.RegA7, riscu.RegZero, 214),
				riscu.EncodeECALL(),
				riscu.EncodeADDI(riscu.RegT0, riscu.RegA0, 0),
				riscu.EncodeLUI(riscu.RegA0, 16), // 0x10000, below the break
				riscu.EncodeECALL(),
				riscu.EncodeADDI(riscu.RegT1, riscu.RegA0, 0),
			},
			exitZero(),
		)...)

		states := RunTerminal(t, e)
		if got, exp := len(states), 1; got != exp {
			t.Fatalf("len(states)=%d, expected %d", got, exp)
		} else if c, ok := states[0].Reg(riscu.RegT0).(*golem.ConstantExpr); !ok || c.Value != 0x20000 {
			t.Fatalf("Reg(t0)=%s, expected %#x", states[0].Reg(riscu.RegT0), 0x20000)
		} else if c, ok := states[0].Reg(riscu.RegT1).(*golem.ConstantExpr); !ok || c.Value != 0x20000 {
			t.Fatalf("Reg(t1)=%s, expected %#x", states[0].Reg(riscu.RegT1), 0x20000)
		}
	})

	// exit() with a symbolic code reports the nonzero witness, then the
	// surviving path is pinned to a successful exit.
	t.Run("ExitSymbolic", func(t *testing.T) {
		e := NewExecutor(t, asm(
			readInput(8),
			[]uint32{
				riscu.EncodeLD(riscu.RegA0, riscu.RegA1, 0),
				riscu.EncodeADDI(riscu.RegA7, riscu.RegZero, 93),
				riscu.EncodeECALL(),
			},
		)...)

		summary := MustRun(t, e)
		if got, exp := len(summary.Faults), 1; got != exp {
			t.Fatalf("len(Faults)=%d, expected %d", got, exp)
		}

		report := summary.Faults[0]
		if got, exp := report.Kind, golem.FaultAssertion; got != exp {
			t.Fatalf("Kind=%s, expected %s", got, exp)
		} else if got, exp := report.PC, entryAddr+24; got != exp {
			t.Fatalf("PC=%#x, expected %#x", got, exp)
		} else if got, exp := report.Witness[0], uint64(1); got != exp {
			t.Fatalf("Witness[0]=%d, expected %d", got, exp)
		}

		states := RunTerminal(t, NewExecutor(t, asm(
			readInput(8),
			[]uint32{
				riscu.EncodeLD(riscu.RegA0, riscu.RegA1, 0),
				riscu.EncodeADDI(riscu.RegA7, riscu.RegZero, 93),
				riscu.EncodeECALL(),
			},
		)...))
		if got, exp := len(states), 1; got != exp {
			t.Fatalf("len(states)=%d, expected %d", got, exp)
		} else if got, exp := states[0].Status(), golem.ExecutionStatusExited; got != exp {
			t.Fatalf("Status()=%s, expected %s", got, exp)
		} else if got, exp := states[0].ExitCode(), uint64(0); got != exp {
			t.Fatalf("ExitCode()=%d, expected %d", got, exp)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		e := NewExecutor(t,
			riscu.EncodeADDI(riscu.RegA7, riscu.RegZero, 500),
			riscu.EncodeECALL(),
		)

		states := RunTerminal(t, e)
		if got, exp := len(states), 1; got != exp {
			t.Fatalf("len(states)=%d, expected %d", got, exp)
		} else if got, exp := states[0].Status(), golem.ExecutionStatusFailed; got != exp {
			t.Fatalf("Status()=%s, expected %s", got, exp)
		} else if got, exp := states[0].Reason(), "unsupported syscall: 500"; got != exp {
			t.Fatalf("Reason()=%q, expected %q", got, exp)
		}
	})

	t.Run("SymbolicNumber", func(t *testing.T) {
		e := NewExecutor(t, asm(
			readInput(8),
			[]uint32{
				riscu.EncodeLD(riscu.RegA7, riscu.RegA1, 0),
				riscu.EncodeECALL(),
			},
		)...)

		states := RunTerminal(t, e)
		if got, exp := len(states), 1; got != exp {
			t.Fatalf("len(states)=%d, expected %d", got, exp)
		} else if got, exp := states[0].Status(), golem.ExecutionStatusFailed; got != exp {
			t.Fatalf("Status()=%s, expected %s", got, exp)
		} else if got, exp := states[0].Reason(), "symbolic syscall number"; got != exp {
			t.Fatalf("Reason()=%q, expected %q", got, exp)
		}
	})
}
