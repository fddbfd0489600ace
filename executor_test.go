package golem_test

import (
	"context"
	"testing"

	"github.com/golem-se/golem"
	"github.com/golem-se/golem/riscu"
)

// Test programs are assembled at entryAddr and take their symbolic input
// through the read syscall into bufAddr.
const (
	entryAddr = uint64(0x10000)
	bufAddr   = int64(1024)
)

// NewExecutor returns an executor over the given instruction words,
// backed by the pure Go linear solver. The programs in these tests keep
// their path conditions inside the linear fragment so no SMT backend is
// required.
func NewExecutor(tb testing.TB, words ...uint32) *golem.Executor {
	tb.Helper()
	e := golem.NewExecutor(MustProgram(tb, words...))
	e.Solver = golem.NewLinearSolver()
	return e
}

// MustProgram decodes raw words at consecutive addresses starting at
// entryAddr and builds a program from them. Fatal on error.
func MustProgram(tb testing.TB, words ...uint32) *riscu.Program {
	tb.Helper()
	instructions := make([]riscu.Instruction, len(words))
	for i, raw := range words {
		inst, err := riscu.Decode(entryAddr+uint64(4*i), raw)
		if err != nil {
			tb.Fatal(err)
		}
		instructions[i] = inst
	}
	prog, err := riscu.NewProgram(entryAddr, instructions, nil)
	if err != nil {
		tb.Fatal(err)
	}
	return prog
}

// MustRun drives the executor until it stops and returns the summary.
func MustRun(tb testing.TB, e *golem.Executor) *golem.RunSummary {
	tb.Helper()
	summary, err := e.Run(context.Background())
	if err != nil {
		tb.Fatal(err)
	}
	return summary
}

// RunTerminal executes every pending state to completion and returns the
// terminal states in the order they finished.
func RunTerminal(tb testing.TB, e *golem.Executor) []*golem.ExecutionState {
	tb.Helper()
	var states []*golem.ExecutionState
	for {
		state, err := e.ExecuteNextState()
		if err == golem.ErrNoStateAvailable {
			return states
		} else if err != nil {
			tb.Fatal(err)
		}
		if state.Terminated() {
			states = append(states, state)
		}
	}
}

// MustWitness solves the state's path condition. Fatal on error.
func MustWitness(tb testing.TB, state *golem.ExecutionState) []uint64 {
	tb.Helper()
	values, err := state.Witness()
	if err != nil {
		tb.Fatal(err)
	}
	return values
}

// readInput returns a prologue that reads n bytes of symbolic input into
// bufAddr. Clobbers a1, a2 & a7; a1 is left pointing at the buffer.
func readInput(n int64) []uint32 {
	return []uint32{
		riscu.EncodeADDI(riscu.RegA1, riscu.RegZero, bufAddr),
		riscu.EncodeADDI(riscu.RegA2, riscu.RegZero, n),
		riscu.EncodeADDI(riscu.RegA7, riscu.RegZero, 63),
		riscu.EncodeECALL(),
	}
}

// exitZero returns an epilogue that exits with status zero.
func exitZero() []uint32 {
	return []uint32{
		riscu.EncodeADDI(riscu.RegA0, riscu.RegZero, 0),
		riscu.EncodeADDI(riscu.RegA7, riscu.RegZero, 93),
		riscu.EncodeECALL(),
	}
}

// asm flattens instruction groups into a single stream.
func asm(groups ...[]uint32) []uint32 {
	var words []uint32
	for _, group := range groups {
		words = append(words, group...)
	}
	return words
}
