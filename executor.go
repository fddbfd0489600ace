package golem

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/aclements/go-moremath/stats"
	"github.com/golem-se/golem/riscu"
	"golang.org/x/tools/container/intsets"
)

var (
	ErrNoStateAvailable = errors.New("golem: no state available")
	ErrSolverRequired   = errors.New("golem: solver required")
)

// Default executor settings.
const (
	DefaultMemorySize      = uint64(1 << 20)
	DefaultMaxSymbolicSpan = uint64(256)
)

// Syscall numbers follow the riscv64 Linux ABI.
const (
	sysRead  = 63
	sysWrite = 64
	sysExit  = 93
	sysBrk   = 214
)

// MemoryModel selects how symbolic addresses are handled.
type MemoryModel string

const (
	// MemoryModelConcretize pins a symbolic address to one admissible
	// value and records the equality on the path.
	MemoryModelConcretize = MemoryModel("concretize")

	// MemoryModelIte keeps the address symbolic and guards every mapped
	// word within a bounded span around an admissible value.
	MemoryModelIte = MemoryModel("ite")
)

// UninitModel selects what a read of unwritten memory yields.
type UninitModel string

const (
	UninitSymbolic = UninitModel("symbolic") // fresh symbolic byte
	UninitZero     = UninitModel("zero")     // zero byte
	UninitTrap     = UninitModel("trap")     // terminate the state
)

// FaultSet selects which fault classes are checked.
type FaultSet map[FaultKind]bool

// DefaultFaults returns a set with every fault class enabled.
func DefaultFaults() FaultSet {
	return FaultSet{
		FaultDivisionByZero: true,
		FaultOverflow:       true,
		FaultOutOfBounds:    true,
		FaultUnaligned:      true,
		FaultAssertion:      true,
	}
}

// Has returns true if kind is enabled.
func (s FaultSet) Has(kind FaultKind) bool { return s[kind] }

type faultSite struct {
	kind FaultKind
	pc   uint64
}

type Executor struct {
	prog *riscu.Program  // program under test
	root *ExecutionState // initial state

	stateIDSeq  int
	initialized bool
	halted      bool

	// Per-run block entry counts, indexed by CFG block.
	visits []int

	// Reported fault sites, used to report each (kind, pc) pair once.
	faultSites map[faultSite]bool

	summary RunSummary

	// Used for solving path conditions.
	// Must set before execution.
	Solver Solver

	// Search strategy for the executor. Defaults to depth-first.
	Searcher Searcher

	// Size of the flat address space in bytes. Accesses at or beyond this
	// limit are out of bounds.
	MemorySize uint64

	// Symbolic address handling and uninitialized read policy.
	MemoryModel MemoryModel
	Uninit      UninitModel

	// Span of bytes considered around an admissible address when building
	// guarded loads and stores under MemoryModelIte.
	MaxSymbolicSpan uint64

	// Fault classes to check for.
	Faults FaultSet

	// Treat unknown solver verdicts as feasible. Paths and reports built
	// on an unknown verdict are marked low confidence.
	UnknownIsFeasible bool

	// Stop the run at the first reported fault.
	HaltOnFault bool

	// Budgets. Zero means unlimited.
	MaxSteps  int
	MaxStates int
	Deadline  time.Duration
}

// NewExecutor returns a new instance of Executor for a loaded program.
func NewExecutor(prog *riscu.Program) *Executor {
	e := &Executor{
		prog:       prog,
		faultSites: make(map[faultSite]bool),

		Searcher:          NewDFSSearcher(),
		MemorySize:        DefaultMemorySize,
		MemoryModel:       MemoryModelConcretize,
		Uninit:            UninitSymbolic,
		MaxSymbolicSpan:   DefaultMaxSymbolicSpan,
		Faults:            DefaultFaults(),
		UnknownIsFeasible: true,
	}

	// Initialize entry state.
	e.root = NewExecutionState(e)
	e.root.id = e.nextStateID()

	return e
}

// Program returns the program under test.
func (e *Executor) Program() *riscu.Program { return e.prog }

// RootState returns the initial state for the program execution.
func (e *Executor) RootState() *ExecutionState { return e.root }

// nextStateID returns the next autoincrementing state ID.
func (e *Executor) nextStateID() int {
	e.stateIDSeq++
	return e.stateIDSeq
}

// init validates the configuration and sets up the entry state.
// Called once before the first instruction executes.
func (e *Executor) init() error {
	if e.initialized {
		return nil
	}

	if e.Solver == nil {
		return ErrSolverRequired
	}
	for _, seg := range e.prog.Segments {
		if end := seg.Addr + uint64(len(seg.Data)); end > e.MemorySize {
			return fmt.Errorf("golem: memory size %d too small for segment ending at %#x", e.MemorySize, end)
		}
	}
	e.initialized = true

	e.visits = make([]int, len(e.prog.CFG.Blocks))

	// Map the program image and position the entry state: pc at the entry
	// point, stack pointer at the top of memory, break above the image.
	s := e.root
	s.pc = e.prog.Entry
	brk := uint64(0)
	for _, seg := range e.prog.Segments {
		s.mem = s.mem.WriteBytes(seg.Addr, seg.Data)
		if end := seg.Addr + uint64(len(seg.Data)); end > brk {
			brk = end
		}
	}
	s.brk = (brk + 0xfff) &^ uint64(0xfff)
	sp := e.MemorySize - 8
	s.SetReg(riscu.RegSP, NewConstantExpr64(sp))

	log.Printf("[state] begin: pc=%#x sp=%#x brk=%#x blocks=%d", s.pc, sp, s.brk, len(e.prog.CFG.Blocks))

	e.Searcher.AddState(s)
	return nil
}

// Run drives the searcher until it is exhausted, a budget is hit, or ctx
// is canceled. Returns the aggregated summary of the run.
func (e *Executor) Run(ctx context.Context) (*RunSummary, error) {
	if err := e.init(); err != nil {
		return nil, err
	}

	start := time.Now()
	reason := TerminationExhausted
	for {
		if ctx.Err() != nil {
			reason = TerminationCanceled
			break
		} else if e.Deadline > 0 && time.Since(start) >= e.Deadline {
			reason = TerminationDeadline
			break
		} else if e.MaxSteps > 0 && e.summary.Steps >= e.MaxSteps {
			reason = TerminationStepBudget
			break
		} else if e.MaxStates > 0 && e.stateIDSeq >= e.MaxStates {
			reason = TerminationStateBudget
			break
		}

		if _, err := e.ExecuteNextState(); err == ErrNoStateAvailable {
			break
		} else if err != nil {
			return nil, err
		}

		if e.halted {
			reason = TerminationHalted
			break
		}
	}

	e.summary.Reason = reason
	e.summary.Duration = time.Since(start)
	if solver, ok := e.Solver.(interface{ Stats() SolverStats }); ok {
		e.summary.Solver = solver.Stats()
	}
	log.Printf("[state] done: %s", &e.summary)

	summary := e.summary
	return &summary, nil
}

// ExecuteNextState selects a state and advances it by a single instruction.
// Forked children are handed to the searcher as they appear and the state
// itself is re-added while it keeps running. This can be called continually
// until ErrNoStateAvailable is returned.
func (e *Executor) ExecuteNextState() (*ExecutionState, error) {
	if err := e.init(); err != nil {
		return nil, err
	}

	state := e.Searcher.SelectState()
	if state == nil {
		return nil, ErrNoStateAvailable
	}

	if err := e.executeNextInstruction(state); err != nil {
		return state, err
	}

	if state.Terminated() {
		e.summary.Explored++
	} else if !state.Forked() {
		e.Searcher.AddState(state)
	}
	return state, nil
}

func (e *Executor) executeNextInstruction(state *ExecutionState) error {
	inst := e.prog.At(state.pc)
	if inst == nil {
		log.Printf("[state] #%d no instruction at pc=%#x", state.id, state.pc)
		state.status, state.reason = ExecutionStatusFailed, fmt.Sprintf("no instruction at pc %#x", state.pc)
		return nil
	}

	log.Printf("[exec] #%d %8x: %s", state.id, inst.Addr, riscu.Disassemble(*inst))

	// Count block entries for the coverage and rarity searchers.
	if b := e.prog.CFG.BlockAt(inst.Addr); b != nil && b.First == e.prog.IndexOf(inst.Addr) {
		e.visits[b.Index]++
	}

	e.summary.Steps++
	state.depth++

	switch inst.Op {
	case riscu.OpLUI:
		return e.executeLUI(state, inst)
	case riscu.OpADDI:
		return e.executeADDI(state, inst)
	case riscu.OpLD:
		return e.executeLD(state, inst)
	case riscu.OpSD:
		return e.executeSD(state, inst)
	case riscu.OpADD:
		return e.executeADD(state, inst)
	case riscu.OpSUB:
		return e.executeSUB(state, inst)
	case riscu.OpMUL:
		return e.executeMUL(state, inst)
	case riscu.OpDIVU:
		return e.executeDIVU(state, inst)
	case riscu.OpREMU:
		return e.executeREMU(state, inst)
	case riscu.OpSLTU:
		return e.executeSLTU(state, inst)
	case riscu.OpBEQ:
		return e.executeBEQ(state, inst)
	case riscu.OpJAL:
		return e.executeJAL(state, inst)
	case riscu.OpJALR:
		return e.executeJALR(state, inst)
	case riscu.OpECALL:
		return e.executeECALL(state, inst)
	default:
		return fmt.Errorf("golem: illegal instruction at %#x", inst.Addr)
	}
}

func (e *Executor) executeLUI(state *ExecutionState, inst *riscu.Instruction) error {
	state.SetReg(inst.Rd, NewConstantExpr64(uint64(inst.Imm)))
	state.pc += 4
	return nil
}

func (e *Executor) executeADDI(state *ExecutionState, inst *riscu.Instruction) error {
	state.SetReg(inst.Rd, NewBinaryExpr(ADD, state.Reg(inst.Rs1), NewConstantExpr64(uint64(inst.Imm))))
	state.pc += 4
	return nil
}

func (e *Executor) executeLD(state *ExecutionState, inst *riscu.Instruction) error {
	addr := NewBinaryExpr(ADD, state.Reg(inst.Rs1), NewConstantExpr64(uint64(inst.Imm)))
	if terminated, err := e.checkAccess(state, inst, addr); terminated || err != nil {
		return err
	}
	value, terminated, err := e.loadWord(state, addr)
	if terminated || err != nil {
		return err
	}
	state.SetReg(inst.Rd, value)
	state.pc += 4
	return nil
}

func (e *Executor) executeSD(state *ExecutionState, inst *riscu.Instruction) error {
	addr := NewBinaryExpr(ADD, state.Reg(inst.Rs1), NewConstantExpr64(uint64(inst.Imm)))
	if terminated, err := e.checkAccess(state, inst, addr); terminated || err != nil {
		return err
	}
	if terminated, err := e.storeWord(state, addr, state.Reg(inst.Rs2)); terminated || err != nil {
		return err
	}
	state.pc += 4
	return nil
}

func (e *Executor) executeADD(state *ExecutionState, inst *riscu.Instruction) error {
	lhs, rhs := state.Reg(inst.Rs1), state.Reg(inst.Rs2)
	sum := NewBinaryExpr(ADD, lhs, rhs)
	if e.Faults.Has(FaultOverflow) {
		// Wrap-around occurred iff the sum is less than an operand.
		pred := NewBinaryExpr(ULT, sum, lhs)
		if terminated, err := e.checkFault(state, FaultOverflow, inst, pred); terminated || err != nil {
			return err
		}
	}
	state.SetReg(inst.Rd, sum)
	state.pc += 4
	return nil
}

func (e *Executor) executeSUB(state *ExecutionState, inst *riscu.Instruction) error {
	lhs, rhs := state.Reg(inst.Rs1), state.Reg(inst.Rs2)
	if e.Faults.Has(FaultOverflow) {
		// Wrap-around occurred iff the subtrahend exceeds the minuend.
		pred := NewBinaryExpr(ULT, lhs, rhs)
		if terminated, err := e.checkFault(state, FaultOverflow, inst, pred); terminated || err != nil {
			return err
		}
	}
	state.SetReg(inst.Rd, NewBinaryExpr(SUB, lhs, rhs))
	state.pc += 4
	return nil
}

func (e *Executor) executeMUL(state *ExecutionState, inst *riscu.Instruction) error {
	lhs, rhs := state.Reg(inst.Rs1), state.Reg(inst.Rs2)
	product := NewBinaryExpr(MUL, lhs, rhs)
	if e.Faults.Has(FaultOverflow) {
		// Wrap-around occurred iff dividing the product back out does not
		// recover the multiplicand.
		pred := NewBinaryExpr(AND,
			NewNotExpr(NewBinaryExpr(EQ, rhs, NewConstantExpr64(0))),
			NewNotExpr(NewBinaryExpr(EQ, NewBinaryExpr(UDIV, product, rhs), lhs)))
		if terminated, err := e.checkFault(state, FaultOverflow, inst, pred); terminated || err != nil {
			return err
		}
	}
	state.SetReg(inst.Rd, product)
	state.pc += 4
	return nil
}

func (e *Executor) executeDIVU(state *ExecutionState, inst *riscu.Instruction) error {
	lhs, rhs := state.Reg(inst.Rs1), state.Reg(inst.Rs2)

	if e.Faults.Has(FaultDivisionByZero) {
		pred := NewBinaryExpr(EQ, rhs, NewConstantExpr64(0))
		if terminated, err := e.checkFault(state, FaultDivisionByZero, inst, pred); terminated || err != nil {
			return err
		}
		// The surviving path has rhs != 0.
		state.SetReg(inst.Rd, NewBinaryExpr(UDIV, lhs, rhs))
	} else {
		// Architectural semantics: division by zero yields all ones.
		state.SetReg(inst.Rd, NewIteExpr(
			NewBinaryExpr(EQ, rhs, NewConstantExpr64(0)),
			NewConstantExpr64(^uint64(0)),
			NewBinaryExpr(UDIV, lhs, rhs)))
	}
	state.pc += 4
	return nil
}

func (e *Executor) executeREMU(state *ExecutionState, inst *riscu.Instruction) error {
	lhs, rhs := state.Reg(inst.Rs1), state.Reg(inst.Rs2)

	if e.Faults.Has(FaultDivisionByZero) {
		pred := NewBinaryExpr(EQ, rhs, NewConstantExpr64(0))
		if terminated, err := e.checkFault(state, FaultDivisionByZero, inst, pred); terminated || err != nil {
			return err
		}
		state.SetReg(inst.Rd, NewBinaryExpr(UREM, lhs, rhs))
	} else {
		// Architectural semantics: remainder by zero yields the dividend.
		state.SetReg(inst.Rd, NewIteExpr(
			NewBinaryExpr(EQ, rhs, NewConstantExpr64(0)),
			lhs,
			NewBinaryExpr(UREM, lhs, rhs)))
	}
	state.pc += 4
	return nil
}

func (e *Executor) executeSLTU(state *ExecutionState, inst *riscu.Instruction) error {
	cond := NewBinaryExpr(ULT, state.Reg(inst.Rs1), state.Reg(inst.Rs2))
	state.SetReg(inst.Rd, newZExtExpr(cond, Width64))
	state.pc += 4
	return nil
}

func (e *Executor) executeBEQ(state *ExecutionState, inst *riscu.Instruction) error {
	cond := NewBinaryExpr(EQ, state.Reg(inst.Rs1), state.Reg(inst.Rs2))

	// A concrete condition picks its side directly; nothing is recorded.
	if cond, ok := cond.(*ConstantExpr); ok {
		if cond.IsTrue() {
			state.pc = inst.Target()
		} else {
			state.pc += 4
		}
		return nil
	}

	notCond := NewNotExpr(cond)

	// Test each side independently against the path condition.
	takenVerdict, _, err := e.Solver.Solve(append(state.constraints, cond), state.inputs)
	if err != nil {
		return err
	}
	notVerdict, _, err := e.Solver.Solve(append(state.constraints, notCond), state.inputs)
	if err != nil {
		return err
	}

	takenOK, notOK := e.feasible(takenVerdict), e.feasible(notVerdict)
	switch {
	case takenOK && notOK:
		log.Printf("[fork] #%d beq %#x: both sides feasible", state.id, inst.Addr)
		child := state.Fork(notCond)
		child.pc = inst.Addr + 4
		if notVerdict == VerdictUnknown {
			child.lowConfidence = true
		}
		e.Searcher.AddState(child)

		child = state.Fork(cond)
		child.pc = inst.Target()
		if takenVerdict == VerdictUnknown {
			child.lowConfidence = true
		}
		e.Searcher.AddState(child)

	case takenOK:
		log.Printf("[fork] #%d beq %#x: taken only", state.id, inst.Addr)
		e.summary.Pruned++
		child := state.Fork(cond)
		child.pc = inst.Target()
		if takenVerdict == VerdictUnknown {
			child.lowConfidence = true
		}
		e.Searcher.AddState(child)

	case notOK:
		log.Printf("[fork] #%d beq %#x: not-taken only", state.id, inst.Addr)
		e.summary.Pruned++
		child := state.Fork(notCond)
		child.pc = inst.Addr + 4
		if notVerdict == VerdictUnknown {
			child.lowConfidence = true
		}
		e.Searcher.AddState(child)

	default:
		// The path condition admits neither side; the path itself is
		// inconsistent.
		log.Printf("[invariant] #%d beq %#x: no feasible successor", state.id, inst.Addr)
		e.summary.Invariants++
		state.status, state.reason = ExecutionStatusFailed, "branch with no feasible successor"
	}
	return nil
}

func (e *Executor) executeJAL(state *ExecutionState, inst *riscu.Instruction) error {
	state.SetReg(inst.Rd, NewConstantExpr64(inst.Addr+4))
	state.pc = inst.Target()
	return nil
}

func (e *Executor) executeJALR(state *ExecutionState, inst *riscu.Instruction) error {
	target := NewBinaryExpr(ADD, state.Reg(inst.Rs1), NewConstantExpr64(uint64(inst.Imm)))

	pc := uint64(0)
	if c, ok := target.(*ConstantExpr); ok {
		pc = c.Value
	} else {
		c, terminated, err := e.concretizeExpr(state, target)
		if terminated || err != nil {
			return err
		}
		pc = c
	}
	pc &^= 1

	if e.prog.At(pc) == nil {
		log.Printf("[state] #%d jump outside code: target=%#x", state.id, pc)
		state.status, state.reason = ExecutionStatusFailed, fmt.Sprintf("jump outside code at %#x", pc)
		return nil
	}

	state.SetReg(inst.Rd, NewConstantExpr64(inst.Addr+4))
	state.pc = pc
	return nil
}

func (e *Executor) executeECALL(state *ExecutionState, inst *riscu.Instruction) error {
	num, ok := state.Reg(riscu.RegA7).(*ConstantExpr)
	if !ok {
		state.status, state.reason = ExecutionStatusFailed, "symbolic syscall number"
		return nil
	}

	switch num.Value {
	case sysExit:
		return e.executeSysExit(state, inst)
	case sysRead:
		return e.executeSysRead(state, inst)
	case sysWrite:
		return e.executeSysWrite(state, inst)
	case sysBrk:
		return e.executeSysBrk(state, inst)
	default:
		state.status, state.reason = ExecutionStatusFailed, fmt.Sprintf("unsupported syscall: %d", num.Value)
		return nil
	}
}

func (e *Executor) executeSysExit(state *ExecutionState, inst *riscu.Instruction) error {
	code := state.Reg(riscu.RegA0)

	if e.Faults.Has(FaultAssertion) {
		pred := NewNotExpr(NewBinaryExpr(EQ, code, NewConstantExpr64(0)))
		if terminated, err := e.checkFault(state, FaultAssertion, inst, pred); terminated || err != nil {
			return err
		}
	}

	// Pin the exit code for the record. With the assertion class enabled
	// the surviving path is already constrained to zero.
	exitCode := uint64(0)
	if code, ok := code.(*ConstantExpr); ok {
		exitCode = code.Value
	} else if values, err := state.Witness(); err == nil {
		log.Printf("DIAG: code=%T %v values=%v", code, code, values)
		if c, err := NewExprEvaluator(values).Evaluate(code); err == nil {
			log.Printf("DIAG: c=%v err=%v", c, err)
			exitCode = c.Value
		}
	}

	state.exitCode = exitCode
	state.status = ExecutionStatusExited
	state.reason = fmt.Sprintf("exit(%d)", exitCode)
	log.Printf("[state] #%d exited: code=%d depth=%d", state.id, exitCode, state.depth)
	return nil
}

func (e *Executor) executeSysRead(state *ExecutionState, inst *riscu.Instruction) error {
	// File descriptor in a0 is ignored; buffer in a1, count in a2.
	buf := state.Reg(riscu.RegA1)

	count, terminated, err := e.resolveConcreteValue(state, state.Reg(riscu.RegA2))
	if terminated || err != nil {
		return err
	}

	// Each whole word of input becomes one 64-bit symbolic value; a
	// trailing partial word stores only its low bytes.
	for off := uint64(0); off < count; off += 8 {
		addr := NewBinaryExpr(ADD, buf, NewConstantExpr64(off))
		if terminated, err := e.checkAccess(state, inst, addr); terminated || err != nil {
			return err
		}

		input := state.NewInput(Width64)
		log.Printf("[state] #%d read %s -> buf+%d", state.id, input.Name(), off)

		if n := count - off; n >= 8 {
			if terminated, err := e.storeWord(state, addr, input); terminated || err != nil {
				return err
			}
		} else {
			caddr, terminated, err := e.resolveConcreteValue(state, addr)
			if terminated || err != nil {
				return err
			}
			for i := uint64(0); i < n; i++ {
				state.mem = state.mem.WriteByte(caddr+i, NewExtractExpr(input, uint(i*8), Width8))
			}
		}
	}

	state.SetReg(riscu.RegA0, NewConstantExpr64(count))
	state.pc += 4
	return nil
}

func (e *Executor) executeSysWrite(state *ExecutionState, inst *riscu.Instruction) error {
	// Buffer in a1, count in a2. The data itself goes nowhere; the range
	// is validated and concrete bytes are logged.
	buf := state.Reg(riscu.RegA1)

	count, terminated, err := e.resolveConcreteValue(state, state.Reg(riscu.RegA2))
	if terminated || err != nil {
		return err
	}

	if count > 0 {
		if terminated, err := e.checkAccess(state, inst, buf); terminated || err != nil {
			return err
		}
	}
	if count > 8 {
		last := NewBinaryExpr(ADD, buf, NewConstantExpr64(count-8))
		if terminated, err := e.checkAccess(state, inst, last); terminated || err != nil {
			return err
		}
	}

	if caddr, ok := buf.(*ConstantExpr); ok {
		data := make([]byte, 0, count)
		for i := uint64(0); i < count; i++ {
			b, ok := state.mem.ReadByte(caddr.Value + i)
			if !ok {
				break
			}
			c, ok := b.(*ConstantExpr)
			if !ok {
				break
			}
			data = append(data, byte(c.Value))
		}
		if uint64(len(data)) == count {
			log.Printf("[state] #%d write %q", state.id, data)
		} else {
			log.Printf("[state] #%d write <symbolic> len=%d", state.id, count)
		}
	}

	state.SetReg(riscu.RegA0, NewConstantExpr64(count))
	state.pc += 4
	return nil
}

func (e *Executor) executeSysBrk(state *ExecutionState, inst *riscu.Instruction) error {
	req, terminated, err := e.resolveConcreteValue(state, state.Reg(riscu.RegA0))
	if terminated || err != nil {
		return err
	}

	if req >= state.brk && req < e.MemorySize {
		state.brk = req
	}
	log.Printf("[state] #%d brk(%#x) -> %#x", state.id, req, state.brk)

	state.SetReg(riscu.RegA0, NewConstantExpr64(state.brk))
	state.pc += 4
	return nil
}

// feasible interprets a verdict under the unknown-handling policy.
func (e *Executor) feasible(verdict Verdict) bool {
	return verdict == VerdictSat || (verdict == VerdictUnknown && e.UnknownIsFeasible)
}

// checkFault tests whether a fault predicate is reachable on the current
// path. A reachable fault is reported and the state continues under the
// negated predicate; if no fault-free continuation exists the state
// terminates as faulted.
func (e *Executor) checkFault(state *ExecutionState, kind FaultKind, inst *riscu.Instruction, pred Expr) (bool, error) {
	if !e.Faults.Has(kind) {
		return false, nil
	}

	// A constant predicate needs no solver: false is a non-event, true
	// faults on every execution of this path.
	if pred, ok := pred.(*ConstantExpr); ok {
		if pred.IsFalse() {
			return false, nil
		}
		verdict, values, err := e.Solver.Solve(state.constraints, state.inputs)
		if err != nil {
			return false, err
		}
		confidence := ConfidenceHigh
		if verdict != VerdictSat {
			values, confidence = nil, ConfidenceLow
		} else if state.lowConfidence {
			confidence = ConfidenceLow
		}
		report := e.reportFault(state, kind, inst, values, confidence)
		state.status, state.reason, state.fault = ExecutionStatusFaulted, string(kind), report
		return true, nil
	}

	verdict, values, err := e.Solver.Solve(AddConstraint(state.constraints, pred), state.inputs)
	if err != nil {
		return false, err
	}

	var report *FaultReport
	switch verdict {
	case VerdictUnsat:
		return false, nil
	case VerdictSat:
		confidence := ConfidenceHigh
		if state.lowConfidence {
			confidence = ConfidenceLow
		}
		report = e.reportFault(state, kind, inst, values, confidence)
	case VerdictUnknown:
		if !e.UnknownIsFeasible {
			return false, nil
		}
		report = e.reportFault(state, kind, inst, nil, ConfidenceLow)
	}

	// Continue along the fault-free side if it remains satisfiable.
	neg := NewNotExpr(pred)
	negVerdict, _, err := e.Solver.Solve(AddConstraint(state.constraints, neg), state.inputs)
	if err != nil {
		return false, err
	}
	if !e.feasible(negVerdict) {
		state.status, state.reason, state.fault = ExecutionStatusFaulted, string(kind), report
		return true, nil
	}
	if negVerdict == VerdictUnknown {
		log.Printf("[solver] #%d unknown verdict at %#x: continuing low confidence", state.id, inst.Addr)
		state.lowConfidence = true
	}
	state.AddConstraint(neg)
	return false, nil
}

// reportFault records a fault, reporting each (kind, pc) site once.
func (e *Executor) reportFault(state *ExecutionState, kind FaultKind, inst *riscu.Instruction, witness []uint64, confidence Confidence) *FaultReport {
	report := &FaultReport{
		Kind:       kind,
		PC:         inst.Addr,
		Inst:       *inst,
		StateID:    state.id,
		PathLength: state.depth,
		Witness:    witness,
		Confidence: confidence,
	}

	site := faultSite{kind: kind, pc: inst.Addr}
	if e.faultSites[site] {
		log.Printf("[fault] #%d duplicate: %s", state.id, report)
		return report
	}
	e.faultSites[site] = true

	e.summary.Faults = append(e.summary.Faults, report)
	log.Printf("[fault] #%d %s", state.id, report)

	if e.HaltOnFault {
		e.halted = true
	}
	return report
}

// checkAccess runs the out-of-bounds and alignment fault checks for a
// word access at addr.
func (e *Executor) checkAccess(state *ExecutionState, inst *riscu.Instruction, addr Expr) (bool, error) {
	if e.Faults.Has(FaultOutOfBounds) {
		pred := NewBinaryExpr(UGT, addr, NewConstantExpr64(e.MemorySize-8))
		if terminated, err := e.checkFault(state, FaultOutOfBounds, inst, pred); terminated || err != nil {
			return terminated, err
		}
	}
	if e.Faults.Has(FaultUnaligned) {
		pred := NewNotExpr(NewBinaryExpr(EQ,
			NewBinaryExpr(AND, addr, NewConstantExpr64(7)),
			NewConstantExpr64(0)))
		if terminated, err := e.checkFault(state, FaultUnaligned, inst, pred); terminated || err != nil {
			return terminated, err
		}
	}
	return false, nil
}

// pathModel solves the current path condition and returns a satisfying
// assignment. An unsatisfiable or unknown path terminates the state.
func (e *Executor) pathModel(state *ExecutionState) ([]uint64, bool, error) {
	verdict, values, err := e.Solver.Solve(state.constraints, state.inputs)
	if err != nil {
		return nil, false, err
	}
	if verdict != VerdictSat {
		log.Printf("[invariant] #%d path condition unsolvable at pc=%#x: verdict=%s", state.id, state.pc, verdict)
		e.summary.Invariants++
		state.status, state.reason = ExecutionStatusFailed, fmt.Sprintf("path condition unsolvable: verdict=%s", verdict)
		return nil, true, nil
	}
	return values, false, nil
}

// concretizeExpr pins expr to one value the path condition admits and
// records the equality so later queries stay consistent.
func (e *Executor) concretizeExpr(state *ExecutionState, expr Expr) (uint64, bool, error) {
	values, terminated, err := e.pathModel(state)
	if terminated || err != nil {
		return 0, terminated, err
	}

	c, err := NewExprEvaluator(values).Evaluate(expr)
	if err != nil {
		state.status, state.reason = ExecutionStatusFailed, fmt.Sprintf("cannot concretize: %s", err)
		return 0, true, nil
	}

	state.AddConstraint(NewBinaryExpr(EQ, expr, NewConstantExpr64(c.Value)))
	log.Printf("[mem] #%d concretize %s -> %#x", state.id, expr, c.Value)
	return c.Value, false, nil
}

// resolveConcreteValue returns the concrete value of expr, concretizing
// the path if the expression is symbolic.
func (e *Executor) resolveConcreteValue(state *ExecutionState, expr Expr) (uint64, bool, error) {
	if c, ok := expr.(*ConstantExpr); ok {
		return c.Value, false, nil
	}
	return e.concretizeExpr(state, expr)
}

// uninitByte returns the fill policy for unmapped bytes.
func (e *Executor) uninitByte(state *ExecutionState) func(uint64) Expr {
	return func(addr uint64) Expr {
		if e.Uninit == UninitZero {
			return NewConstantExpr(0, Width8)
		}
		input := state.NewInput(Width8)
		log.Printf("[mem] #%d uninitialized byte at %#x -> %s", state.id, addr, input.Name())
		return input
	}
}

// readWord reads the 64-bit word mapped at a concrete address, applying
// the uninitialized read policy for unmapped bytes.
func (e *Executor) readWord(state *ExecutionState, addr uint64) (Expr, bool) {
	if e.Uninit == UninitTrap {
		if a, unmapped := state.mem.FirstUnmapped(addr, 8); unmapped {
			log.Printf("[mem] #%d uninitialized read at %#x", state.id, a)
			state.status, state.reason = ExecutionStatusFailed, fmt.Sprintf("uninitialized read at %#x", a)
			return nil, true
		}
	}
	return state.mem.Load(addr, Width64, e.uninitByte(state)), false
}

// loadWord reads a word at a possibly symbolic address.
func (e *Executor) loadWord(state *ExecutionState, addr Expr) (Expr, bool, error) {
	if c, ok := addr.(*ConstantExpr); ok {
		value, terminated := e.readWord(state, c.Value)
		return value, terminated, nil
	}

	if e.MemoryModel == MemoryModelIte && e.Uninit != UninitTrap {
		value, ok, terminated, err := e.loadWordIte(state, addr)
		if terminated || err != nil {
			return nil, terminated, err
		} else if ok {
			return value, false, nil
		}
		// No mapped candidates in the span; fall back to concretization.
	}

	caddr, terminated, err := e.concretizeExpr(state, addr)
	if terminated || err != nil {
		return nil, terminated, err
	}
	value, terminated := e.readWord(state, caddr)
	return value, terminated, nil
}

// symbolicSpan returns the word-aligned candidate addresses mapped within
// the configured span around one admissible value of addr.
func (e *Executor) symbolicSpan(state *ExecutionState, addr Expr) ([]uint64, bool, error) {
	values, terminated, err := e.pathModel(state)
	if terminated || err != nil {
		return nil, terminated, err
	}
	c, err := NewExprEvaluator(values).Evaluate(addr)
	if err != nil {
		state.status, state.reason = ExecutionStatusFailed, fmt.Sprintf("cannot resolve address: %s", err)
		return nil, true, nil
	}

	lo := c.Value &^ 7
	if half := e.MaxSymbolicSpan / 2; lo > half {
		lo -= half &^ 7
	} else {
		lo = 0
	}
	hi := lo + e.MaxSymbolicSpan

	var candidates []uint64
	state.mem.Range(lo, hi, func(a uint64, _ Expr) bool {
		word := a &^ 7
		if n := len(candidates); n == 0 || candidates[n-1] != word {
			candidates = append(candidates, word)
		}
		return true
	})
	return candidates, false, nil
}

// loadWordIte builds a guarded value over every mapped word the span
// admits, leaving the address symbolic.
func (e *Executor) loadWordIte(state *ExecutionState, addr Expr) (Expr, bool, bool, error) {
	candidates, terminated, err := e.symbolicSpan(state, addr)
	if terminated || err != nil {
		return nil, false, terminated, err
	}
	if len(candidates) == 0 {
		return nil, false, false, nil
	}

	// The default arm covers addresses outside the candidate set, which
	// read as uninitialized memory.
	var value Expr
	if e.Uninit == UninitZero {
		value = NewConstantExpr64(0)
	} else {
		input := state.NewInput(Width64)
		log.Printf("[mem] #%d uninitialized word via %s -> %s", state.id, addr, input.Name())
		value = input
	}

	for _, a := range candidates {
		word, terminated := e.readWord(state, a)
		if terminated {
			return nil, false, true, nil
		}
		value = NewIteExpr(NewBinaryExpr(EQ, addr, NewConstantExpr64(a)), word, value)
	}
	log.Printf("[mem] #%d guarded load %s over %d words", state.id, addr, len(candidates))
	return value, true, false, nil
}

// storeWord writes a word at a possibly symbolic address.
func (e *Executor) storeWord(state *ExecutionState, addr, value Expr) (bool, error) {
	if c, ok := addr.(*ConstantExpr); ok {
		state.mem = state.mem.Store(c.Value, value)
		return false, nil
	}

	if e.MemoryModel == MemoryModelIte && e.Uninit != UninitTrap {
		ok, terminated, err := e.storeWordIte(state, addr, value)
		if terminated || err != nil {
			return terminated, err
		} else if ok {
			return false, nil
		}
	}

	caddr, terminated, err := e.concretizeExpr(state, addr)
	if terminated || err != nil {
		return terminated, err
	}
	state.mem = state.mem.Store(caddr, value)
	return false, nil
}

// storeWordIte rewrites every mapped word the span admits with a value
// guarded on the address matching it.
func (e *Executor) storeWordIte(state *ExecutionState, addr, value Expr) (bool, bool, error) {
	candidates, terminated, err := e.symbolicSpan(state, addr)
	if terminated || err != nil {
		return false, terminated, err
	}
	if len(candidates) == 0 {
		return false, false, nil
	}

	for _, a := range candidates {
		old, terminated := e.readWord(state, a)
		if terminated {
			return false, true, nil
		}
		guarded := NewIteExpr(NewBinaryExpr(EQ, addr, NewConstantExpr64(a)), value, old)
		state.mem = state.mem.Store(a, guarded)
	}
	log.Printf("[mem] #%d guarded store %s over %d words", state.id, addr, len(candidates))
	return true, false, nil
}

// Verdict is the result of a satisfiability query.
type Verdict int

const (
	VerdictUnknown = Verdict(iota)
	VerdictSat
	VerdictUnsat
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictSat:
		return "sat"
	case VerdictUnsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// Solver represents a logical constraint solver.
type Solver interface {
	// Solve returns the satisfiability of the conjunction of constraints.
	// If the formula is satisfiable, a valid value is returned for each
	// input passed in, indexed by input ID.
	Solve(constraints []Expr, inputs []*InputExpr) (Verdict, []uint64, error)
}

// SolverChain tries each solver in turn until one returns a definitive
// verdict. Solver resource errors count as unknown and fall through.
type SolverChain []Solver

// Solve implements Solver.
func (c SolverChain) Solve(constraints []Expr, inputs []*InputExpr) (Verdict, []uint64, error) {
	for _, solver := range c {
		verdict, values, err := solver.Solve(constraints, inputs)
		if err != nil {
			if errors.Is(err, ErrSolverTimeout) || errors.Is(err, ErrSolverUnknown) || errors.Is(err, ErrSolverResourceLimit) {
				continue
			}
			return VerdictUnknown, nil, err
		}
		if verdict != VerdictUnknown {
			return verdict, values, nil
		}
	}
	return VerdictUnknown, nil, nil
}

// Searcher represents a strategy for finding the next execution state to execute.
type Searcher interface {
	// Returns the next state to explore.
	SelectState() *ExecutionState

	// Adds states to the current searcher.
	AddState(state *ExecutionState)
}

// DFSSearcher represents a searcher with a depth-first search strategy.
type DFSSearcher struct {
	states []*ExecutionState
}

// NewDFSSearcher returns a new instance of DFSSearcher.
func NewDFSSearcher() *DFSSearcher {
	return &DFSSearcher{}
}

// SelectState returns the next execution state to explore.
func (s *DFSSearcher) SelectState() *ExecutionState {
	if len(s.states) == 0 {
		return nil
	}
	state := s.states[len(s.states)-1]
	s.states = s.states[:len(s.states)-1]
	return state
}

// AddState adds a new state to the searcher.
func (s *DFSSearcher) AddState(state *ExecutionState) {
	s.states = append(s.states, state)
}

// BFSSearcher represents a searcher with a breadth-first search strategy.
type BFSSearcher struct {
	states []*ExecutionState
}

// NewBFSSearcher returns a new instance of BFSSearcher.
func NewBFSSearcher() *BFSSearcher {
	return &BFSSearcher{}
}

// SelectState returns the next execution state to explore.
func (s *BFSSearcher) SelectState() *ExecutionState {
	if len(s.states) == 0 {
		return nil
	}
	state := s.states[0]
	s.states = s.states[1:]
	return state
}

// AddState adds a new state to the searcher.
func (s *BFSSearcher) AddState(state *ExecutionState) {
	s.states = append(s.states, state)
}

// CoverageSearcher prefers states about to enter blocks it has not
// dispatched into before, tie-breaking toward shallower states and then
// lower IDs so selection stays deterministic.
type CoverageSearcher struct {
	states  []*ExecutionState
	visited intsets.Sparse
}

// NewCoverageSearcher returns a new instance of CoverageSearcher.
func NewCoverageSearcher() *CoverageSearcher {
	return &CoverageSearcher{}
}

// SelectState returns the next execution state to explore.
func (s *CoverageSearcher) SelectState() *ExecutionState {
	if len(s.states) == 0 {
		return nil
	}

	best, bestNew := 0, false
	for i, state := range s.states {
		isNew := false
		if b := state.Block(); b != nil {
			isNew = !s.visited.Has(b.Index)
		}
		if i == 0 {
			bestNew = isNew
			continue
		}

		better := false
		if isNew != bestNew {
			better = isNew
		} else if state.Depth() != s.states[best].Depth() {
			better = state.Depth() < s.states[best].Depth()
		} else {
			better = state.ID() < s.states[best].ID()
		}
		if better {
			best, bestNew = i, isNew
		}
	}

	state := s.states[best]
	s.states = append(s.states[:best], s.states[best+1:]...)
	if b := state.Block(); b != nil {
		s.visited.Insert(b.Index)
	}
	return state
}

// AddState adds a new state to the searcher.
func (s *CoverageSearcher) AddState(state *ExecutionState) {
	s.states = append(s.states, state)
}

// MeanKind selects the averaging function used by the rarity searcher.
type MeanKind string

const (
	MeanArithmetic = MeanKind("arithmetic")
	MeanHarmonic   = MeanKind("harmonic")
	MeanGeometric  = MeanKind("geometric")
)

// RaritySearcher prefers states positioned at rarely executed blocks. A
// state is scored by averaging the per-run entry counts of its current
// block and that block's static successors; the lowest score wins, ties
// broken by lower ID.
type RaritySearcher struct {
	executor *Executor
	states   []*ExecutionState
	mean     MeanKind
}

// NewRaritySearcher returns a new instance of RaritySearcher.
func NewRaritySearcher(executor *Executor, mean MeanKind) *RaritySearcher {
	return &RaritySearcher{executor: executor, mean: mean}
}

// SelectState returns the rarest execution state to explore.
func (s *RaritySearcher) SelectState() *ExecutionState {
	if len(s.states) == 0 {
		return nil
	}

	best, bestScore := 0, s.score(s.states[0])
	for i, state := range s.states[1:] {
		if score := s.score(state); score < bestScore ||
			(score == bestScore && state.ID() < s.states[best].ID()) {
			best, bestScore = i+1, score
		}
	}

	state := s.states[best]
	s.states = append(s.states[:best], s.states[best+1:]...)
	return state
}

// AddState adds a new state to the searcher.
func (s *RaritySearcher) AddState(state *ExecutionState) {
	s.states = append(s.states, state)
}

// score averages the entry counts of the state's current block and its
// successors. Counts are shifted by one to keep the harmonic and
// geometric means defined for unvisited blocks.
func (s *RaritySearcher) score(state *ExecutionState) float64 {
	b := state.Block()
	if b == nil {
		return math.MaxFloat64
	}

	counts := []float64{float64(s.executor.visits[b.Index] + 1)}
	for _, edge := range b.Edges {
		if edge.To >= 0 {
			counts = append(counts, float64(s.executor.visits[edge.To]+1))
		}
	}

	switch s.mean {
	case MeanHarmonic:
		recip := make([]float64, len(counts))
		for i, c := range counts {
			recip[i] = 1 / c
		}
		return 1 / stats.Mean(recip)
	case MeanGeometric:
		return stats.GeoMean(counts)
	default:
		return stats.Mean(counts)
	}
}
