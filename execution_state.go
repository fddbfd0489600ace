package golem

import (
	"bytes"
	"fmt"

	"github.com/golem-se/golem/riscu"
)

// ExecutionState represents a path under exploration.
type ExecutionState struct {
	id int

	// Executor this is executed within.
	executor *Executor

	// Execution hierarchy.
	parent   *ExecutionState
	children []*ExecutionState

	// Machine state. Register x0 stays pinned to the zero constant.
	pc   uint64
	regs [32]Expr
	mem  Memory
	brk  uint64

	// Shows whether state is running, finished, or terminated by a fault.
	status ExecutionStatus
	reason string

	// Constraints collected so far during execution, one conjunct per entry.
	constraints []Expr

	// Symbolic inputs introduced on this path, indexed by InputExpr.ID.
	inputs []*InputExpr

	// Instructions retired on this path.
	depth int

	// Set when a constraint was admitted on an unknown solver verdict.
	lowConfidence bool

	exitCode uint64
	fault    *FaultReport
}

// NewExecutionState returns a state with a zeroed register file and an
// empty address space.
func NewExecutionState(executor *Executor) *ExecutionState {
	s := &ExecutionState{
		executor: executor,
		status:   ExecutionStatusRunning,
		mem:      NewMemory(),
	}
	zero := NewConstantExpr64(0)
	for i := range s.regs {
		s.regs[i] = zero
	}
	return s
}

// ID returns an autoincrementing ID assigned by the executor.
func (s *ExecutionState) ID() int { return s.id }

// Executor returns the parent executor of this state.
func (s *ExecutionState) Executor() *Executor {
	return s.executor
}

// Parent returns the state this state was forked from, if any.
func (s *ExecutionState) Parent() *ExecutionState {
	return s.parent
}

// PC returns the current program counter.
func (s *ExecutionState) PC() uint64 { return s.pc }

// Depth returns the number of instructions retired on this path.
func (s *ExecutionState) Depth() int { return s.depth }

// Mem returns the current address space.
func (s *ExecutionState) Mem() Memory { return s.mem }

func (s *ExecutionState) Constraints() []Expr {
	return s.constraints
}

// Inputs returns the symbolic inputs introduced on this path.
func (s *ExecutionState) Inputs() []*InputExpr {
	return s.inputs
}

// Reg returns the expression bound to register r.
func (s *ExecutionState) Reg(r riscu.Register) Expr {
	assert(int(r) < len(s.regs), "reg: out of range: %d", r)
	return s.regs[r]
}

// SetReg binds register r to value. Writes to x0 are discarded.
func (s *ExecutionState) SetReg(r riscu.Register, value Expr) {
	assert(int(r) < len(s.regs), "reg: out of range: %d", r)
	assert(ExprWidth(value) == Width64, "reg: invalid width: %d", ExprWidth(value))
	if r == riscu.RegZero {
		return
	}
	s.regs[r] = value
}

// NewInput introduces a fresh symbolic input on this path.
func (s *ExecutionState) NewInput(width uint) *InputExpr {
	input := NewInputExpr(len(s.inputs), width)
	s.inputs = append(s.inputs, input)
	return input
}

// Clone returns a copy of the state including deep copies of the
// constraint and input lists. This does not clone child states.
func (s *ExecutionState) Clone() *ExecutionState {
	constraints := make([]Expr, len(s.constraints))
	copy(constraints, s.constraints)

	inputs := make([]*InputExpr, len(s.inputs))
	copy(inputs, s.inputs)

	return &ExecutionState{
		executor:      s.executor,
		parent:        s.parent,
		pc:            s.pc,
		regs:          s.regs,
		mem:           s.mem,
		brk:           s.brk,
		status:        s.status,
		reason:        s.reason,
		constraints:   constraints,
		inputs:        inputs,
		depth:         s.depth,
		lowConfidence: s.lowConfidence,
	}
}

// Status returns the current status of the state.
// See Reason() for additional information if status is in an error state.
func (s *ExecutionState) Status() ExecutionStatus {
	return s.status
}

// Reason returns additional information about the status of the state.
func (s *ExecutionState) Reason() string {
	return s.reason
}

// Terminated returns true if the state completed execution of a path.
func (s *ExecutionState) Terminated() bool {
	return s.status != ExecutionStatusRunning
}

// ExitCode returns the code passed to the exit system call.
// Only meaningful once the status is exited.
func (s *ExecutionState) ExitCode() uint64 { return s.exitCode }

// Fault returns the fault that terminated the state, if any.
func (s *ExecutionState) Fault() *FaultReport { return s.fault }

// LowConfidence returns true if any constraint on this path was admitted
// on an unknown solver verdict.
func (s *ExecutionState) LowConfidence() bool { return s.lowConfidence }

// Block returns the basic block containing the current program counter.
func (s *ExecutionState) Block() *riscu.Block {
	return s.executor.prog.CFG.BlockAt(s.pc)
}

// Fork returns a child copy of the given state with the additional constraint.
func (s *ExecutionState) Fork(constraint Expr) *ExecutionState {
	child := s.Clone()
	child.id = s.executor.nextStateID()
	child.parent = s
	if constraint != nil {
		child.AddConstraint(constraint)
	}
	s.children = append(s.children, child)
	return child
}

// Forked returns true if state has a child state.
func (s *ExecutionState) Forked() bool {
	return len(s.children) > 0
}

// Witness computes concrete input values satisfying the path condition.
func (s *ExecutionState) Witness() ([]uint64, error) {
	verdict, values, err := s.executor.Solver.Solve(s.constraints, s.inputs)
	if err != nil {
		return nil, err
	} else if verdict != VerdictSat {
		return nil, fmt.Errorf("path condition not satisfiable: verdict=%s", verdict)
	}
	return values, nil
}

// AddConstraint adds a constraint to the state. Panic if expr is a constant false.
func (s *ExecutionState) AddConstraint(expr Expr) {
	if expr, ok := expr.(*ConstantExpr); ok {
		assert(expr.IsTrue(), "invalid false constraint")
	}

	// Split logical conjunctions into two separate constraints.
	if expr, ok := expr.(*BinaryExpr); ok && expr.Op == AND {
		s.AddConstraint(expr.LHS)
		s.AddConstraint(expr.RHS)
		return
	}

	s.constraints = append(s.constraints, expr)
}

// AddConstraint adds expr to constraints and returns the new constraint list.
// If expr is a binary AND expression then its LHS & RHS are split into
// independent constraints.
func AddConstraint(a []Expr, expr Expr) []Expr {
	if expr, ok := expr.(*BinaryExpr); ok && expr.Op == AND {
		a = AddConstraint(a, expr.LHS)
		a = AddConstraint(a, expr.RHS)
		return a
	}
	return append(a, expr)
}

// Dump returns the contents of the state as a string.
func (s *ExecutionState) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "EXECUTION STATE")
	fmt.Fprintln(&buf, "===============")
	fmt.Fprintf(&buf, "id=%d status=%s reason=%q\n", s.id, s.status, s.reason)
	fmt.Fprintf(&buf, "pc=%#x depth=%d brk=%#x\n", s.pc, s.depth, s.brk)
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== REGISTERS")
	for i, reg := range s.regs {
		if reg, ok := reg.(*ConstantExpr); ok && reg.Value == 0 {
			continue
		}
		fmt.Fprintf(&buf, "%-4s %s\n", riscu.Register(i), reg)
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== MEMORY")
	fmt.Fprintln(&buf, s.mem.Dump())

	fmt.Fprintln(&buf, "== CONSTRAINTS")
	for i, expr := range s.constraints {
		fmt.Fprintf(&buf, "%d. %s\n", i, expr.String())
	}
	return buf.String()
}

// ExecutionStatus represents the current status of the execution state.
// The state will also include a reason if the status is not running.
type ExecutionStatus string

const (
	ExecutionStatusRunning = ExecutionStatus("running") // has future states
	ExecutionStatusExited  = ExecutionStatus("exited")  // process exited
	ExecutionStatusFaulted = ExecutionStatus("faulted") // fault detected
	ExecutionStatusFailed  = ExecutionStatus("failed")  // internal error
)
