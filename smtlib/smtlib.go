// Package smtlib solves queries by shelling out to an external SMT-LIB v2
// solver such as z3, cvc5, or bitwuzla.
package smtlib

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/golem-se/golem"
	"github.com/kballard/go-shellquote"
)

// DefaultCommand reads a script from stdin with the stock z3 binary.
const DefaultCommand = "z3 -in"

// Ensure solver implements interface.
var _ golem.Solver = (*Solver)(nil)

// Solver represents a solver that runs an external SMT-LIB process per query.
type Solver struct {
	// Command is the solver invocation, split with shell quoting rules.
	Command string

	// Timeout bounds each query. Zero means no limit.
	Timeout time.Duration

	stats Stats
}

// NewSolver returns a new instance of Solver using DefaultCommand.
func NewSolver() *Solver {
	return &Solver{Command: DefaultCommand}
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	return s.stats
}

// Solve renders the constraints to a script, feeds it to the external
// process, and parses the verdict and model from its output.
func (s *Solver) Solve(constraints []golem.Expr, inputs []*golem.InputExpr) (golem.Verdict, []uint64, error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	script, err := Script(constraints, inputs)
	if err != nil {
		return golem.VerdictUnknown, nil, err
	}

	argv, err := shellquote.Split(s.Command)
	if err != nil {
		return golem.VerdictUnknown, nil, fmt.Errorf("smtlib: parse command %q: %w", s.Command, err)
	} else if len(argv) == 0 {
		return golem.VerdictUnknown, nil, fmt.Errorf("smtlib: empty command")
	}

	ctx := context.Background()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return golem.VerdictUnknown, nil, golem.ErrSolverTimeout
	}

	// The verdict line settles the query even if the process exited
	// non-zero, which some solvers do after a model request on unsat.
	verdict, rest, ok := splitVerdict(stdout.String())
	if !ok {
		if runErr != nil {
			return golem.VerdictUnknown, nil, fmt.Errorf("smtlib: run %q: %w: %s", s.Command, runErr, firstLine(stderr.String()))
		}
		return golem.VerdictUnknown, nil, fmt.Errorf("smtlib: no verdict in solver output: %s", firstLine(stdout.String()))
	}

	switch verdict {
	case "unsat":
		return golem.VerdictUnsat, nil, nil
	case "unknown", "timeout":
		return golem.VerdictUnknown, nil, golem.ErrSolverUnknown
	}

	if len(inputs) == 0 {
		return golem.VerdictSat, nil, nil
	}
	values, err := parseModel(rest, inputs)
	if err != nil {
		return golem.VerdictSat, nil, err
	}
	return golem.VerdictSat, values, nil
}

// Script renders constraints and input declarations as an SMT-LIB v2
// script ending in a satisfiability check and a model request.
func Script(constraints []golem.Expr, inputs []*golem.InputExpr) (string, error) {
	var buf bytes.Buffer
	buf.WriteString("(set-option :produce-models true)\n")
	buf.WriteString("(set-logic QF_BV)\n")

	for _, input := range inputs {
		fmt.Fprintf(&buf, "(declare-fun %s () (_ BitVec %d))\n", input.Name(), input.Width)
	}
	for _, constraint := range constraints {
		sexpr, err := writeExpr(constraint)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&buf, "(assert %s)\n", sexpr)
	}

	buf.WriteString("(check-sat)\n")
	if len(inputs) > 0 {
		names := make([]string, len(inputs))
		for i, input := range inputs {
			names[i] = input.Name()
		}
		fmt.Fprintf(&buf, "(get-value (%s))\n", strings.Join(names, " "))
	}
	return buf.String(), nil
}

// writeExpr renders a single expression as an s-expression.
func writeExpr(expr golem.Expr) (string, error) {
	switch expr := expr.(type) {
	case *golem.ConstantExpr:
		if expr.Width == golem.WidthBool {
			if expr.IsTrue() {
				return "true", nil
			}
			return "false", nil
		}
		return fmt.Sprintf("(_ bv%d %d)", expr.Value, expr.Width), nil

	case *golem.InputExpr:
		return expr.Name(), nil

	case *golem.IteExpr:
		cond, err := writeExpr(expr.Cond)
		if err != nil {
			return "", err
		}
		then, err := writeExpr(expr.Then)
		if err != nil {
			return "", err
		}
		els, err := writeExpr(expr.Else)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(ite %s %s %s)", cond, then, els), nil

	case *golem.ConcatExpr:
		msb, err := writeExpr(expr.MSB)
		if err != nil {
			return "", err
		}
		lsb, err := writeExpr(expr.LSB)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(concat %s %s)", msb, lsb), nil

	case *golem.ExtractExpr:
		src, err := writeExpr(expr.Expr)
		if err != nil {
			return "", err
		}
		// Single-bit extracts compare against #b1 to produce a boolean.
		if expr.Width == golem.WidthBool {
			return fmt.Sprintf("(= ((_ extract %d %d) %s) #b1)", expr.Offset, expr.Offset, src), nil
		}
		return fmt.Sprintf("((_ extract %d %d) %s)", expr.Offset+expr.Width-1, expr.Offset, src), nil

	case *golem.CastExpr:
		return writeCastExpr(expr)

	case *golem.NotExpr:
		src, err := writeExpr(expr.Expr)
		if err != nil {
			return "", err
		}
		if golem.ExprWidth(expr.Expr) == golem.WidthBool {
			return fmt.Sprintf("(not %s)", src), nil
		}
		return fmt.Sprintf("(bvnot %s)", src), nil

	case *golem.BinaryExpr:
		return writeBinaryExpr(expr)

	default:
		return "", fmt.Errorf("smtlib: invalid expression type: %T", expr)
	}
}

func writeCastExpr(expr *golem.CastExpr) (string, error) {
	src, err := writeExpr(expr.Src)
	if err != nil {
		return "", err
	}

	srcWidth := golem.ExprWidth(expr.Src)
	if srcWidth == golem.WidthBool {
		ones := uint64(1)
		if expr.Signed {
			ones = ^uint64(0) >> (64 - expr.Width)
		}
		return fmt.Sprintf("(ite %s (_ bv%d %d) (_ bv0 %d))", src, ones, expr.Width, expr.Width), nil
	}

	if expr.Signed {
		return fmt.Sprintf("((_ sign_extend %d) %s)", expr.Width-srcWidth, src), nil
	}
	return fmt.Sprintf("((_ zero_extend %d) %s)", expr.Width-srcWidth, src), nil
}

func writeBinaryExpr(expr *golem.BinaryExpr) (string, error) {
	lhs, err := writeExpr(expr.LHS)
	if err != nil {
		return "", err
	}
	rhs, err := writeExpr(expr.RHS)
	if err != nil {
		return "", err
	}

	boolean := golem.ExprWidth(expr.LHS) == golem.WidthBool

	var op string
	switch expr.Op {
	case golem.ADD:
		op = "bvadd"
	case golem.SUB:
		op = "bvsub"
	case golem.MUL:
		op = "bvmul"
	case golem.UDIV:
		op = "bvudiv"
	case golem.SDIV:
		op = "bvsdiv"
	case golem.UREM:
		op = "bvurem"
	case golem.SREM:
		op = "bvsrem"
	case golem.AND:
		op = "bvand"
		if boolean {
			op = "and"
		}
	case golem.OR:
		op = "bvor"
		if boolean {
			op = "or"
		}
	case golem.XOR:
		op = "bvxor"
		if boolean {
			op = "xor"
		}
	case golem.SHL:
		op = "bvshl"
	case golem.LSHR:
		op = "bvlshr"
	case golem.ASHR:
		op = "bvashr"
	case golem.EQ:
		op = "="
	case golem.ULT:
		op = "bvult"
	case golem.ULE:
		op = "bvule"
	case golem.SLT:
		op = "bvslt"
	case golem.SLE:
		op = "bvsle"
	default:
		return "", fmt.Errorf("smtlib: unexpected operation: %s", expr.Op)
	}
	return fmt.Sprintf("(%s %s %s)", op, lhs, rhs), nil
}

// splitVerdict finds the first sat/unsat/unknown/timeout line and returns
// it with the remaining output.
func splitVerdict(out string) (verdict, rest string, ok bool) {
	for len(out) > 0 {
		line := out
		if i := strings.IndexByte(out, '\n'); i >= 0 {
			line, out = out[:i], out[i+1:]
		} else {
			out = ""
		}
		switch strings.TrimSpace(line) {
		case "sat", "unsat", "unknown", "timeout":
			return strings.TrimSpace(line), out, true
		}
	}
	return "", "", false
}

// parseModel extracts one value per input from a get-value response such
// as ((x0 #x002a) (x1 (_ bv3 64))).
func parseModel(out string, inputs []*golem.InputExpr) ([]uint64, error) {
	tokens := tokenize(out)

	m := make(map[string]uint64)
	for i := 0; i < len(tokens); i++ {
		name := tokens[i]
		if !strings.HasPrefix(name, "x") || i+1 >= len(tokens) {
			continue
		}

		// Value is either a literal or the (_ bvN w) form.
		var literal string
		if tokens[i+1] == "(" {
			if i+3 < len(tokens) && tokens[i+2] == "_" {
				literal = tokens[i+3]
			}
		} else {
			literal = tokens[i+1]
		}

		value, err := parseNumeral(literal)
		if err != nil {
			continue
		}
		m[name] = value
	}

	values := make([]uint64, len(inputs))
	for i, input := range inputs {
		value, ok := m[input.Name()]
		if !ok {
			return nil, fmt.Errorf("smtlib: no model value for input %s", input.Name())
		}
		values[i] = value
	}
	return values, nil
}

// parseNumeral decodes #x, #b, and bvN numeral forms.
func parseNumeral(s string) (uint64, error) {
	switch {
	case strings.HasPrefix(s, "#x"):
		return strconv.ParseUint(s[2:], 16, 64)
	case strings.HasPrefix(s, "#b"):
		return strconv.ParseUint(s[2:], 2, 64)
	case strings.HasPrefix(s, "bv"):
		return strconv.ParseUint(s[2:], 10, 64)
	default:
		return 0, fmt.Errorf("smtlib: invalid numeral: %q", s)
	}
}

// tokenize splits s-expression text into parenthesis and atom tokens.
func tokenize(s string) []string {
	s = strings.ReplaceAll(s, "(", " ( ")
	s = strings.ReplaceAll(s, ")", " ) ")
	return strings.Fields(s)
}

// firstLine truncates s to its first non-empty line.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// Stats tracks query counts and solver wall time.
type Stats struct {
	SolveN    int
	SolveTime time.Duration
}
