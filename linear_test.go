package golem_test

import (
	"testing"

	"github.com/golem-se/golem"
)

func TestLinearSolver_Solve(t *testing.T) {
	x := golem.NewInputExpr(0, golem.Width64)
	inputs := []*golem.InputExpr{x}

	t.Run("NoConstraints", func(t *testing.T) {
		verdict, model := solveLinear(t, nil, inputs)
		if got, exp := verdict, golem.VerdictSat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		} else if got, exp := model[0], uint64(0); got != exp {
			t.Fatalf("model[0]=%d, expected %d", got, exp)
		}
	})

	t.Run("PinnedValue", func(t *testing.T) {
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.EQ, x, golem.NewConstantExpr64(42)),
		}
		verdict, model := solveLinear(t, constraints, inputs)
		if got, exp := verdict, golem.VerdictSat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		} else if got, exp := model[0], uint64(42); got != exp {
			t.Fatalf("model[0]=%d, expected %d", got, exp)
		}
	})

	t.Run("AffineOddCoefficient", func(t *testing.T) {
		// 3x + 7 == 22
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.EQ,
				golem.NewBinaryExpr(golem.ADD,
					golem.NewBinaryExpr(golem.MUL, golem.NewConstantExpr64(3), x),
					golem.NewConstantExpr64(7)),
				golem.NewConstantExpr64(22)),
		}
		verdict, model := solveLinear(t, constraints, inputs)
		if got, exp := verdict, golem.VerdictSat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		} else if got, exp := model[0], uint64(5); got != exp {
			t.Fatalf("model[0]=%d, expected %d", got, exp)
		}
	})

	t.Run("AffineShiftCoefficient", func(t *testing.T) {
		// x << 3 == 40
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.EQ,
				golem.NewBinaryExpr(golem.SHL, x, golem.NewConstantExpr64(3)),
				golem.NewConstantExpr64(40)),
		}
		verdict, model := solveLinear(t, constraints, inputs)
		if got, exp := verdict, golem.VerdictSat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		} else if got, exp := model[0], uint64(5); got != exp {
			t.Fatalf("model[0]=%d, expected %d", got, exp)
		}
	})

	t.Run("EvenCoefficient", func(t *testing.T) {
		// 2x == 6
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.EQ,
				golem.NewBinaryExpr(golem.MUL, golem.NewConstantExpr64(2), x),
				golem.NewConstantExpr64(6)),
		}
		verdict, model := solveLinear(t, constraints, inputs)
		if got, exp := verdict, golem.VerdictSat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		} else if got, exp := model[0], uint64(3); got != exp {
			t.Fatalf("model[0]=%d, expected %d", got, exp)
		}
	})

	t.Run("EvenCoefficientUnsat", func(t *testing.T) {
		// 2x == 7 has no solution modulo 2^64.
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.EQ,
				golem.NewBinaryExpr(golem.MUL, golem.NewConstantExpr64(2), x),
				golem.NewConstantExpr64(7)),
		}
		verdict, _ := solveLinear(t, constraints, inputs)
		if got, exp := verdict, golem.VerdictUnsat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		}
	})

	t.Run("NotEqual", func(t *testing.T) {
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.NE, x, golem.NewConstantExpr64(0)),
			golem.NewBinaryExpr(golem.NE, x, golem.NewConstantExpr64(1)),
		}
		verdict, model := solveLinear(t, constraints, inputs)
		if got, exp := verdict, golem.VerdictSat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		} else if got, exp := model[0], uint64(2); got != exp {
			t.Fatalf("model[0]=%d, expected %d", got, exp)
		}
	})

	t.Run("Bounds", func(t *testing.T) {
		// 5 < x < 10
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.ULT, x, golem.NewConstantExpr64(10)),
			golem.NewBinaryExpr(golem.ULT, golem.NewConstantExpr64(5), x),
		}
		verdict, model := solveLinear(t, constraints, inputs)
		if got, exp := verdict, golem.VerdictSat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		} else if got, exp := model[0], uint64(6); got != exp {
			t.Fatalf("model[0]=%d, expected %d", got, exp)
		}
	})

	t.Run("UpperBoundInclusive", func(t *testing.T) {
		// 4 < x <= 5
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.ULE, x, golem.NewConstantExpr64(5)),
			golem.NewBinaryExpr(golem.ULT, golem.NewConstantExpr64(4), x),
		}
		verdict, model := solveLinear(t, constraints, inputs)
		if got, exp := verdict, golem.VerdictSat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		} else if got, exp := model[0], uint64(5); got != exp {
			t.Fatalf("model[0]=%d, expected %d", got, exp)
		}
	})

	t.Run("WrapAround", func(t *testing.T) {
		// x+1 < x only holds when the sum wraps.
		sum := golem.NewBinaryExpr(golem.ADD, x, golem.NewConstantExpr64(1))
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.ULT, sum, x),
		}
		verdict, model := solveLinear(t, constraints, inputs)
		if got, exp := verdict, golem.VerdictSat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		} else if got, exp := model[0], ^uint64(0); got != exp {
			t.Fatalf("model[0]=%d, expected %d", got, exp)
		}
	})

	t.Run("NegatedBound", func(t *testing.T) {
		constraints := []golem.Expr{
			golem.NewNotExpr(golem.NewBinaryExpr(golem.ULT, x, golem.NewConstantExpr64(10))),
		}
		verdict, model := solveLinear(t, constraints, inputs)
		if got, exp := verdict, golem.VerdictSat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		} else if got, exp := model[0], uint64(10); got != exp {
			t.Fatalf("model[0]=%d, expected %d", got, exp)
		}
	})

	t.Run("ConflictingEqualities", func(t *testing.T) {
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.EQ, x, golem.NewConstantExpr64(5)),
			golem.NewBinaryExpr(golem.EQ, x, golem.NewConstantExpr64(6)),
		}
		verdict, _ := solveLinear(t, constraints, inputs)
		if got, exp := verdict, golem.VerdictUnsat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		}
	})

	t.Run("EqualityOutsideBound", func(t *testing.T) {
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.EQ, x, golem.NewConstantExpr64(5)),
			golem.NewBinaryExpr(golem.ULT, x, golem.NewConstantExpr64(3)),
		}
		verdict, _ := solveLinear(t, constraints, inputs)
		if got, exp := verdict, golem.VerdictUnsat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		}
	})

	t.Run("ExcludedPin", func(t *testing.T) {
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.EQ, x, golem.NewConstantExpr64(5)),
			golem.NewBinaryExpr(golem.NE, x, golem.NewConstantExpr64(5)),
		}
		verdict, _ := solveLinear(t, constraints, inputs)
		if got, exp := verdict, golem.VerdictUnsat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		}
	})

	t.Run("ConstantFalse", func(t *testing.T) {
		constraints := []golem.Expr{
			golem.NewBoolConstantExpr(false),
		}
		verdict, _ := solveLinear(t, constraints, inputs)
		if got, exp := verdict, golem.VerdictUnsat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		}
	})

	t.Run("TwoInputs", func(t *testing.T) {
		y := golem.NewInputExpr(1, golem.Width64)
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.EQ, x, golem.NewConstantExpr64(3)),
			golem.NewBinaryExpr(golem.EQ, y, golem.NewConstantExpr64(9)),
		}
		verdict, model := solveLinear(t, constraints, []*golem.InputExpr{x, y})
		if got, exp := verdict, golem.VerdictSat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		} else if got, exp := model[0], uint64(3); got != exp {
			t.Fatalf("model[0]=%d, expected %d", got, exp)
		} else if got, exp := model[1], uint64(9); got != exp {
			t.Fatalf("model[1]=%d, expected %d", got, exp)
		}
	})

	t.Run("MixedInputsDeclined", func(t *testing.T) {
		y := golem.NewInputExpr(1, golem.Width64)
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.EQ, x, y),
		}
		verdict, _ := solveLinear(t, constraints, []*golem.InputExpr{x, y})
		if got, exp := verdict, golem.VerdictUnknown; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		}
	})

	t.Run("NonAffineDeclined", func(t *testing.T) {
		// Bitmasks are outside the fragment.
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.EQ,
				golem.NewBinaryExpr(golem.AND, x, golem.NewConstantExpr64(7)),
				golem.NewConstantExpr64(0)),
		}
		verdict, _ := solveLinear(t, constraints, inputs)
		if got, exp := verdict, golem.VerdictUnknown; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		}
	})
}

// solveLinear runs a LinearSolver over constraints and fails on error.
func solveLinear(tb testing.TB, constraints []golem.Expr, inputs []*golem.InputExpr) (golem.Verdict, []uint64) {
	tb.Helper()
	verdict, model, err := golem.NewLinearSolver().Solve(constraints, inputs)
	if err != nil {
		tb.Fatal(err)
	}
	return verdict, model
}
