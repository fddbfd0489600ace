package golem_test

import (
	"testing"

	"github.com/golem-se/golem"
	"github.com/golem-se/golem/riscu"
	"github.com/google/go-cmp/cmp"
)

func TestCachingSolver_Solve(t *testing.T) {
	x := golem.NewInputExpr(0, golem.Width64)
	inputs := []*golem.InputExpr{x}

	t.Run("Hit", func(t *testing.T) {
		solver := golem.NewCachingSolver(golem.NewLinearSolver(), 0)
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.EQ, x, golem.NewConstantExpr64(42)),
		}

		for i := 0; i < 2; i++ {
			verdict, model := solveCached(t, solver, constraints, inputs)
			if got, exp := verdict, golem.VerdictSat; got != exp {
				t.Fatalf("verdict=%s, expected %s", got, exp)
			} else if got, exp := model[0], uint64(42); got != exp {
				t.Fatalf("model[0]=%d, expected %d", got, exp)
			}
		}

		if got, exp := solver.Stats(), (golem.SolverStats{Queries: 2, Hits: 1}); got != exp {
			t.Fatalf("Stats()=%+v, expected %+v", got, exp)
		} else if got, exp := solver.Len(), 1; got != exp {
			t.Fatalf("Len()=%d, expected %d", got, exp)
		}
	})

	// Conjunct order must not split cache entries.
	t.Run("PermutedConstraints", func(t *testing.T) {
		solver := golem.NewCachingSolver(golem.NewLinearSolver(), 0)
		a := golem.NewBinaryExpr(golem.NE, x, golem.NewConstantExpr64(0))
		b := golem.NewBinaryExpr(golem.ULT, x, golem.NewConstantExpr64(10))

		solveCached(t, solver, []golem.Expr{a, b}, inputs)
		verdict, model := solveCached(t, solver, []golem.Expr{b, a}, inputs)
		if got, exp := verdict, golem.VerdictSat; got != exp {
			t.Fatalf("verdict=%s, expected %s", got, exp)
		} else if got, exp := model[0], uint64(1); got != exp {
			t.Fatalf("model[0]=%d, expected %d", got, exp)
		}

		if got, exp := solver.Stats(), (golem.SolverStats{Queries: 2, Hits: 1}); got != exp {
			t.Fatalf("Stats()=%+v, expected %+v", got, exp)
		}
	})

	// Unknown verdicts may become answerable later, so they are not kept.
	t.Run("UnknownNotCached", func(t *testing.T) {
		solver := golem.NewCachingSolver(golem.NewLinearSolver(), 0)
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.EQ,
				golem.NewBinaryExpr(golem.AND, x, golem.NewConstantExpr64(3)),
				golem.NewConstantExpr64(1)),
		}

		for i := 0; i < 2; i++ {
			if verdict, _ := solveCached(t, solver, constraints, inputs); verdict != golem.VerdictUnknown {
				t.Fatalf("verdict=%s, expected %s", verdict, golem.VerdictUnknown)
			}
		}

		if got, exp := solver.Stats(), (golem.SolverStats{Queries: 2, Hits: 0}); got != exp {
			t.Fatalf("Stats()=%+v, expected %+v", got, exp)
		} else if got, exp := solver.Len(), 0; got != exp {
			t.Fatalf("Len()=%d, expected %d", got, exp)
		}
	})

	t.Run("Eviction", func(t *testing.T) {
		solver := golem.NewCachingSolver(golem.NewLinearSolver(), 2)
		for i := 1; i <= 3; i++ {
			solveCached(t, solver, []golem.Expr{
				golem.NewBinaryExpr(golem.EQ, x, golem.NewConstantExpr64(uint64(i))),
			}, inputs)
		}
		if got, exp := solver.Len(), 2; got != exp {
			t.Fatalf("Len()=%d, expected %d", got, exp)
		}

		// Most recent entry survives, oldest was evicted.
		solveCached(t, solver, []golem.Expr{
			golem.NewBinaryExpr(golem.EQ, x, golem.NewConstantExpr64(3)),
		}, inputs)
		solveCached(t, solver, []golem.Expr{
			golem.NewBinaryExpr(golem.EQ, x, golem.NewConstantExpr64(1)),
		}, inputs)
		if got, exp := solver.Stats(), (golem.SolverStats{Queries: 5, Hits: 1}); got != exp {
			t.Fatalf("Stats()=%+v, expected %+v", got, exp)
		}
	})

	// Callers may scribble on a returned model without corrupting the entry.
	t.Run("ModelIsolation", func(t *testing.T) {
		solver := golem.NewCachingSolver(golem.NewLinearSolver(), 0)
		constraints := []golem.Expr{
			golem.NewBinaryExpr(golem.EQ, x, golem.NewConstantExpr64(7)),
		}

		_, model := solveCached(t, solver, constraints, inputs)
		model[0] = 99

		if _, model := solveCached(t, solver, constraints, inputs); model[0] != 7 {
			t.Fatalf("model[0]=%d, expected 7", model[0])
		}
	})
}

// A cache shared between runs answers the second run entirely from memory
// and never changes what the runs conclude.
func TestCachingSolver_Executor(t *testing.T) {
	program := asm(
		readInput(8),
		[]uint32{
			riscu.EncodeLD(riscu.RegT0, riscu.RegA1, 0),
			riscu.EncodeADDI(riscu.RegT1, riscu.RegZero, 7),
			riscu.EncodeDIVU(riscu.RegT2, riscu.RegT1, riscu.RegT0),
		},
		exitZero(),
	)
	solver := golem.NewCachingSolver(golem.NewLinearSolver(), 0)

	e1 := NewExecutor(t, program...)
	e1.Solver = solver
	sum1 := MustRun(t, e1)
	s1 := solver.Stats()

	if s1.Queries == 0 {
		t.Fatal("expected solver queries in first run")
	} else if got, exp := s1.Hits, uint64(0); got != exp {
		t.Fatalf("Hits=%d, expected %d", got, exp)
	}

	e2 := NewExecutor(t, program...)
	e2.Solver = solver
	sum2 := MustRun(t, e2)
	s2 := solver.Stats()

	if got, exp := s2.Hits-s1.Hits, s2.Queries-s1.Queries; got != exp {
		t.Fatalf("second run hits=%d, expected all %d queries cached", got, exp)
	}
	if diff := cmp.Diff(sum1.Faults, sum2.Faults); diff != "" {
		t.Fatalf("fault reports diverged across runs: %s", diff)
	}
	if sum1.Explored != sum2.Explored || sum1.Pruned != sum2.Pruned || sum1.Steps != sum2.Steps {
		t.Fatalf("run shape diverged: %d/%d/%d vs %d/%d/%d",
			sum1.Explored, sum1.Pruned, sum1.Steps,
			sum2.Explored, sum2.Pruned, sum2.Steps)
	}
	if got, exp := sum2.Solver, s2; got != exp {
		t.Fatalf("summary stats=%+v, expected %+v", got, exp)
	}
}

func solveCached(tb testing.TB, solver *golem.CachingSolver, constraints []golem.Expr, inputs []*golem.InputExpr) (golem.Verdict, []uint64) {
	tb.Helper()
	verdict, model, err := solver.Solve(constraints, inputs)
	if err != nil {
		tb.Fatal(err)
	}
	return verdict, model
}
