package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strings"

	"github.com/golem-se/golem"
	"github.com/golem-se/golem/riscu"
	"github.com/golem-se/golem/smtlib"
	"github.com/golem-se/golem/z3"
)

// ExecuteCommand represents a command for symbolically executing a binary.
type ExecuteCommand struct{}

// NewExecuteCommand returns a new instance of ExecuteCommand.
func NewExecuteCommand() *ExecuteCommand {
	return &ExecuteCommand{}
}

// Run executes the "execute" subcommand.
func (cmd *ExecuteCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("golem-execute", flag.ContinueOnError)
	strategy := fs.String("strategy", "dfs", "search strategy (dfs, coverage, rarity)")
	solverName := fs.String("solver", "z3", "solver backend (linear, z3, smtlib)")
	solverCmd := fs.String("solver-cmd", "", "smtlib solver command")
	solverTimeout := fs.Duration("solver-timeout", 0, "per-query solver timeout")
	maxSteps := fs.Int("max-steps", 0, "instruction budget across all paths")
	maxStates := fs.Int("max-states", 0, "state budget")
	deadline := fs.Duration("deadline", 0, "wall clock budget")
	memory := fs.Uint64("memory", golem.DefaultMemorySize, "address space size in bytes")
	memoryModel := fs.String("memory-model", "concretize", "symbolic address handling (concretize, ite)")
	uninit := fs.String("uninit", "symbolic", "uninitialized read model (symbolic, zero, trap)")
	faults := fs.String("faults", "all", "fault classes to check, comma separated")
	unknown := fs.String("unknown", "feasible", "treatment of unknown verdicts (feasible, infeasible)")
	haltOnFault := fs.Bool("halt-on-fault", false, "stop at the first fault")
	rarityMean := fs.String("rarity-mean", "arithmetic", "rarity averaging (arithmetic, harmonic, geometric)")
	noCache := fs.Bool("no-cache", false, "disable the query cache")
	cacheSize := fs.Int("cache-size", golem.DefaultCacheSize, "query cache capacity")
	verbose := fs.Bool("v", false, "verbose")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("binary required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many binaries specified")
	}

	log.SetFlags(0)
	if !*verbose {
		log.SetOutput(ioutil.Discard)
	}

	prog, err := riscu.Load(fs.Arg(0))
	if err != nil {
		return err
	}

	e := golem.NewExecutor(prog)
	e.MemorySize = *memory
	e.MaxSteps = *maxSteps
	e.MaxStates = *maxStates
	e.Deadline = *deadline
	e.HaltOnFault = *haltOnFault

	switch *memoryModel {
	case "concretize", "concrete":
		e.MemoryModel = golem.MemoryModelConcretize
	case "ite", "symbolic":
		e.MemoryModel = golem.MemoryModelIte
	default:
		return fmt.Errorf("invalid memory model: %q", *memoryModel)
	}

	switch model := golem.UninitModel(*uninit); model {
	case golem.UninitSymbolic, golem.UninitZero, golem.UninitTrap:
		e.Uninit = model
	default:
		return fmt.Errorf("invalid uninitialized read model: %q", *uninit)
	}

	if e.Faults, err = parseFaults(*faults); err != nil {
		return err
	}

	switch *unknown {
	case "feasible":
		e.UnknownIsFeasible = true
	case "infeasible":
		e.UnknownIsFeasible = false
	default:
		return fmt.Errorf("invalid unknown verdict treatment: %q", *unknown)
	}

	switch *strategy {
	case "dfs":
		e.Searcher = golem.NewDFSSearcher()
	case "coverage":
		e.Searcher = golem.NewCoverageSearcher()
	case "rarity":
		switch mean := golem.MeanKind(*rarityMean); mean {
		case golem.MeanArithmetic, golem.MeanHarmonic, golem.MeanGeometric:
			e.Searcher = golem.NewRaritySearcher(e, mean)
		default:
			return fmt.Errorf("invalid rarity mean: %q", *rarityMean)
		}
	default:
		return fmt.Errorf("invalid strategy: %q", *strategy)
	}

	var solver golem.Solver
	switch *solverName {
	case "linear":
		solver = golem.NewLinearSolver()
	case "z3":
		z3Solver := z3.NewSolver()
		defer z3Solver.Close()
		z3Solver.Timeout = *solverTimeout
		solver = golem.SolverChain{golem.NewLinearSolver(), z3Solver}
	case "smtlib":
		smtSolver := smtlib.NewSolver()
		if *solverCmd != "" {
			smtSolver.Command = *solverCmd
		}
		smtSolver.Timeout = *solverTimeout
		solver = golem.SolverChain{golem.NewLinearSolver(), smtSolver}
	default:
		return fmt.Errorf("invalid solver: %q", *solverName)
	}
	if !*noCache {
		solver = golem.NewCachingSolver(solver, *cacheSize)
	}
	e.Solver = solver

	summary, err := e.Run(ctx)
	if err != nil {
		return err
	}

	for _, report := range summary.Faults {
		fmt.Println(report)
	}
	fmt.Println(summary)

	if len(summary.Faults) > 0 {
		return errFaultsFound
	}
	return nil
}

// parseFaults converts a comma separated list of fault class names into a
// FaultSet. The name "all" selects every class.
func parseFaults(s string) (golem.FaultSet, error) {
	if s == "all" {
		return golem.DefaultFaults(), nil
	}

	set := golem.FaultSet{}
	for _, name := range strings.Split(s, ",") {
		switch kind := golem.FaultKind(strings.TrimSpace(name)); kind {
		case golem.FaultDivisionByZero, golem.FaultOverflow, golem.FaultOutOfBounds,
			golem.FaultUnaligned, golem.FaultAssertion:
			set[kind] = true
		default:
			return nil, fmt.Errorf("invalid fault class: %q", name)
		}
	}
	return set, nil
}

func (cmd *ExecuteCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: golem execute [arguments] binary

Explores the binary's paths with symbolic inputs supplied by the read
syscall and reports every reachable fault with a concrete witness.
Exits with status 1 if any fault is found.

Arguments:

	-strategy name
	    Search strategy: dfs, coverage or rarity. Defaults to dfs.
	-solver name
	    Solver backend: linear, z3 or smtlib. Defaults to z3.
	-solver-cmd command
	    Solver invocation for the smtlib backend. Defaults to "z3 -in".
	-solver-timeout duration
	    Per-query time limit, e.g. 30s. Defaults to none.
	-max-steps n
	    Stop after retiring n instructions across all paths.
	-max-states n
	    Stop after creating n execution states.
	-deadline duration
	    Stop after the given wall clock time.
	-memory bytes
	    Address space size. Defaults to 1MB.
	-memory-model name
	    Symbolic address handling: concretize or ite.
	-uninit name
	    Reads of unwritten memory: symbolic, zero or trap.
	-faults list
	    Comma separated fault classes to check, or "all".
	-unknown name
	    Treat unknown solver verdicts as feasible or infeasible.
	-halt-on-fault
	    Stop the run at the first reported fault.
	-rarity-mean name
	    Averaging for the rarity strategy: arithmetic, harmonic or
	    geometric.
	-no-cache
	    Disable the solver query cache.
	-cache-size n
	    Query cache capacity. Defaults to 4096 entries.
	-v
	    Enable verbose logging.
`[1:])
}
