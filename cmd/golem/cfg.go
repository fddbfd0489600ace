package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/golem-se/golem/riscu"
)

// CFGCommand represents a command for printing a program's control flow graph.
type CFGCommand struct{}

// NewCFGCommand returns a new instance of CFGCommand.
func NewCFGCommand() *CFGCommand {
	return &CFGCommand{}
}

// Run executes the "cfg" subcommand.
func (cmd *CFGCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("golem-cfg", flag.ContinueOnError)
	output := fs.String("o", "", "output path")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("binary required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many binaries specified")
	}

	prog, err := riscu.Load(fs.Arg(0))
	if err != nil {
		return err
	}

	w := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return prog.CFG.WriteDot(w)
}

func (cmd *CFGCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: golem cfg [arguments] binary

Writes the program's control flow graph in Graphviz dot format. Each
node carries the block's address range and its distance to an exit.

Arguments:

	-o path
	    Write to the given file instead of stdout.
`[1:])
}
