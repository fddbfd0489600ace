package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/golem-se/golem/riscu"
)

// DisassembleCommand represents a command for printing a program listing.
type DisassembleCommand struct{}

// NewDisassembleCommand returns a new instance of DisassembleCommand.
func NewDisassembleCommand() *DisassembleCommand {
	return &DisassembleCommand{}
}

// Run executes the "disassemble" subcommand.
func (cmd *DisassembleCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("golem-disassemble", flag.ContinueOnError)
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
	return riscu.Fprint(os.Stdout, prog)
}

func (cmd *DisassembleCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: golem disassemble binary

Prints the instruction listing of the binary's text segment to stdout.
`[1:])
}
