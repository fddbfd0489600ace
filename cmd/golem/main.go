package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
)

// errFaultsFound marks a run that completed but detected at least one fault.
var errFaultsFound = errors.New("faults found")

func main() {
	if err := run(context.Background(), os.Args[1:]); err == errFaultsFound {
		os.Exit(1)
	} else if err == flag.ErrHelp {
		os.Exit(2)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage()
		return flag.ErrHelp
	case "execute":
		return NewExecuteCommand().Run(ctx, args)
	case "cfg":
		return NewCFGCommand().Run(ctx, args)
	case "disassemble":
		return NewDisassembleCommand().Run(ctx, args)
	default:
		return fmt.Errorf(`golem %s: unknown command`, cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `
Golem is a tool for symbolic execution of RISC-U binaries.

Usage:

	golem <command> [arguments]

The commands are:

	execute      explore a binary and report reachable faults
	cfg          write the control flow graph in Graphviz dot format
	disassemble  print the instruction listing
	help         this screen
`[1:])
}
