// Command casm is the CLI front end for the compiler driver and VM (spec
// §4.7). Grounded on the teacher's main.go flag-driven compile-then-run
// loop (`-run`, `-o`, `-T`, `-debug`), reworked per SPEC_FULL.md §4.7 onto
// github.com/spf13/cobra's declarative subcommand/flag registration instead
// of a hand-rolled os.Args switch.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"j5.nz/casm/internal/compiler"
	"j5.nz/casm/internal/vm"
)

var (
	debug    bool
	heapSize uint64
	quantum  int
)

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

func newDriver() *compiler.Driver {
	log := newLogger()
	stdio := &vm.StdIO{Out: os.Stdout, Err: os.Stderr}
	rt := vm.NewRuntime(heapSize, stdio, log)
	return compiler.NewDriver(rt, quantum, log)
}

func main() {
	root := &cobra.Command{
		Use:   "casm",
		Short: "casm compiles and runs the CASM teaching language",
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug-level diagnostics")
	root.PersistentFlags().Uint64Var(&heapSize, "heap", 16<<20, "heap capacity in bytes")
	root.PersistentFlags().IntVar(&quantum, "quantum", 1000, "scheduler instructions per thread per major frame")

	root.AddCommand(runCmd(), disasmCmd(), replCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "compile a source file and run it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			d := newDriver()
			return d.RunFile(src)
		},
	}
}

func disasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <file>",
		Short: "compile a source file and print its CASM listing without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			d := newDriver()
			if err := d.LoadModule(src); err != nil {
				return err
			}
			tid := d.Spawn(compiler.DefaultStackCapacity)
			if err := d.Compile(tid, []byte("main();")); err != nil {
				return err
			}
			listing, err := d.Disassemble(tid)
			if err != nil {
				return err
			}
			fmt.Print(listing)
			return nil
		},
	}
}

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "read statements from stdin, compiling and running each incrementally",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := newDriver()
			tid := d.Spawn(compiler.DefaultStackCapacity)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := scanner.Text()
				if line == "" {
					continue
				}
				if err := d.Compile(tid, []byte(line)); err != nil {
					fmt.Fprintln(os.Stderr, err)
					continue
				}
				// A thread that already ran to completion exits permanently
				// (vm.Scheduler never revisits an exited thread); each
				// incremental compile hands it more code, so it has more
				// work and must go back to ready before the next slice.
				if th, ok := d.Runtime.Thread(tid); ok {
					th.Status = vm.ThreadReady
				}
				if err := d.Sched.RunUntilAllExited(); err != nil {
					fmt.Fprintln(os.Stderr, err)
				}
			}
			return scanner.Err()
		},
	}
}
