// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"witchlight.dev/luavm/internal/bytecode"
	"witchlight.dev/luavm/internal/runtime"
)

func newReplCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "repl",
		Short:                 "load compiled chunks and inspect VM state interactively",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runRepl(cmd.Context(), g)
	}
	return c
}

// runRepl drives one [runtime.GlobalState] across a session of commands
// typed at stdin: `load PATH` installs and runs a chunk against the
// state's shared globals, `gc`/`step` drive the collector directly
// (spec §4.4), and `stats`/`trace` report on it. This is the natural
// place to exercise [runtime.Thread.Resume]/[runtime.Thread.Yield]
// end-to-end (a loaded chunk may itself call a coroutine-aware
// GoFunction registered ahead of time) without needing a compiler.
func runRepl(ctx context.Context, g *globalConfig) error {
	state := runtime.NewState()
	state.SetPacing(g.GCPause, g.GCStepMul)
	state.SetFinalizerBudget(g.GCFinNum)
	env := runtime.NewGlobals(state)
	th := state.MainThread()

	width := 80
	if w, _, err := term.GetSize(int(os.Stdin.Fd())); err == nil && w > 0 {
		width = w
	}

	prompt := "luavm> "
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		prompt = ""
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Print(prompt)
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "load":
			if len(fields) != 2 {
				fmt.Println("usage: load PATH")
				continue
			}
			if err := replLoad(th, env, fields[1]); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		case "gc":
			if err := state.Collect(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			fmt.Println("full collection ran")
		case "step":
			if err := state.Step(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			fmt.Println("one incremental step ran")
		case "stats":
			replStats(state, width)
		case "trace":
			for _, frame := range th.Traceback() {
				if frame.IsGoFrame {
					fmt.Printf("  [Go] %s\n", frame.FuncName)
				} else {
					fmt.Printf("  %s:%d\n", frame.Source, frame.Line)
				}
			}
		default:
			fmt.Printf("unknown command %q (load, gc, step, stats, trace, quit)\n", fields[0])
		}
	}
}

func replLoad(th *runtime.Thread, env runtime.Value, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	proto, err := bytecode.ReadPrototype(f)
	if err != nil {
		return fmt.Errorf("%s: %v", path, err)
	}
	main := th.Global().LoadMainChunk(proto, env)
	_, err = th.Call(main, nil, 0)
	return err
}

func replStats(state *runtime.GlobalState, width int) {
	stats := state.GCStats()
	line := fmt.Sprintf("phase=%s debt=%d gray=%d grayagain=%d weak=%d ephemeron=%d allweak=%d",
		stats.Phase, stats.Debt, stats.GrayLen, stats.GrayAgain, stats.WeakLen, stats.Ephemeron, stats.AllWeak)
	if len(line) > width {
		line = line[:width]
	}
	fmt.Println(line)
}
