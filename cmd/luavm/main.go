// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"zombiezen.com/go/bass/sigterm"
	"zombiezen.com/go/log"
)

func main() {
	rootCommand := &cobra.Command{
		Use:           "luavm",
		Short:         "a Lua 5.3 bytecode interpreter",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	g := defaultGlobalConfig()
	configPath := rootCommand.PersistentFlags().String("config", defaultConfigPath(), "`path` to JSONC config file")
	showDebug := rootCommand.PersistentFlags().Bool("debug", false, "show debugging output")
	rootCommand.PersistentFlags().IntVar(&g.GCPause, "gcpause", g.GCPause, "collector pause percentage")
	rootCommand.PersistentFlags().IntVar(&g.GCStepMul, "gcstepmul", g.GCStepMul, "collector step multiplier percentage")
	rootCommand.PersistentFlags().IntVar(&g.GCFinNum, "gcfinnum", g.GCFinNum, "initial per-step finalizer budget, doubling until tobefnz empties")
	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := g.mergeFile(*configPath); err != nil {
			return err
		}
		if *showDebug {
			g.Debug = true
		}
		initLogging(g.Debug)
		return nil
	}

	rootCommand.AddCommand(
		newRunCommand(g),
		newDisasmCommand(g),
		newReplCommand(g),
		newServeCommand(g),
		newVersionCommand(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), sigterm.Signals()...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		initLogging(g.Debug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "luavm: ", log.StdFlags, nil),
		})
	})
}
