// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"zombiezen.com/go/log"

	"witchlight.dev/luavm/internal/bytecode"
	"witchlight.dev/luavm/internal/runtime"
)

func newRunCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "run CHUNK [CHUNK ...]",
		Short:                 "run one or more compiled bytecode chunks",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runChunks(cmd.Context(), g, args)
	}
	return c
}

// runChunks runs every named chunk to completion. Each chunk gets its own
// [runtime.GlobalState] (per spec §5, states never share mutable data),
// so running several concurrently is a matter of fanning the group out
// over goroutines and letting errgroup collect the first failure.
func runChunks(ctx context.Context, g *globalConfig, paths []string) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, path := range paths {
		path := path
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return runChunk(ctx, path, g)
		})
	}
	return group.Wait()
}

func runChunk(ctx context.Context, path string, g *globalConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	proto, err := bytecode.ReadPrototype(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %v", path, err)
	}

	state := runtime.NewState()
	state.SetPacing(g.GCPause, g.GCStepMul)
	state.SetFinalizerBudget(g.GCFinNum)
	env := runtime.NewGlobals(state)
	main := state.LoadMainChunk(proto, env)
	log.Debugf(ctx, "%s: running under state %s", path, state.ID())

	th := state.MainThread()
	if _, err := th.Call(main, nil, 0); err != nil {
		return fmt.Errorf("%s: %v", path, err)
	}
	return nil
}
