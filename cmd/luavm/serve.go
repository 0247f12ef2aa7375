// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"net"
	"net/http"
	"os"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/gorilla/handlers"
	"github.com/spf13/cobra"
	"zombiezen.com/go/log"
	"zombiezen.com/go/xcontext"

	"witchlight.dev/luavm/internal/bytecode"
	"witchlight.dev/luavm/internal/runtime"
)

func newServeCommand(g *globalConfig) *cobra.Command {
	var addr string
	c := &cobra.Command{
		Use:                   "serve CHUNK",
		Short:                 "run a chunk and expose its VM state over a debug HTTP server",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.Flags().StringVar(&addr, "addr", "localhost:8731", "debug server listen `address`")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), g, addr, args[0])
	}
	return c
}

// runServe loads a chunk, executes it to completion, then serves its
// resulting VM state (GC snapshot, main thread traceback) over HTTP until
// the command's context is canceled. Each accepted connection's context
// is tied to that connection's lifetime via [xcontext.CloseWhenDone], the
// same pattern the teacher's RPC client uses for its own connections.
func runServe(ctx context.Context, g *globalConfig, addr, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	proto, err := bytecode.ReadPrototype(f)
	f.Close()
	if err != nil {
		return err
	}

	state := runtime.NewState()
	state.SetPacing(g.GCPause, g.GCStepMul)
	state.SetFinalizerBudget(g.GCFinNum)
	env := runtime.NewGlobals(state)
	th := state.MainThread()
	main := state.LoadMainChunk(proto, env)
	log.Infof(ctx, "%s: running under state %s", path, state.ID())
	if _, err := th.Call(main, nil, 0); err != nil {
		log.Errorf(ctx, "%s: %v", path, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/gc", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := jsonv2.MarshalWrite(w, state.GCStats()); err != nil {
			log.Errorf(r.Context(), "%v", err)
		}
	})
	mux.HandleFunc("/trace", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := jsonv2.MarshalWrite(w, th.Traceback()); err != nil {
			log.Errorf(r.Context(), "%v", err)
		}
	})

	logged := handlers.CombinedLoggingHandler(os.Stderr, handlers.RecoveryHandler()(mux))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer listener.Close()
	log.Infof(ctx, "debug server listening on %s", listener.Addr())

	srv := &http.Server{
		Handler: logged,
		ConnContext: func(connCtx context.Context, conn net.Conn) context.Context {
			return xcontext.CloseWhenDone(connCtx, conn)
		},
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	err = srv.Serve(listener)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
