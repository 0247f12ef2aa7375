// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"witchlight.dev/luavm/internal/bytecode"
)

func newDisasmCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "disasm CHUNK",
		Short:                 "disassemble a compiled bytecode chunk",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runDisasm(args[0])
	}
	return c
}

func runDisasm(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	proto, err := bytecode.ReadPrototype(f)
	if err != nil {
		return fmt.Errorf("%s: %v", path, err)
	}
	return proto.Disassemble(os.Stdout)
}
