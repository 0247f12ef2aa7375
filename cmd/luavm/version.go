// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// luavmVersion is the version string filled in by the linker (e.g. "1.2.3").
var luavmVersion string

func newVersionCommand() *cobra.Command {
	c := &cobra.Command{
		Use:                   "version",
		Short:                 "show version information",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		v := luavmVersion
		if v == "" {
			v = "(unknown)"
		}
		fmt.Printf("luavm version %s\nGo: %s %s/%s\n", v, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return nil
	}
	return c
}
