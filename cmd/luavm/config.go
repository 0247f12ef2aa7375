// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/tailscale/hujson"
)

// globalConfig holds the collector tunables and CLI defaults that
// survive across invocations, loaded from an optional JSONC file the
// same way cmd/zb loads its store configuration.
type globalConfig struct {
	Debug      bool `json:"debug"`
	GCPause    int  `json:"gcPause"`
	GCStepMul  int  `json:"gcStepMul"`
	GCFinNum   int  `json:"gcFinNum"`
}

func defaultGlobalConfig() *globalConfig {
	return &globalConfig{
		GCPause:   200,
		GCStepMul: 100,
		GCFinNum:  1,
	}
}

func defaultConfigPath() string {
	dir := configDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "luavm", "config.jsonc")
}

// mergeFile reads a JSONC (JSON-with-comments) config file via hujson,
// standardizes it, and unmarshals on top of g's existing defaults.
// A missing file is not an error.
func (g *globalConfig) mergeFile(path string) error {
	if path == "" {
		return nil
	}
	huJSONData, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	jsonData, err := hujson.Standardize(huJSONData)
	if err != nil {
		return fmt.Errorf("read %s: %v", path, err)
	}
	if err := jsonv2.Unmarshal(jsonData, g, jsonv2.RejectUnknownMembers(false)); err != nil {
		return fmt.Errorf("read %s: %v", path, err)
	}
	return nil
}
