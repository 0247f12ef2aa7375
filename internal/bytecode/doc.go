// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package bytecode describes the instruction set and function prototypes
// consumed by the virtual machine in [witchlight.dev/luavm/internal/runtime].
//
// This package does not compile source to bytecode.
// It only defines the wire shape that a compiler (an external collaborator,
// not provided by this module) is expected to produce: [Instruction] words,
// [Prototype] trees, and [Constant] values. Tests in this module and sibling
// modules construct [Prototype] values directly in Go rather than parsing
// Lua source.
package bytecode
