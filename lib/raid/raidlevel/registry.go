// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raidlevel

import (
	"fmt"

	"git.lukeshu.com/go/typedsync"
)

// registry is the process-wide, append-only level table. Mutated only
// on the app thread (at process init, via Register); read-mostly from
// array creation thereafter.
var registry typedsync.Map[Level, Module]

// Register adds m to the process-wide level table. Duplicate
// registration of the same Level is a programming error and is fatal,
// the same severity the reference engine gives a duplicate
// vbdev_raid module registration: this can only happen from a buggy
// init-time wiring, never from user input.
func Register(m Module) {
	if _, loaded := registry.LoadOrStore(m.Level(), m); loaded {
		panic(fmt.Sprintf("raidlevel: duplicate registration for level %v", m.Level()))
	}
}

// Lookup returns the module registered for level, if any.
func Lookup(level Level) (Module, bool) {
	return registry.Load(level)
}
