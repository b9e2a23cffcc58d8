// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package raidbase holds the base-slot type: the RAID device's
// per-position record of a (possibly not-yet-bound) member. It knows
// nothing about the RAID device that owns it — the core keeps the
// slot array as parent-owned storage and addresses slots by index,
// rather than giving each slot a back-pointer to its device, the same
// "no shared ownership" discipline used for other cyclic-in-spirit
// relationships in this engine.
package raidbase

import (
	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/util"
)

// Slot is one base-device adapter: index 0..N-1 in a RAID device's
// member array.
type Slot struct {
	Index int

	Name string    // member name; "" while vacant
	UUID util.UUID // util.Nil until bound

	// Handle is the app-thread I/O handle used for control-plane work
	// (superblock reads/writes); nil unless Configured.
	Handle raidio.Handle

	DataOffset raidio.BlockAddr // in blocks
	DataSize   raidio.BlockAddr // in blocks
	BlockCount raidio.BlockAddr // last block count observed from the base

	Configured      bool
	RemoveScheduled bool

	// RemoveCB, if set, fires exactly once when the slot finishes
	// being released.
	RemoveCB func(err error)
}

// Vacant reports whether the slot currently has neither a name nor a
// UUID; a slot cleared by Reset is vacant again.
func (s *Slot) Vacant() bool {
	return s.Name == "" && s.UUID == util.Nil
}

// Reset clears a slot back to vacant, preserving its Index.
func (s *Slot) Reset() {
	idx := s.Index
	*s = Slot{Index: idx}
}
