// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package raidlevel defines the pluggable RAID-level interface the
// core dispatches to for all data-path work, plus a process-wide,
// append-only registry of level modules.
package raidlevel

import (
	"errors"
	"fmt"

	"github.com/blockraid/raidbd/lib/raid/raidio"
)

// Level tags a registered module. Values below 64 are reserved for
// levels with a standard numeric meaning (0, 1, ...); this repo also
// registers a non-numeric "concat" level above that range, the same
// way the reference engine reserves level tags for vendor extensions.
type Level uint8

const (
	Level0     Level = 0
	Level1     Level = 1
	LevelConcat Level = 100
)

func (l Level) String() string {
	switch l {
	case Level0:
		return "raid0"
	case Level1:
		return "raid1"
	case LevelConcat:
		return "concat"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// ConstraintKind selects how a module's Constraint.Value maps to
// min_operational at array-creation time.
type ConstraintKind int

const (
	ConstraintUnset ConstraintKind = iota
	ConstraintMaxRemoved
	ConstraintMinOperational
)

// Constraint determines min_operational given the declared member
// count N.
type Constraint struct {
	Kind  ConstraintKind
	Value int
}

// MinOperational derives min_operational for an array with n declared
// members.
func (c Constraint) MinOperational(n int) (int, error) {
	switch c.Kind {
	case ConstraintMaxRemoved:
		return n - c.Value, nil
	case ConstraintMinOperational:
		return c.Value, nil
	case ConstraintUnset:
		if c.Value != 0 {
			return 0, fmt.Errorf("raidlevel: UNSET constraint must carry value 0, got %d", c.Value)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("raidlevel: unknown constraint kind %d", c.Kind)
	}
}

// Geometry is the subset of RAID-device state a level module's
// data-path algorithms need to compute placement; the core derives it
// once at CONFIGURING→ONLINE and never mutates it in place afterward.
type Geometry struct {
	NumBases         int
	StripSizeBlocks  int64 // 0 for mirror levels
	StripSizeShift   uint  // log2(StripSizeBlocks); meaningless when StripSizeBlocks == 0
	BlockLength      uint32
	BlockLengthShift uint
}

// IOType is a front-end request type the core may dispatch.
type IOType int

const (
	IOTypeRead IOType = iota
	IOTypeWrite
	IOTypeUnmap
	IOTypeFlush
	IOTypeReset
)

func (t IOType) String() string {
	switch t {
	case IOTypeRead:
		return "READ"
	case IOTypeWrite:
		return "WRITE"
	case IOTypeUnmap:
		return "UNMAP"
	case IOTypeFlush:
		return "FLUSH"
	case IOTypeReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// IO is the per-request context the core hands to a level module: the
// front-end request's shape, a lookup from slot to that executor's
// base channel, and the single shared aggregator every sub-completion
// must call exactly once its work is accounted for.
type IO interface {
	Geometry() Geometry
	Type() IOType
	Offset() int64 // logical block offset
	Length() int64 // length in blocks
	Buffer() []byte

	// BaseHandle returns the executor-local channel handle for slot,
	// or nil if that slot is currently vacant.
	BaseHandle(slot int) raidio.Handle

	// BaseBlocks returns slot's configured data size in blocks, used
	// by levels (concat) whose addressing depends on per-member
	// capacity rather than a fixed stripe width.
	BaseBlocks(slot int) int64

	// Init resets the aggregator to track `remaining` outstanding
	// sub-completions before any are issued, and zeroes the submitted
	// cursor.
	Init(remaining int)

	// CompletePart is complete_part(io, n, status): the only path by
	// which a module may progress or finish a front-end request.
	CompletePart(n int, err error)

	// Submitted returns how many sub-I/Os have been handed to a base
	// (successfully or with an immediate non-ENOMEM failure) so far;
	// a resumed-after-ENOMEM submission loop starts back here.
	Submitted() int
	AdvanceSubmitted(n int)

	// QueueWait registers a retry with the given base slot's wait
	// queue after that slot's submission returned
	// raidio.ErrResourceExhausted.
	QueueWait(slot int, retry func())
}

// ErrNullPayloadUnsupported is an error a Module without FLUSH/UNMAP
// support may return from SubmitNullPayload. The core does not rely on
// it: it checks SupportsNullPayload and never dispatches FLUSH/UNMAP to
// a module that reports false.
var ErrNullPayloadUnsupported = errors.New("raidlevel: submit_null_payload not supported")

// Module is an immutable descriptor a RAID level registers once at
// process start. Start/Stop/Resize run on the app thread; SubmitRW and
// SubmitNullPayload run on the executor thread of the submitter.
type Module interface {
	Level() Level
	MinBaseBdevs() int
	Constraint() Constraint

	// Mirror reports whether this level requires strip_size_kb == 0
	// (true) or a positive power-of-two strip size (false).
	Mirror() bool

	// Start validates geometry and performs any one-time per-array
	// setup; a non-nil error fails array configuration.
	Start(g Geometry) error

	// Stop tears down per-array state. Returning true means the
	// teardown completed synchronously; our reference modules are
	// always synchronous, so all three always return true.
	Stop() bool

	// Resize is invoked whenever the core recomputes geometry after a
	// base reports a new block count; a level with no resize-time
	// policy of its own returns nil unconditionally. A non-nil error
	// aborts the resize.
	Resize(g Geometry) error

	SubmitRW(io IO) error
	SubmitNullPayload(io IO) error

	// SupportsNullPayload reports statically (no IO in flight required)
	// whether SubmitNullPayload is a real implementation rather than a
	// stub that always returns ErrNullPayloadUnsupported; the core
	// uses this at capability-query time instead of probing with I/O.
	SupportsNullPayload() bool

	MemoryDomainsSupported() bool
}
