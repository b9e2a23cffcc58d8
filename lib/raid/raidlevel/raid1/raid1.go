// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package raid1 implements the mirroring level: every configured
// member holds a full copy, reads are satisfied from whichever member
// is available first, and writes fan out to every member.
package raid1

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/raid/raidlevel"
)

func init() {
	raidlevel.Register(module{})
}

type module struct{}

var _ raidlevel.Module = module{}

func (module) Level() raidlevel.Level { return raidlevel.Level1 }
func (module) MinBaseBdevs() int      { return 2 }
func (module) Constraint() raidlevel.Constraint {
	return raidlevel.Constraint{Kind: raidlevel.ConstraintMinOperational, Value: 1}
}
func (module) Mirror() bool { return true }

func (module) Start(g raidlevel.Geometry) error {
	if g.StripSizeBlocks != 0 {
		return errors.New("raid1: strip_size_blocks must be zero for a mirror level")
	}
	return nil
}

func (module) Stop() bool { return true }

func (module) Resize(g raidlevel.Geometry) error { return nil }

func (module) MemoryDomainsSupported() bool { return true }
func (module) SupportsNullPayload() bool    { return true }

func (module) SubmitRW(io raidlevel.IO) error {
	switch io.Type() {
	case raidlevel.IOTypeRead:
		return submitRead(io)
	case raidlevel.IOTypeWrite:
		return submitWrite(io)
	default:
		io.Init(1)
		io.CompletePart(1, fmt.Errorf("raid1: unsupported op %v", io.Type()))
		return nil
	}
}

func pickReadSlot(io raidlevel.IO) int {
	g := io.Geometry()
	for slot := 0; slot < g.NumBases; slot++ {
		if io.BaseHandle(slot) != nil {
			return slot
		}
	}
	return -1
}

// submitRead satisfies a read from the first available mirror leg.
// Resumption after ENOMEM retries that same leg; the reference engine
// likewise does not fail a read over to a different leg mid-flight.
func submitRead(io raidlevel.IO) error {
	if io.Submitted() == 0 {
		io.Init(1)
	}
	slot := pickReadSlot(io)
	if slot < 0 {
		io.CompletePart(1, errors.New("raid1: no operational member to read from"))
		return nil
	}
	h := io.BaseHandle(slot)
	off := raidio.BlockAddr(io.Offset())
	err := h.SubmitRead(context.Background(), io.Buffer(), off, func(err error) {
		io.CompletePart(1, err)
	})
	if errors.Is(err, raidio.ErrResourceExhausted) {
		io.QueueWait(slot, func() { _ = submitRead(io) })
		return nil
	}
	if err != nil {
		io.CompletePart(1, err)
		return nil
	}
	io.AdvanceSubmitted(1)
	return nil
}

func submitWrite(io raidlevel.IO) error {
	g := io.Geometry()
	if io.Submitted() == 0 {
		io.Init(g.NumBases)
	}
	off := raidio.BlockAddr(io.Offset())
	for slot := io.Submitted(); slot < g.NumBases; slot++ {
		h := io.BaseHandle(slot)
		if h == nil {
			io.CompletePart(1, nil)
			io.AdvanceSubmitted(1)
			continue
		}
		err := h.SubmitWrite(context.Background(), io.Buffer(), off, func(err error) {
			io.CompletePart(1, err)
		})
		if errors.Is(err, raidio.ErrResourceExhausted) {
			io.QueueWait(slot, func() { _ = submitWrite(io) })
			return nil
		}
		if err != nil {
			io.CompletePart(1, err)
			io.AdvanceSubmitted(1)
			continue
		}
		io.AdvanceSubmitted(1)
	}
	return nil
}

func (module) SubmitNullPayload(io raidlevel.IO) error {
	return raidlevel.FanOutNullPayload(io, func(h raidio.Handle, done raidio.CompleteFunc) error {
		switch io.Type() {
		case raidlevel.IOTypeFlush:
			return h.SubmitFlush(context.Background(), done)
		case raidlevel.IOTypeUnmap:
			return h.SubmitUnmap(context.Background(), raidio.BlockAddr(io.Offset()), raidio.BlockAddr(io.Length()), done)
		default:
			return fmt.Errorf("raid1: unsupported null-payload op %v", io.Type())
		}
	})
}
