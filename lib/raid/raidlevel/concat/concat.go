// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package concat implements a non-redundant, non-striping level:
// members are addressed end to end in slot order by cumulative
// capacity rather than round-robin strips.
package concat

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/raid/raidlevel"
	"github.com/blockraid/raidbd/lib/util"
)

func init() {
	raidlevel.Register(module{})
}

type module struct{}

var _ raidlevel.Module = module{}

func (module) Level() raidlevel.Level { return raidlevel.LevelConcat }
func (module) MinBaseBdevs() int      { return 1 }
func (module) Constraint() raidlevel.Constraint {
	return raidlevel.Constraint{Kind: raidlevel.ConstraintUnset, Value: 0}
}
func (module) Mirror() bool { return false }

func (module) Start(g raidlevel.Geometry) error {
	if g.StripSizeBlocks == 0 {
		return errors.New("concat: strip_size_blocks must be nonzero")
	}
	if !util.IsPowerOfTwo(g.StripSizeBlocks) {
		return fmt.Errorf("concat: strip_size_blocks %d is not a power of two", g.StripSizeBlocks)
	}
	return nil
}

func (module) Stop() bool { return true }

func (module) Resize(g raidlevel.Geometry) error { return nil }

func (module) MemoryDomainsSupported() bool { return true }
func (module) SupportsNullPayload() bool    { return true }

type run struct {
	slot         int
	baseBlockOff raidio.BlockAddr
	bufOff       int64
	blocks       int64
}

// splitRuns walks [offset, offset+length) across slots in cumulative
// order, the way a concatenated (linear) volume addresses its
// members: slot 0 holds logical blocks [0, BaseBlocks(0)), slot 1
// holds the next BaseBlocks(1), and so on.
func splitRuns(io raidlevel.IO, offset, length int64) ([]run, error) {
	g := io.Geometry()
	blockLen := int64(g.BlockLength)
	var out []run
	cur := offset
	remaining := length
	var bufOff int64
	var base int64
	for slot := 0; slot < g.NumBases && remaining > 0; slot++ {
		slotBlocks := io.BaseBlocks(slot)
		slotEnd := base + slotBlocks
		if cur < slotEnd {
			within := cur - base
			runLen := slotBlocks - within
			if runLen > remaining {
				runLen = remaining
			}
			out = append(out, run{
				slot:         slot,
				baseBlockOff: raidio.BlockAddr(within),
				bufOff:       bufOff,
				blocks:       runLen,
			})
			cur += runLen
			bufOff += runLen * blockLen
			remaining -= runLen
		}
		base = slotEnd
	}
	if remaining > 0 {
		return nil, fmt.Errorf("concat: request [%d,%d) runs past end of array", offset, offset+length)
	}
	return out, nil
}

func (module) SubmitRW(io raidlevel.IO) error {
	runs, err := splitRuns(io, io.Offset(), io.Length())
	if err != nil {
		io.Init(1)
		io.CompletePart(1, err)
		return nil
	}
	if io.Submitted() == 0 {
		io.Init(len(runs))
	}
	return submitFrom(io, runs, io.Submitted())
}

func submitFrom(io raidlevel.IO, runs []run, start int) error {
	for i := start; i < len(runs); i++ {
		r := runs[i]
		h := io.BaseHandle(r.slot)
		if h == nil {
			io.CompletePart(1, fmt.Errorf("concat: slot %d vacant", r.slot))
			io.AdvanceSubmitted(1)
			continue
		}
		byteLen := r.blocks * int64(io.Geometry().BlockLength)
		buf := io.Buffer()[r.bufOff : r.bufOff+byteLen]
		var err error
		switch io.Type() {
		case raidlevel.IOTypeRead:
			err = h.SubmitRead(context.Background(), buf, r.baseBlockOff, func(err error) {
				io.CompletePart(1, err)
			})
		case raidlevel.IOTypeWrite:
			err = h.SubmitWrite(context.Background(), buf, r.baseBlockOff, func(err error) {
				io.CompletePart(1, err)
			})
		default:
			io.CompletePart(1, fmt.Errorf("concat: unsupported op %v", io.Type()))
			io.AdvanceSubmitted(1)
			continue
		}
		if errors.Is(err, raidio.ErrResourceExhausted) {
			io.QueueWait(r.slot, func() {
				_ = submitFrom(io, runs, i)
			})
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
	switch io.Type() {
	case raidlevel.IOTypeFlush:
		return raidlevel.FanOutNullPayload(io, func(h raidio.Handle, done raidio.CompleteFunc) error {
			return h.SubmitFlush(context.Background(), done)
		})
	case raidlevel.IOTypeUnmap:
		runs, err := splitRuns(io, io.Offset(), io.Length())
		if err != nil {
			io.Init(1)
			io.CompletePart(1, err)
			return nil
		}
		if io.Submitted() == 0 {
			io.Init(len(runs))
		}
		return submitUnmapFrom(io, runs, io.Submitted())
	default:
		return fmt.Errorf("concat: unsupported null-payload op %v", io.Type())
	}
}

func submitUnmapFrom(io raidlevel.IO, runs []run, start int) error {
	for i := start; i < len(runs); i++ {
		r := runs[i]
		h := io.BaseHandle(r.slot)
		if h == nil {
			io.CompletePart(1, nil)
			io.AdvanceSubmitted(1)
			continue
		}
		idx := i
		err := h.SubmitUnmap(context.Background(), r.baseBlockOff, raidio.BlockAddr(r.blocks), func(err error) {
			io.CompletePart(1, err)
		})
		if errors.Is(err, raidio.ErrResourceExhausted) {
			io.QueueWait(r.slot, func() {
				_ = submitUnmapFrom(io, runs, idx)
			})
			return nil
		}
		if err != nil {
			io.CompletePart(1, err)
		}
		io.AdvanceSubmitted(1)
	}
	return nil
}
