// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package raid0 implements the striping level: every member is
// operational, no member may be missing, and a request is split at
// strip boundaries and dispatched to whichever slot owns each strip.
package raid0

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

func (module) Level() raidlevel.Level { return raidlevel.Level0 }
func (module) MinBaseBdevs() int      { return 2 }
func (module) Constraint() raidlevel.Constraint {
	return raidlevel.Constraint{Kind: raidlevel.ConstraintMaxRemoved, Value: 0}
}
func (module) Mirror() bool { return false }

func (module) Start(g raidlevel.Geometry) error {
	if g.StripSizeBlocks == 0 {
		return errors.New("raid0: strip_size_blocks must be nonzero")
	}
	if !util.IsPowerOfTwo(g.StripSizeBlocks) {
		return fmt.Errorf("raid0: strip_size_blocks %d is not a power of two", g.StripSizeBlocks)
	}
	return nil
}

func (module) Stop() bool { return true }

func (module) Resize(g raidlevel.Geometry) error { return nil }

func (module) MemoryDomainsSupported() bool { return true }
func (module) SupportsNullPayload() bool    { return true }

type strip struct {
	slot         int
	baseBlockOff raidio.BlockAddr
	bufOff       int64
	blocks       int64
}

// splitStrips walks [offset, offset+length) in units of strip-sized
// runs, computing which slot owns each run the same way chunk mapping
// resolves a logical offset to a physical volume: slot = (stripe
// index) % N, where stripe index = offset >> StripSizeShift.
func splitStrips(offset, length int64, g raidlevel.Geometry) []strip {
	var out []strip
	remaining := length
	cur := offset
	var bufOff int64
	for remaining > 0 {
		stripIdx := cur >> g.StripSizeShift
		withinStrip := cur - (stripIdx << g.StripSizeShift)
		runLen := g.StripSizeBlocks - withinStrip
		if runLen > remaining {
			runLen = remaining
		}
		slot := int(stripIdx % int64(g.NumBases))
		stripesPerBase := stripIdx / int64(g.NumBases)
		baseOff := stripesPerBase*g.StripSizeBlocks + withinStrip
		out = append(out, strip{
			slot:         slot,
			baseBlockOff: raidio.BlockAddr(baseOff),
			bufOff:       bufOff,
			blocks:       runLen,
		})
		cur += runLen
		bufOff += runLen * int64(g.BlockLength)
		remaining -= runLen
	}
	return out
}

func (module) SubmitRW(io raidlevel.IO) error {
	g := io.Geometry()
	parts := splitStrips(io.Offset(), io.Length(), g)
	if io.Submitted() == 0 {
		io.Init(len(parts))
	}
	return submitFrom(io, parts, io.Submitted())
}

func submitFrom(io raidlevel.IO, parts []strip, start int) error {
	blockLen := int64(io.Geometry().BlockLength)
	for i := start; i < len(parts); i++ {
		p := parts[i]
		h := io.BaseHandle(p.slot)
		if h == nil {
			io.CompletePart(1, fmt.Errorf("raid0: slot %d vacant", p.slot))
			io.AdvanceSubmitted(1)
			continue
		}
		byteLen := p.blocks * blockLen
		buf := io.Buffer()[p.bufOff : p.bufOff+byteLen]
		var err error
		switch io.Type() {
		case raidlevel.IOTypeRead:
			err = h.SubmitRead(context.Background(), buf, p.baseBlockOff, func(err error) {
				io.CompletePart(1, err)
			})
		case raidlevel.IOTypeWrite:
			err = h.SubmitWrite(context.Background(), buf, p.baseBlockOff, func(err error) {
				io.CompletePart(1, err)
			})
		default:
			io.CompletePart(1, fmt.Errorf("raid0: unsupported op %v", io.Type()))
			io.AdvanceSubmitted(1)
			continue
		}
		if errors.Is(err, raidio.ErrResourceExhausted) {
			io.QueueWait(p.slot, func() {
				_ = submitFrom(io, parts, i)
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
	return raidlevel.FanOutNullPayload(io, func(h raidio.Handle, done raidio.CompleteFunc) error {
		switch io.Type() {
		case raidlevel.IOTypeFlush:
			return h.SubmitFlush(context.Background(), done)
		case raidlevel.IOTypeUnmap:
			off, length := blockRange(io)
			return h.SubmitUnmap(context.Background(), off, length, done)
		default:
			return fmt.Errorf("raid0: unsupported null-payload op %v", io.Type())
		}
	})
}

func blockRange(io raidlevel.IO) (raidio.BlockAddr, raidio.BlockAddr) {
	return raidio.BlockAddr(io.Offset()), raidio.BlockAddr(io.Length())
}
