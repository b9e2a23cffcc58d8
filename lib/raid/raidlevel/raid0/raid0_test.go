// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raid0_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/raid/raidlevel"
	_ "github.com/blockraid/raidbd/lib/raid/raidlevel/raid0"
)

// fakeIO is a minimal raidlevel.IO for exercising a module's SubmitRW
// in isolation, without the rest of the core's device/channel machinery.
type fakeIO struct {
	g      raidlevel.Geometry
	typ    raidlevel.IOType
	offset int64
	length int64
	buf    []byte
	bases  []raidio.Handle

	mu        sync.Mutex
	remaining int
	submitted int
	errs      []error
	done      chan error
}

func newFakeIO(g raidlevel.Geometry, typ raidlevel.IOType, offset, length int64, buf []byte, bases []raidio.Handle) *fakeIO {
	return &fakeIO{g: g, typ: typ, offset: offset, length: length, buf: buf, bases: bases, done: make(chan error, 1)}
}

func (f *fakeIO) Geometry() raidlevel.Geometry { return f.g }
func (f *fakeIO) Type() raidlevel.IOType       { return f.typ }
func (f *fakeIO) Offset() int64                { return f.offset }
func (f *fakeIO) Length() int64                { return f.length }
func (f *fakeIO) Buffer() []byte               { return f.buf }

func (f *fakeIO) BaseHandle(slot int) raidio.Handle {
	if slot < 0 || slot >= len(f.bases) {
		return nil
	}
	return f.bases[slot]
}

func (f *fakeIO) BaseBlocks(slot int) int64 {
	if slot < 0 || slot >= len(f.bases) || f.bases[slot] == nil {
		return 0
	}
	return int64(f.bases[slot].SizeBlocks())
}

func (f *fakeIO) Init(remaining int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remaining = remaining
	f.submitted = 0
}

func (f *fakeIO) CompletePart(n int, err error) {
	f.mu.Lock()
	if err != nil {
		f.errs = append(f.errs, err)
	}
	f.remaining -= n
	fire := f.remaining <= 0
	f.mu.Unlock()
	if fire {
		var first error
		if len(f.errs) > 0 {
			first = f.errs[0]
		}
		f.done <- first
	}
}

func (f *fakeIO) Submitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted
}

func (f *fakeIO) AdvanceSubmitted(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted += n
}

func (f *fakeIO) QueueWait(slot int, retry func()) { retry() }

func geomFor(numBases int, stripBlocks int64) raidlevel.Geometry {
	return raidlevel.Geometry{
		NumBases:         numBases,
		StripSizeBlocks:  stripBlocks,
		StripSizeShift:   2, // log2(4) for a 4-block strip in these tests
		BlockLength:      512,
		BlockLengthShift: 9,
	}
}

func TestRaid0StripesAcrossBases(t *testing.T) {
	t.Parallel()

	mod, ok := raidlevel.Lookup(raidlevel.Level0)
	require.True(t, ok)

	const blockLen = 512
	g := geomFor(2, 4)
	require.NoError(t, mod.Start(g))

	b0 := raidio.NewMemHandle("b0", blockLen, 64)
	b1 := raidio.NewMemHandle("b1", blockLen, 64)
	bases := []raidio.Handle{b0, b1}

	payload := make([]byte, 8*blockLen)
	for i := range payload {
		payload[i] = byte(i)
	}

	io := newFakeIO(g, raidlevel.IOTypeWrite, 0, 8, payload, bases)
	require.NoError(t, mod.SubmitRW(io))
	require.NoError(t, <-io.done)

	readBuf := make([]byte, 8*blockLen)
	rio := newFakeIO(g, raidlevel.IOTypeRead, 0, 8, readBuf, bases)
	require.NoError(t, mod.SubmitRW(rio))
	require.NoError(t, <-rio.done)

	assert.Equal(t, payload, readBuf)
}

func TestRaid0FailsOnVacantSlot(t *testing.T) {
	t.Parallel()

	mod, ok := raidlevel.Lookup(raidlevel.Level0)
	require.True(t, ok)

	g := geomFor(2, 4)
	require.NoError(t, mod.Start(g))

	b0 := raidio.NewMemHandle("b0", 512, 64)
	bases := []raidio.Handle{b0, nil}

	buf := make([]byte, 4*512)
	io := newFakeIO(g, raidlevel.IOTypeWrite, 4, 4, buf, bases)
	require.NoError(t, mod.SubmitRW(io))
	assert.Error(t, <-io.done)
}
