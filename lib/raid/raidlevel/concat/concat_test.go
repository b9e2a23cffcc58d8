// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package concat_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/blockraid/raidbd/lib/raid/raidlevel/concat"

	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/raid/raidlevel"
)

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

func geom(numBases int) raidlevel.Geometry {
	return raidlevel.Geometry{NumBases: numBases, StripSizeBlocks: 4, StripSizeShift: 2, BlockLength: 512, BlockLengthShift: 9}
}

func TestConcatAddressesAcrossMembersCumulatively(t *testing.T) {
	t.Parallel()

	mod, ok := raidlevel.Lookup(raidlevel.LevelConcat)
	require.True(t, ok)

	g := geom(2)
	require.NoError(t, mod.Start(g))

	b0 := raidio.NewMemHandle("b0", 512, 4) // 4 blocks: logical [0,4)
	b1 := raidio.NewMemHandle("b1", 512, 4) // 4 blocks: logical [4,8)
	bases := []raidio.Handle{b0, b1}

	payload := make([]byte, 6*512)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	// Request spans blocks [2,8): 2 blocks on b0, 4 blocks on b1.
	wio := newFakeIO(g, raidlevel.IOTypeWrite, 2, 6, payload, bases)
	require.NoError(t, mod.SubmitRW(wio))
	require.NoError(t, <-wio.done)

	readBuf := make([]byte, 6*512)
	rio := newFakeIO(g, raidlevel.IOTypeRead, 2, 6, readBuf, bases)
	require.NoError(t, mod.SubmitRW(rio))
	require.NoError(t, <-rio.done)

	assert.Equal(t, payload, readBuf)
}

func TestConcatRejectsRequestPastEnd(t *testing.T) {
	t.Parallel()

	mod, ok := raidlevel.Lookup(raidlevel.LevelConcat)
	require.True(t, ok)

	g := geom(2)
	require.NoError(t, mod.Start(g))

	b0 := raidio.NewMemHandle("b0", 512, 4)
	b1 := raidio.NewMemHandle("b1", 512, 4)
	bases := []raidio.Handle{b0, b1}

	buf := make([]byte, 512)
	io := newFakeIO(g, raidlevel.IOTypeRead, 7, 2, buf, bases)
	require.NoError(t, mod.SubmitRW(io))
	assert.Error(t, <-io.done)
}
