// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raid1_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/raid/raidlevel"
	_ "github.com/blockraid/raidbd/lib/raid/raidlevel/raid1"
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
	return raidlevel.Geometry{NumBases: numBases, BlockLength: 512, BlockLengthShift: 9}
}

func TestRaid1WriteFansOutToEveryMember(t *testing.T) {
	t.Parallel()

	mod, ok := raidlevel.Lookup(raidlevel.Level1)
	require.True(t, ok)

	g := geom(3)
	require.NoError(t, mod.Start(g))

	b0 := raidio.NewMemHandle("b0", 512, 8)
	b1 := raidio.NewMemHandle("b1", 512, 8)
	b2 := raidio.NewMemHandle("b2", 512, 8)
	bases := []raidio.Handle{b0, b1, b2}

	payload := bytes.Repeat([]byte("abcdefghijklmnopqrstuvwxyzABCDEF"), 16)
	wio := newFakeIO(g, raidlevel.IOTypeWrite, 0, 1, payload, bases)
	require.NoError(t, mod.SubmitRW(wio))
	require.NoError(t, <-wio.done)

	for _, b := range []*raidio.MemHandle{b0, b1, b2} {
		buf := make([]byte, 512)
		rio := newFakeIO(g, raidlevel.IOTypeRead, 0, 1, buf, []raidio.Handle{b})
		require.NoError(t, mod.SubmitRW(rio))
		require.NoError(t, <-rio.done)
		assert.Equal(t, payload, buf)
	}
}

func TestRaid1ReadSkipsVacantLeg(t *testing.T) {
	t.Parallel()

	mod, ok := raidlevel.Lookup(raidlevel.Level1)
	require.True(t, ok)

	g := geom(2)
	require.NoError(t, mod.Start(g))

	b1 := raidio.NewMemHandle("b1", 512, 8)
	bases := []raidio.Handle{nil, b1}

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = 0x42
	}
	wio := newFakeIO(g, raidlevel.IOTypeWrite, 0, 1, payload, bases)
	require.NoError(t, mod.SubmitRW(wio))
	require.NoError(t, <-wio.done)

	buf := make([]byte, 512)
	rio := newFakeIO(g, raidlevel.IOTypeRead, 0, 1, buf, bases)
	require.NoError(t, mod.SubmitRW(rio))
	require.NoError(t, <-rio.done)
	assert.Equal(t, payload, buf)
}

func TestRaid1ReadFailsWithNoOperationalMember(t *testing.T) {
	t.Parallel()

	mod, ok := raidlevel.Lookup(raidlevel.Level1)
	require.True(t, ok)

	g := geom(2)
	require.NoError(t, mod.Start(g))

	buf := make([]byte, 512)
	rio := newFakeIO(g, raidlevel.IOTypeRead, 0, 1, buf, []raidio.Handle{nil, nil})
	require.NoError(t, mod.SubmitRW(rio))
	assert.Error(t, <-rio.done)
}
