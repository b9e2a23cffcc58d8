// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raidchan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blockraid/raidbd/lib/raid/raidchan"
	"github.com/blockraid/raidbd/lib/raid/raidio"
)

func TestChannelGetSetClear(t *testing.T) {
	t.Parallel()

	ch := raidchan.New(3)
	assert.Equal(t, 3, ch.Len())
	assert.Nil(t, ch.Get(0))

	h := raidio.NewMemHandle("b0", 512, 4)
	ch.Set(1, h)
	assert.Equal(t, h, ch.Get(1))
	assert.Nil(t, ch.Get(0))
	assert.Nil(t, ch.Get(2))

	ch.Clear()
	for i := 0; i < ch.Len(); i++ {
		assert.Nil(t, ch.Get(i))
	}
}

func TestChannelGetOutOfRange(t *testing.T) {
	t.Parallel()

	ch := raidchan.New(2)
	assert.Nil(t, ch.Get(-1))
	assert.Nil(t, ch.Get(2))
}
