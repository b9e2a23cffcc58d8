// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raidbase_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blockraid/raidbd/lib/raid/raidbase"
	"github.com/blockraid/raidbd/lib/util"
)

func TestSlotVacant(t *testing.T) {
	t.Parallel()

	var s raidbase.Slot
	assert.True(t, s.Vacant())

	s.Name = "b0"
	assert.False(t, s.Vacant())
}

func TestSlotResetPreservesIndex(t *testing.T) {
	t.Parallel()

	s := raidbase.Slot{
		Index:      2,
		Name:       "b0",
		UUID:       util.NewUUID(),
		Configured: true,
	}
	s.Reset()

	assert.Equal(t, 2, s.Index)
	assert.True(t, s.Vacant())
	assert.False(t, s.Configured)
	assert.Equal(t, util.Nil, s.UUID)
}
