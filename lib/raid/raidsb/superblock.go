// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package raidsb implements the on-disk array superblock: a
// fixed-length, checksummed, little-endian descriptor written to a
// reserved region at the front of every member, one inline entry per
// declared slot, arbitrated across members by sequence number.
package raidsb

import (
	"github.com/blockraid/raidbd/lib/binstruct"
	"github.com/blockraid/raidbd/lib/util"
)

const (
	// MaxNameSize bounds the null-terminated array/member name fields,
	// matching the module-wide name-length limit.
	MaxNameSize = 32

	// MaxBaseBdevs is the largest N a superblock can describe; it sizes
	// the inline entry vector on the wire.
	MaxBaseBdevs = 32

	// Length is the total on-disk size of a superblock, and also the
	// module-wide minimum reserved region at the front of every member.
	Length = 4096

	// Version is the only wire version this codec emits or accepts.
	Version = 1
)

// Magic identifies a raidbd superblock; it is checked before Version.
var Magic = [8]byte{'R', 'A', 'I', 'D', 'B', 'D', 'S', 'B'}

// Checksum is a CRC32C (Castagnoli) checksum over everything in a
// Superblock past the Checksum field itself.
type Checksum [4]byte

// BaseEntryState is the per-slot state recorded inline in the
// superblock.
type BaseEntryState uint8

const (
	BaseEntryVacant     BaseEntryState = 0
	BaseEntryConfigured BaseEntryState = 1
	BaseEntryFailed     BaseEntryState = 2
)

func (s BaseEntryState) String() string {
	switch s {
	case BaseEntryVacant:
		return "VACANT"
	case BaseEntryConfigured:
		return "CONFIGURED"
	case BaseEntryFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// BaseEntry is one member's row in the superblock's inline vector.
type BaseEntry struct {
	Slot       uint32         `bin:"off=0x0,  siz=0x4"`
	State      BaseEntryState `bin:"off=0x4,  siz=0x1"`
	Reserved   [3]byte        `bin:"off=0x5,  siz=0x3"`
	UUID       util.UUID      `bin:"off=0x8,  siz=0x10"`
	DataOffset uint64         `bin:"off=0x18, siz=0x8"`
	DataSize   uint64         `bin:"off=0x20, siz=0x8"`

	binstruct.End `bin:"off=0x28"`
}

// Superblock is the fixed-length wire descriptor of a RAID array, one
// copy written to the reserved region of each configured member.
type Superblock struct {
	Checksum  Checksum `bin:"off=0x0,  siz=0x4"`
	Magic     [8]byte  `bin:"off=0x4,  siz=0x8"`
	Version   uint32   `bin:"off=0xc,  siz=0x4"`
	SeqNumber uint64   `bin:"off=0x10, siz=0x8"`

	ArrayUUID util.UUID               `bin:"off=0x18, siz=0x10"`
	ArrayName [MaxNameSize]byte       `bin:"off=0x28, siz=0x20"`
	Level     uint8                   `bin:"off=0x48, siz=0x1"`
	Reserved0 [3]byte                 `bin:"off=0x49, siz=0x3"`

	StripSizeBlocks uint64 `bin:"off=0x4c, siz=0x8"`
	BlockSize       uint32 `bin:"off=0x54, siz=0x4"`
	Reserved1       [4]byte `bin:"off=0x58, siz=0x4"`
	TotalBlocks     uint64 `bin:"off=0x5c, siz=0x8"`
	BaseSlotCount   uint32 `bin:"off=0x64, siz=0x4"`

	// Reserved is kept zero and ignored on read; room for future
	// per-member feature flags without breaking the wire layout.
	Reserved uint32 `bin:"off=0x68, siz=0x4"`

	Entries [MaxBaseBdevs]BaseEntry `bin:"off=0x6c,  siz=0x500"`
	Padding [0xa94]byte             `bin:"off=0x56c, siz=0xa94"`

	binstruct.End `bin:"off=0x1000"`
}

// NewSuperblock builds a zeroed superblock for name/arrayUUID/level
// with baseSlotCount entries, all initially vacant.
func NewSuperblock(arrayUUID util.UUID, name string, level uint8, baseSlotCount uint32) *Superblock {
	sb := &Superblock{
		Magic:         Magic,
		Version:       Version,
		ArrayUUID:     arrayUUID,
		Level:         level,
		BaseSlotCount: baseSlotCount,
	}
	copy(sb.ArrayName[:], name)
	for i := range sb.Entries {
		sb.Entries[i].Slot = uint32(i)
		sb.Entries[i].State = BaseEntryVacant
	}
	return sb
}

// Name returns the null-terminated ArrayName field as a string.
func (sb *Superblock) Name() string {
	n := 0
	for n < len(sb.ArrayName) && sb.ArrayName[n] != 0 {
		n++
	}
	return string(sb.ArrayName[:n])
}
