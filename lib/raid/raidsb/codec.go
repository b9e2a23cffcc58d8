// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raidsb

import (
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/blockraid/raidbd/lib/binstruct"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// ErrBadMagic, ErrBadVersion, and ErrChecksumMismatch are returned by
// Decode. Callers map them to their own "Corrupt" error category.
var (
	ErrBadMagic         = errors.New("raidsb: bad magic")
	ErrBadVersion       = errors.New("raidsb: unsupported version")
	ErrChecksumMismatch = errors.New("raidsb: checksum mismatch")
)

// Calculate computes the CRC32C over the encoded superblock, skipping
// the leading Checksum field.
func (sb Superblock) Calculate() (Checksum, error) {
	dat, err := binstruct.Marshal(sb)
	if err != nil {
		return Checksum{}, err
	}
	sum := crc32.Checksum(dat[binstruct.StaticSize(Checksum{}):], crc32cTable)
	var ret Checksum
	ret[0] = byte(sum)
	ret[1] = byte(sum >> 8)
	ret[2] = byte(sum >> 16)
	ret[3] = byte(sum >> 24)
	return ret, nil
}

// Encode marshals sb to its fixed Length-byte wire form, stamping a
// freshly computed checksum over the result.
func Encode(sb *Superblock) ([]byte, error) {
	sum, err := sb.Calculate()
	if err != nil {
		return nil, err
	}
	sb.Checksum = sum
	dat, err := binstruct.Marshal(*sb)
	if err != nil {
		return nil, err
	}
	if len(dat) != Length {
		return nil, fmt.Errorf("raidsb: encoded length %d != %d", len(dat), Length)
	}
	return dat, nil
}

// Decode unmarshals and validates a Superblock from exactly Length
// bytes of dat, checking magic, version, and checksum in that order.
func Decode(dat []byte) (*Superblock, error) {
	if len(dat) < Length {
		return nil, fmt.Errorf("raidsb: short read: %d < %d", len(dat), Length)
	}
	var sb Superblock
	if _, err := binstruct.Unmarshal(dat[:Length], &sb); err != nil {
		return nil, err
	}
	if sb.Magic != Magic {
		return nil, ErrBadMagic
	}
	if sb.Version != Version {
		return nil, ErrBadVersion
	}
	stored := sb.Checksum
	calced, err := sb.Calculate()
	if err != nil {
		return nil, err
	}
	if calced != stored {
		return nil, ErrChecksumMismatch
	}
	return &sb, nil
}
