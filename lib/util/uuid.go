// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package util

import (
	"encoding"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/blockraid/raidbd/lib/fmtutil"
)

// UUID is a 16-byte array-valued UUID, used on the wire in the
// superblock and as the array/member identity everywhere else. It is
// a fixed-size value type (not github.com/google/uuid.UUID, which is
// also a [16]byte under the hood) so that it embeds directly into
// binstruct-tagged structs the same way other fixed-width superblock
// fields do.
type UUID [16]byte

var (
	_ fmt.Stringer             = UUID{}
	_ fmt.Formatter            = UUID{}
	_ encoding.TextMarshaler   = UUID{}
	_ encoding.TextUnmarshaler = (*UUID)(nil)
)

// Nil is the zero UUID, used as the "not yet assigned" sentinel for a
// base slot's UUID and for an array's UUID before superblocks are
// enabled.
var Nil = UUID{}

// NewUUID generates a random (v4) UUID for a freshly created array
// whose superblock is enabled but that was not given an explicit UUID.
func NewUUID() UUID {
	var out UUID
	copy(out[:], uuid.New()[:])
	return out
}

func (u UUID) String() string {
	str := hex.EncodeToString(u[:])
	return strings.Join([]string{
		str[:8], str[8:12], str[12:16], str[16:20], str[20:32],
	}, "-")
}

func (u UUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UUID) UnmarshalText(text []byte) error {
	var err error
	*u, err = ParseUUID(string(text))
	return err
}

func (u UUID) Format(f fmt.State, verb rune) {
	fmtutil.FormatByteArrayStringer(u, u[:], f, verb)
}

// ParseUUID parses the canonical 8-4-4-4-12 hex-with-hyphens form.
// Hyphens are accepted anywhere and not required to be in the
// canonical positions, matching the leniency of the original
// bdev_raid superblock reader, which treats the UUID purely as a byte
// array and never re-validates hyphen placement once written.
func ParseUUID(str string) (UUID, error) {
	var ret UUID
	j := 0
	for i := 0; i < len(str); i++ {
		if j >= len(ret)*2 {
			return UUID{}, fmt.Errorf("too long to be a UUID: %q|%q", str[:i], str[i:])
		}
		c := str[i]
		var v byte
		switch {
		case '0' <= c && c <= '9':
			v = c - '0'
		case 'a' <= c && c <= 'f':
			v = c - 'a' + 10
		case 'A' <= c && c <= 'F':
			v = c - 'A' + 10
		case c == '-':
			continue
		default:
			return UUID{}, fmt.Errorf("illegal byte in UUID: %q|%q|%q", str[:i], str[i:i+1], str[i+1:])
		}
		if j%2 == 0 {
			ret[j/2] = v << 4
		} else {
			ret[j/2] |= v
		}
		j++
	}
	if j != len(ret)*2 {
		return UUID{}, fmt.Errorf("too short to be a UUID: %q", str)
	}
	return ret, nil
}

// MustParseUUID is ParseUUID, panicking on error; used for constants
// in tests and fixtures.
func MustParseUUID(str string) UUID {
	ret, err := ParseUUID(str)
	if err != nil {
		panic(err)
	}
	return ret
}
