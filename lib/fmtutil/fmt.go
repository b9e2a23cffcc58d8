// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fmtutil holds small fmt.Formatter helpers for types that
// need a custom String/Format pair (util.UUID, and textui's IEC
// formatter).
package fmtutil

import (
	"fmt"
	"strings"
)

// FmtStateString returns the fmt.Printf verb string that produced a
// given fmt.State and verb, so a custom Format method can re-delegate
// to fmt.Fprintf with the original flags intact.
func FmtStateString(st fmt.State, verb rune) string {
	var ret strings.Builder
	ret.WriteByte('%')
	for _, flag := range []int{'-', '+', '#', ' ', '0'} {
		if st.Flag(flag) {
			ret.WriteByte(byte(flag))
		}
	}
	if width, ok := st.Width(); ok {
		fmt.Fprintf(&ret, "%v", width)
	}
	if prec, ok := st.Precision(); ok {
		if prec == 0 {
			ret.WriteByte('.')
		} else {
			fmt.Fprintf(&ret, ".%v", prec)
		}
	}
	ret.WriteRune(verb)
	return ret.String()
}

// FormatByteArrayStringer helps implement fmt.Formatter for a
// []byte-or-[N]byte-backed type that already has a String method, so
// that %s/%q/%v all go through String() and %x/%X still see the raw
// bytes. Use it like:
//
//	func (val MyType) Format(f fmt.State, verb rune) {
//		fmtutil.FormatByteArrayStringer(val, val[:], f, verb)
//	}
func FormatByteArrayStringer(
	obj interface {
		fmt.Stringer
		fmt.Formatter
	},
	objBytes []byte,
	f fmt.State, verb rune,
) {
	switch verb {
	case 'v':
		if !f.Flag('#') {
			FormatByteArrayStringer(obj, objBytes, f, 's')
		} else {
			byteStr := fmt.Sprintf("%#v", objBytes)
			objType := fmt.Sprintf("%T", obj)
			objStr := objType + strings.TrimPrefix(byteStr, "[]byte")
			fmt.Fprintf(f, FmtStateString(f, 's'), objStr)
		}
	case 's', 'q':
		fmt.Fprintf(f, FmtStateString(f, verb), obj.String())
	default:
		fmt.Fprintf(f, FmtStateString(f, verb), objBytes)
	}
}

// BitfieldFormat selects whether BitfieldString prefixes its output
// with the raw hex value of the bitfield.
type BitfieldFormat uint8

const (
	HexNone = BitfieldFormat(iota)
	HexLower
	HexUpper
)

// BitfieldString renders bitfield as a "|"-joined list of set bit
// names (falling back to "(1<<n)" for bits beyond len(bitnames)), or
// "none" if bitfield is zero.
func BitfieldString[T ~uint8 | ~uint16 | ~uint32 | ~uint64](bitfield T, bitnames []string, cfg BitfieldFormat) string {
	var out strings.Builder
	switch cfg {
	case HexLower:
		fmt.Fprintf(&out, "0x%0x(", uint64(bitfield))
	case HexUpper:
		fmt.Fprintf(&out, "0x%0X(", uint64(bitfield))
	}
	if bitfield == 0 {
		out.WriteString("none")
	} else {
		rest := bitfield
		first := true
		for i := 0; rest != 0; i++ {
			if rest&(1<<i) != 0 {
				if !first {
					out.WriteRune('|')
				}
				if i < len(bitnames) {
					out.WriteString(bitnames[i])
				} else {
					fmt.Fprintf(&out, "(1<<%v)", i)
				}
				first = false
			}
			rest &^= 1 << i
		}
	}
	if cfg != HexNone {
		out.WriteRune(')')
	}
	return out.String()
}
