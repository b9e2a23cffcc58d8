// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import (
	"fmt"
	"io"
	"math"

	"golang.org/x/exp/constraints"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/blockraid/raidbd/lib/fmtutil"
)

var printer = message.NewPrinter(language.English)

// Fprintf is like fmt.Fprintf, but goes through the
// golang.org/x/text/message.Printer extensions (thousands separators,
// etc) and marks the call site as UI output rather than logging.
func Fprintf(w io.Writer, key string, a ...any) (n int, err error) {
	return printer.Fprintf(w, key, a...)
}

// Sprintf is Fprintf's fmt.Sprintf counterpart.
func Sprintf(key string, a ...any) string {
	return printer.Sprintf(key, a...)
}

// Portion renders a fraction N/D as both a percentage and
// parenthetically as the exact fractional value.
//
//	fmt.Sprint(Portion[int]{N: 3, D: 4}) ⇒ "75% (3/4)"
type Portion[T constraints.Integer] struct {
	N, D T
}

var _ fmt.Stringer = Portion[int]{}

func (p Portion[T]) String() string {
	pct := float64(1)
	if p.D > 0 {
		pct = float64(p.N) / float64(p.D)
	}
	return printer.Sprintf("%v (%v/%v)", number.Percent(pct), uint64(p.N), uint64(p.D))
}

type iec[T constraints.Integer | constraints.Float] struct {
	Val  T
	Unit string
}

var (
	_ fmt.Formatter = iec[int]{}
	_ fmt.Stringer  = iec[int]{}
)

// IEC renders a byte count (or block count, scaled by the caller) with
// a 1024-based (Ki/Mi/Gi/...) unit prefix.
func IEC[T constraints.Integer | constraints.Float](x T, unit string) iec[T] {
	return iec[T]{Val: x, Unit: unit}
}

var iecPrefixes = []string{"Ki", "Mi", "Gi", "Ti", "Pi", "Ei", "Zi", "Yi"}

func (v iec[T]) Format(f fmt.State, verb rune) {
	var prefix string
	y := math.Abs(float64(v.Val))
	for i := 0; y > 1024 && i <= len(iecPrefixes); i++ {
		y /= 1024
		prefix = iecPrefixes[i]
	}
	if v.Val < 0 {
		y = -y
	}
	printer.Fprintf(f, fmtutil.FmtStateString(f, verb)+"%s%s", number.Decimal(y), prefix, v.Unit)
}

func (v iec[T]) String() string {
	return fmt.Sprint(v)
}
