package treestore

import (
	"fmt"
	"math"
)

// Span is an inclusive integer interval. The zero value matches everything.
type Span struct {
	min     int64
	max     int64
	bounded bool
}

func Between(min, max int64) Span {
	return Span{min: min, max: max, bounded: true}
}

func AtLeast(min int64) Span {
	return Span{min: min, max: math.MaxInt64, bounded: true}
}

func AtMost(max int64) Span {
	return Span{min: math.MinInt64, max: max, bounded: true}
}

func Exactly(v int64) Span {
	return Span{min: v, max: v, bounded: true}
}

func (s Span) IsZero() bool {
	return !s.bounded
}

func (s Span) Contains(v int64) bool {
	return !s.bounded || (v >= s.min && v <= s.max)
}

// Lower returns the lower limit, and false if there is none.
func (s Span) Lower() (int64, bool) {
	return s.min, s.bounded && s.min != math.MinInt64
}

// Upper returns the upper limit, and false if there is none.
func (s Span) Upper() (int64, bool) {
	return s.max, s.bounded && s.max != math.MaxInt64
}

// Point returns the single value matched, if the span is one value wide.
func (s Span) Point() (int64, bool) {
	return s.min, s.bounded && s.min == s.max
}

func (s Span) String() string {
	if !s.bounded {
		return "[*]"
	}
	lo, hi := "-inf", "+inf"
	if v, ok := s.Lower(); ok {
		lo = fmt.Sprint(v)
	}
	if v, ok := s.Upper(); ok {
		hi = fmt.Sprint(v)
	}
	return fmt.Sprintf("[%s,%s]", lo, hi)
}
