package boundary

import (
	"fmt"
	"strings"
)

// Position places a node relative to an anchor.
type Position int

const (
	Root Position = iota
	FirstChild
	LastChild
	PrevSibling
	NextSibling
)

var positionNames = map[Position]string{
	Root:        "root",
	FirstChild:  "first-child",
	LastChild:   "last-child",
	PrevSibling: "prev-sibling",
	NextSibling: "next-sibling",
}

func (p Position) String() string {
	if s, ok := positionNames[p]; ok {
		return s
	}
	return fmt.Sprintf("position(%d)", int(p))
}

// Valid reports whether p is one of the declared positions.
func (p Position) Valid() bool {
	_, ok := positionNames[p]
	return ok
}

// IsChild reports whether the position makes the node a child of its anchor.
func (p Position) IsChild() bool {
	return p == FirstChild || p == LastChild
}

// IsSibling reports whether the position makes the node a sibling of its anchor.
func (p Position) IsSibling() bool {
	return p == PrevSibling || p == NextSibling
}

// ParsePosition accepts the names produced by String, plus a few short aliases.
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "root":
		return Root, nil
	case "first-child", "first", "prepend":
		return FirstChild, nil
	case "last-child", "last", "child", "append":
		return LastChild, nil
	case "prev-sibling", "before", "prev":
		return PrevSibling, nil
	case "next-sibling", "after", "next":
		return NextSibling, nil
	}
	return Root, fmt.Errorf("unknown position: %q", s)
}

// InsertionPoint computes the left boundary at which a new range opens, and
// the level the node placed there takes. For Root the anchor is ignored.
func InsertionPoint(anchor Bounds, pos Position, baseLevel int64) (left int64, level int64, err error) {
	switch pos {
	case Root:
		return 1, baseLevel, nil
	case FirstChild:
		return anchor.Left + 1, anchor.Level + 1, nil
	case LastChild:
		return anchor.Right, anchor.Level + 1, nil
	case PrevSibling:
		return anchor.Left, anchor.Level, nil
	case NextSibling:
		return anchor.Right + 1, anchor.Level, nil
	default:
		return 0, 0, fmt.Errorf("unknown position: %s", pos)
	}
}
