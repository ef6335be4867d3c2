// Package boundary holds the pure arithmetic of the nested set encoding:
// every node carries a (left, right) pair and a level, and all tree
// relationships are derived from comparing those numbers.
package boundary

// Bounds is the boundary tuple of a single node. Comparisons between two
// Bounds are only meaningful when both share the same Scope.
type Bounds struct {
	Scope int64
	Left  int64
	Right int64
	Level int64
}

// Valid reports whether the pair has a positive, odd-width span.
func (b Bounds) Valid() bool {
	return b.Left >= 1 && b.Right > b.Left && (b.Right-b.Left)%2 == 1
}

func (b Bounds) IsLeaf() bool {
	return b.Right == b.Left+1
}

// IsRoot reports whether the node opens its scope.
func (b Bounds) IsRoot() bool {
	return b.Left == 1
}

// Width is the number of boundary values the subtree occupies.
func (b Bounds) Width() int64 {
	return b.Right - b.Left + 1
}

// Size is the number of nodes in the subtree, the node included.
func (b Bounds) Size() int64 {
	return b.Width() / 2
}

// Descendants is the number of nodes strictly below b.
func (b Bounds) Descendants() int64 {
	return b.Size() - 1
}

// IsAncestorOf reports whether o lies strictly inside b.
func (b Bounds) IsAncestorOf(o Bounds) bool {
	return b.Scope == o.Scope && b.Left < o.Left && o.Right < b.Right
}

func (b Bounds) IsDescendantOf(o Bounds) bool {
	return o.IsAncestorOf(b)
}

// Contains is IsAncestorOf, or b and o being the same range.
func (b Bounds) Contains(o Bounds) bool {
	return b.Scope == o.Scope && b.Left <= o.Left && o.Right <= b.Right
}

// Disjoint reports whether the two ranges share no boundary value.
func (b Bounds) Disjoint(o Bounds) bool {
	return b.Scope != o.Scope || b.Right < o.Left || o.Right < b.Left
}

// Before is the sibling order: b comes before o.
func (b Bounds) Before(o Bounds) bool {
	return b.Left < o.Left
}

// Width returns the number of boundary values occupied by size nodes.
func Width(size int64) int64 {
	return 2 * size
}
