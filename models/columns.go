package models

import (
	"fmt"
	"regexp"
)

// Columns names the physical table and columns holding each boundary role.
// The id and label columns always keep their default names.
type Columns struct {
	Table string
	Left  string
	Right string
	Level string
	Scope string
}

func DefaultColumns() Columns {
	return Columns{
		Table: Node{}.TableName(),
		Left:  "tree_left",
		Right: "tree_right",
		Level: "tree_level",
		Scope: "tree_scope",
	}
}

// IsDefault reports whether the layout matches the Node model, in which case
// the table can be created by migration.
func (c Columns) IsDefault() bool {
	return c == DefaultColumns()
}

var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c Columns) Validate() error {
	names := map[string]string{
		"table":        c.Table,
		"left column":  c.Left,
		"right column": c.Right,
		"level column": c.Level,
		"scope column": c.Scope,
	}
	for role, name := range names {
		if !identifierRegex.MatchString(name) {
			return fmt.Errorf("invalid %s name: %q", role, name)
		}
	}

	seen := map[string]bool{"id": true, "label": true, "created_at": true, "updated_at": true}
	for _, name := range []string{c.Left, c.Right, c.Level, c.Scope} {
		if seen[name] {
			return fmt.Errorf("column name used twice: %s", name)
		}
		seen[name] = true
	}
	return nil
}
