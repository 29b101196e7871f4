// Package schema describes the columns of the tables a run writes.
package schema

import "fmt"

// Type is the logical cell type of a column. Cells are always written as text.
type Type string

const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
)

// Field is one column of a contract.
type Field struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
	// Nullable columns may be left empty.
	Nullable bool `json:"nullable"`
}

// Contract lists the columns a table must carry.
type Contract struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Names returns the field names in contract order.
func (c Contract) Names() []string {
	out := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		out[i] = f.Name
	}
	return out
}

// Check reports the first contract field missing from header. Extra header
// columns are allowed.
func (c Contract) Check(header []string) error {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[h] = true
	}
	for _, f := range c.Fields {
		if !have[f.Name] {
			return fmt.Errorf("%s table is missing column %q", c.Name, f.Name)
		}
	}
	return nil
}
