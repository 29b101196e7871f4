package columns

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnresolvedField is matched by ConfigError for required fields that no column provides.
var ErrUnresolvedField = errors.New("required field not found in input columns")

// ConfigError reports a column configuration that prevents a run from starting.
type ConfigError struct {
	Field  Field
	Reason string
	err    error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "column config: " + e.Reason
	}
	return fmt.Sprintf("column config: field %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.err
}

// Mapping binds logical fields to physical column names of one input table.
type Mapping struct {
	bound  map[Field]string
	absent []Field
}

// Column returns the physical column bound to f.
func (m Mapping) Column(f Field) (string, bool) {
	c, ok := m.bound[f]
	return c, ok
}

// Absent lists the optional fields that no column provides, in resolution order.
func (m Mapping) Absent() []Field {
	return append([]Field(nil), m.absent...)
}

// Bound returns a copy of the field to column bindings.
func (m Mapping) Bound() map[Field]string {
	out := make(map[Field]string, len(m.bound))
	for f, c := range m.bound {
		out[f] = c
	}
	return out
}

// Resolve maps the input columns to logical fields.
//
// For each field, an override naming an input column wins, then the first alias present
// in the input. Comparison ignores case and surrounding whitespace. A column is bound to
// at most one field; fields are resolved in Fields order. Override keys use logical field
// names; an unknown key is a ConfigError. A nil table means DefaultAliases.
func Resolve(columns []string, override map[string]string, table AliasTable) (Mapping, error) {
	if table == nil {
		table = DefaultAliases()
	}

	index := make(map[string]string, len(columns))
	for _, c := range columns {
		key := strings.ToLower(strings.TrimSpace(c))
		if key == "" {
			continue
		}
		if _, dup := index[key]; !dup {
			index[key] = c
		}
	}

	overrides := make(map[Field]string, len(override))
	for name, col := range override {
		f, ok := ParseField(name)
		if !ok {
			return Mapping{}, &ConfigError{Reason: fmt.Sprintf("unknown field %q in column override", name)}
		}
		overrides[f] = col
	}

	m := Mapping{bound: make(map[Field]string, len(Fields))}
	used := make(map[string]bool, len(columns))
	lookup := func(name string) (string, bool) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || used[key] {
			return "", false
		}
		physical, ok := index[key]
		if !ok {
			return "", false
		}
		used[key] = true
		return physical, true
	}

	for _, f := range Fields {
		if col, ok := overrides[f]; ok {
			if physical, found := lookup(col); found {
				m.bound[f] = physical
				continue
			}
		}
		bound := false
		for _, alias := range table[f] {
			if physical, found := lookup(alias); found {
				m.bound[f] = physical
				bound = true
				break
			}
		}
		if bound {
			continue
		}
		if f.Required() {
			return Mapping{}, &ConfigError{
				Field:  f,
				Reason: "no input column matches " + strings.Join(table[f], ", "),
				err:    ErrUnresolvedField,
			}
		}
		m.absent = append(m.absent, f)
	}
	return m, nil
}
