package etl

import (
	"strings"
)

// ── Prefix Normalizer ──────────────────────────────────────
// Renames columns through an ordered (long prefix → short prefix) table so
// sources with differently shaped documents land on the same column names.
// One rule applies per column: the first matching prefix wins.

// PrefixRule maps a column prefix to its canonical replacement.
type PrefixRule struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// PrefixTable is an ordered rule list.
type PrefixTable []PrefixRule

// Rename returns the canonical name for column.
func (p PrefixTable) Rename(column string) string {
	for _, r := range p {
		if strings.HasPrefix(column, r.From) {
			return r.To + column[len(r.From):]
		}
	}
	return column
}

// Collision is a target column produced by more than one source column.
type Collision struct {
	Column  string   // renamed column
	Sources []string // original columns in table order
}

// NormalizePrefixes renames t's columns. When two columns map to the same
// name the later column overwrites the earlier one in every row where it has
// a value, and the clash is returned as a Collision. t is not modified.
func NormalizePrefixes(t *Table, rules PrefixTable) (*Table, []Collision) {
	out := &Table{Rows: make([]Row, len(t.Rows))}
	sources := map[string][]string{}
	for _, c := range t.Columns {
		name := rules.Rename(c)
		if _, ok := sources[name]; !ok {
			out.Columns = append(out.Columns, name)
		}
		sources[name] = append(sources[name], c)
	}

	for i, r := range t.Rows {
		row := make(Row, len(r))
		for _, c := range t.Columns {
			v, ok := r[c]
			if !ok {
				continue
			}
			name := rules.Rename(c)
			if _, taken := row[name]; taken && v.IsNull() {
				continue
			}
			row[name] = v
		}
		out.Rows[i] = row
	}

	var collisions []Collision
	for _, name := range out.Columns {
		if src := sources[name]; len(src) > 1 {
			collisions = append(collisions, Collision{Column: name, Sources: src})
		}
	}
	return out, collisions
}
