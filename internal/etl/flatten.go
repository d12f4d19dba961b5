package etl

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ── Flattener ──────────────────────────────────────────────
// Two passes turn raw detail documents into a scalar-only table:
//
//   1. Normalize: nested mappings expand into dotted column names,
//      e.g. study_desc.title_statement.title. Lists stay as values.
//   2. FlattenBatch: columns holding lists of mappings (native, or text
//      encoding one) merge each row's mappings into one, and every merged
//      key k becomes the column <field>_k. Repeated keys join with ";".

const (
	// NestedSeparator joins values of a key repeated across sibling
	// sub-records.
	NestedSeparator = ";"

	// SchemaTypeColumn is dropped from every flattened batch.
	SchemaTypeColumn = "schematype"

	// emptyListSentinel is the text some exports use for an empty nested
	// list next to an empty value.
	emptyListSentinel = ",[]"

	// emptyNestedList is a list holding one empty list.
	emptyNestedList = "[[]]"
)

// Anomaly is a nested value that could not be decoded. The affected cell
// contributes nothing; the row is otherwise kept.
type Anomaly struct {
	Row    int
	ID     int64 // zero when the row has no usable id
	Column string
	Err    error
}

// ── Dotted normalization ───────────────────────────────────

// Normalize expands every record's nested mappings into dotted columns.
// Column order follows first encounter across the batch.
func Normalize(records []Record) *Table {
	t := &Table{}
	seen := map[string]bool{}
	for _, rec := range records {
		row := Row{}
		var order []string
		expandDotted("", rec.Fields, row, &order)
		for _, c := range order {
			if !seen[c] {
				seen[c] = true
				t.Columns = append(t.Columns, c)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func expandDotted(prefix string, obj *Object, row Row, order *[]string) {
	for _, k := range obj.Keys() {
		v, _ := obj.Get(k)
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		if sub := v.Object(); sub != nil {
			if sub.Len() == 0 {
				continue
			}
			expandDotted(name, sub, row, order)
			continue
		}
		if _, ok := row[name]; !ok {
			*order = append(*order, name)
		}
		row[name] = v
	}
}

// ── Nested list flattening ─────────────────────────────────

// Flatten turns one record into a flat, scalar-only mapping. Empty
// columns are kept; use FlattenBatch to prune them across a batch.
func Flatten(rec Record) (*Object, []Anomaly) {
	t, anomalies := flattenTable(Normalize([]Record{rec}), false)
	out := NewObject()
	if t.Len() == 0 {
		return out, anomalies
	}
	for _, c := range t.Columns {
		out.Set(c, t.Rows[0][c])
	}
	return out, anomalies
}

// FlattenBatch flattens every nested list-of-mapping column of t, then drops
// columns that are empty in every row and the schematype column. t is not
// modified.
func FlattenBatch(t *Table) (*Table, []Anomaly) {
	return flattenTable(t, true)
}

func flattenTable(t *Table, dropEmpty bool) (*Table, []Anomaly) {
	var anomalies []Anomaly
	out := &Table{Rows: make([]Row, len(t.Rows))}
	for i := range out.Rows {
		out.Rows[i] = Row{}
	}
	have := map[string]bool{}
	addColumn := func(name string) {
		if !have[name] {
			have[name] = true
			out.Columns = append(out.Columns, name)
		}
	}

	for _, col := range t.Columns {
		if !isNestedColumn(t, col) {
			addColumn(col)
			for i, r := range t.Rows {
				if v, ok := r[col]; ok {
					out.Rows[i][col] = scalarize(clearSentinel(v))
				}
			}
			continue
		}

		// Sub-keys take the nested field's position, first-encounter order.
		for i, r := range t.Rows {
			merged, err := mergeNested(r[col])
			if err != nil {
				id, _ := rowID(r)
				anomalies = append(anomalies, Anomaly{Row: i, ID: id, Column: col, Err: err})
				continue
			}
			for _, k := range merged.Keys() {
				name := col + "_" + k
				addColumn(name)
				v, _ := merged.Get(k)
				if prev, ok := out.Rows[i][name]; ok && v.IsEmpty() && !prev.IsEmpty() {
					continue
				}
				out.Rows[i][name] = v
			}
		}
	}

	out.Columns = pruneColumns(out, dropEmpty)
	return out, anomalies
}

// isNestedColumn reports whether any cell of col holds a list whose first
// element is a mapping, natively or as encoded text. Text that fails to
// decode does not count.
func isNestedColumn(t *Table, col string) bool {
	for _, r := range t.Rows {
		v := r[col]
		switch v.Kind() {
		case KindList:
			if items := v.Items(); len(items) > 0 && items[0].Kind() == KindObject {
				return true
			}
		case KindString:
			s, _ := v.Str()
			if !strings.HasPrefix(strings.TrimSpace(s), "[{") {
				continue
			}
			decoded, err := DecodeLiteral(s)
			if err != nil {
				continue
			}
			if items := decoded.Items(); len(items) > 0 && items[0].Kind() == KindObject {
				return true
			}
		}
	}
	return false
}

// mergeNested reduces one cell of a nested column to a single flat mapping.
func mergeNested(v Value) (*Object, error) {
	if s, ok := v.Str(); ok {
		s = strings.TrimSpace(s)
		if s == "" || s == emptyListSentinel || s == emptyNestedList {
			return NewObject(), nil
		}
		decoded, err := DecodeLiteral(s)
		if err != nil {
			return nil, err
		}
		v = decoded
	}

	switch v.Kind() {
	case KindNull:
		return NewObject(), nil
	case KindObject:
		return flatSubRecord(v.Object()), nil
	case KindList:
		merged := NewObject()
		for _, item := range v.Items() {
			sub := item.Object()
			if sub == nil {
				// [[]] and other non-mapping elements carry no fields.
				continue
			}
			flat := flatSubRecord(sub)
			for _, k := range flat.Keys() {
				next, _ := flat.Get(k)
				mergeKey(merged, k, next)
			}
		}
		return merged, nil
	default:
		return nil, eris.Wrapf(ErrDecode, "%s value is not a nested structure", v.Kind())
	}
}

// mergeKey keeps the first value of k and appends later non-empty values
// with NestedSeparator. An empty first value is replaced rather than
// prefixed.
func mergeKey(merged *Object, k string, next Value) {
	prev, ok := merged.Get(k)
	if !ok {
		merged.Set(k, next)
		return
	}
	if next.IsEmpty() {
		return
	}
	if prev.IsEmpty() {
		merged.Set(k, next)
		return
	}
	merged.Set(k, String(prev.Text()+NestedSeparator+next.Text()))
}

// flatSubRecord dotted-expands a sub-record and renders any remaining list
// as compact JSON text so every value is scalar.
func flatSubRecord(obj *Object) *Object {
	row := Row{}
	var order []string
	expandDotted("", obj, row, &order)
	out := NewObject()
	for _, k := range order {
		out.Set(k, scalarize(row[k]))
	}
	return out
}

// clearSentinel maps the empty-list encodings to null.
func clearSentinel(v Value) Value {
	if s, ok := v.Str(); ok {
		switch strings.TrimSpace(s) {
		case emptyListSentinel, emptyNestedList:
			return Null()
		}
	}
	if items := v.Items(); len(items) == 1 && items[0].Kind() == KindList && len(items[0].Items()) == 0 {
		return Null()
	}
	return v
}

func scalarize(v Value) Value {
	if v.IsScalar() {
		return v
	}
	return String(v.Text())
}

// pruneColumns applies the always-drop rule and, when dropEmpty is set, the
// all-empty rule. Cells of dropped columns are removed from rows too.
func pruneColumns(t *Table, dropEmpty bool) []string {
	kept := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		drop := c == SchemaTypeColumn || (dropEmpty && columnEmpty(t, c))
		if !drop {
			kept = append(kept, c)
			continue
		}
		for _, r := range t.Rows {
			delete(r, c)
		}
	}
	return kept
}

func columnEmpty(t *Table, col string) bool {
	for _, r := range t.Rows {
		if !r[col].IsEmpty() {
			return false
		}
	}
	return true
}
