package etl

// ── Table ──────────────────────────────────────────────────
// A Table is the columnar working set shared by every pipeline stage.
// Columns fix the order; Rows hold scalar Values keyed by column name.
// A column missing from a row reads as null.

// Row maps column name to a scalar value.
type Row map[string]Value

// Table is an ordered set of columns and the rows conforming to them.
type Table struct {
	Columns []string
	Rows    []Row
}

// NewTable returns an empty table with the given columns.
func NewTable(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether name is one of the table's columns.
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	if t == nil {
		return -1
	}
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Get returns the value at row i for column name. Missing cells are null.
func (t *Table) Get(i int, name string) Value {
	return t.Rows[i][name]
}

// Append adds a row. Names in order that the row sets and the table lacks
// become new trailing columns.
func (t *Table) Append(r Row, order ...string) {
	for _, c := range order {
		if _, ok := r[c]; ok && !t.HasColumn(c) {
			t.Columns = append(t.Columns, c)
		}
	}
	t.Rows = append(t.Rows, r)
}

// Clone returns a deep copy of the table structure. Values are immutable and
// shared.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		nr := make(Row, len(r))
		for k, v := range r {
			nr[k] = v
		}
		out.Rows[i] = nr
	}
	return out
}

// Equal compares column order and every cell.
func (t *Table) Equal(o *Table) bool {
	if t.Len() != o.Len() || len(t.Columns) != len(o.Columns) {
		return false
	}
	for i, c := range t.Columns {
		if o.Columns[i] != c {
			return false
		}
	}
	for i := range t.Rows {
		for _, c := range t.Columns {
			if !t.Rows[i][c].Equal(o.Rows[i][c]) {
				return false
			}
		}
	}
	return true
}

// IDs returns the merge keys of every row. Rows with a null or non-integral
// id fail with ErrMissingKey.
func (t *Table) IDs() ([]int64, error) {
	if !t.HasColumn(KeyColumn) {
		return nil, ErrMissingKey
	}
	ids := make([]int64, 0, len(t.Rows))
	for i, r := range t.Rows {
		id, err := rowID(r)
		if err != nil {
			return nil, wrapRow(err, i)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FromRecords builds a table whose columns follow first-encounter order
// across records. Record values are kept as-is, nested or not.
func FromRecords(records []Record) *Table {
	t := &Table{}
	seen := map[string]bool{}
	for _, rec := range records {
		row := make(Row, rec.Fields.Len())
		for _, k := range rec.Fields.Keys() {
			v, _ := rec.Fields.Get(k)
			row[k] = v
			if !seen[k] {
				seen[k] = true
				t.Columns = append(t.Columns, k)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}
