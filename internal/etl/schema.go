package etl

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ── Schema ─────────────────────────────────────────────────
// A Schema is the fixed, ordered column contract of one source. It is
// loaded once (internal/schemas) and passed by value; nothing in the
// pipeline grows it from observed data.

// KeyColumn is the merge key every table is deduplicated and sorted by.
const KeyColumn = "id"

var (
	// ErrInvalidInteger marks a value in an int64 column that cannot be
	// represented as a 64-bit integer.
	ErrInvalidInteger = eris.New("value is not a 64-bit integer")

	// ErrInvalidSchema marks a schema definition that cannot be enforced.
	ErrInvalidSchema = eris.New("invalid schema")
)

// ColumnType is the declared scalar type of a column.
type ColumnType string

const (
	TypeString ColumnType = "string"
	TypeInt64  ColumnType = "int64"
)

// Column is one schema entry.
type Column struct {
	Name string     `yaml:"name" json:"name"`
	Type ColumnType `yaml:"type" json:"type"`
}

// Schema is an ordered column list for one source.
type Schema struct {
	Source  string   `yaml:"source" json:"source"`
	Version int      `yaml:"version" json:"version"`
	Columns []Column `yaml:"columns" json:"columns"`
}

// Validate checks the schema can be enforced: unique names, known types
// and an int64 merge key.
func (s Schema) Validate() error {
	if len(s.Columns) == 0 {
		return eris.Wrapf(ErrInvalidSchema, "%s: no columns", s.Source)
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if c.Name == "" {
			return eris.Wrapf(ErrInvalidSchema, "%s: column with empty name", s.Source)
		}
		if seen[c.Name] {
			return eris.Wrapf(ErrInvalidSchema, "%s: duplicate column %q", s.Source, c.Name)
		}
		seen[c.Name] = true
		switch c.Type {
		case TypeString, TypeInt64:
		default:
			return eris.Wrapf(ErrInvalidSchema, "%s: column %q has unknown type %q", s.Source, c.Name, c.Type)
		}
	}
	key, ok := s.Lookup(KeyColumn)
	if !ok {
		return eris.Wrapf(ErrInvalidSchema, "%s: missing %q column", s.Source, KeyColumn)
	}
	if key.Type != TypeInt64 {
		return eris.Wrapf(ErrInvalidSchema, "%s: %q must be int64", s.Source, KeyColumn)
	}
	return nil
}

// Names returns the column names in declared order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Lookup returns the column named name.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ── Enforcement ────────────────────────────────────────────

// Drift reports how a table differed from the schema it was enforced
// against.
type Drift struct {
	Dropped []string // present in the table, unknown to the schema
	Added   []string // declared by the schema, absent from the table
}

// Empty reports whether the table already had exactly the schema's columns.
func (d Drift) Empty() bool { return len(d.Dropped) == 0 && len(d.Added) == 0 }

// Log reports drift at info level with counts and column names.
func (d Drift) Log(log *zap.Logger, source, stage string) {
	if log == nil || d.Empty() {
		return
	}
	log = log.With(zap.String("source", source), zap.String("stage", stage))
	if len(d.Dropped) > 0 {
		log.Info("schema: dropped unknown columns",
			zap.Int("count", len(d.Dropped)),
			zap.Strings("dropped", d.Dropped),
		)
	}
	if len(d.Added) > 0 {
		log.Info("schema: added missing columns",
			zap.Int("count", len(d.Added)),
			zap.Strings("added", d.Added),
		)
	}
}

// Enforce aligns t to s: unknown columns are dropped, missing columns are
// added as null, columns follow s's order and every value is coerced to its
// declared type. The input table is not modified. Enforcing an already
// enforced table returns an equal table.
func Enforce(t *Table, s Schema) (*Table, Drift, error) {
	var drift Drift
	if t == nil {
		t = &Table{}
	}
	for _, c := range t.Columns {
		if _, ok := s.Lookup(c); !ok {
			drift.Dropped = append(drift.Dropped, c)
		}
	}
	for _, c := range s.Columns {
		if !t.HasColumn(c.Name) {
			drift.Added = append(drift.Added, c.Name)
		}
	}

	out := &Table{Columns: s.Names(), Rows: make([]Row, 0, len(t.Rows))}
	for i, r := range t.Rows {
		row := make(Row, len(s.Columns))
		for _, c := range s.Columns {
			v, err := coerce(r[c.Name], c.Type)
			if err != nil {
				return nil, drift, eris.Wrapf(err, "column %q row %d", c.Name, i)
			}
			row[c.Name] = v
		}
		out.Rows = append(out.Rows, row)
	}
	return out, drift, nil
}

func coerce(v Value, typ ColumnType) (Value, error) {
	if v.IsNull() {
		return Null(), nil
	}
	switch typ {
	case TypeInt64:
		if s, ok := v.Str(); ok && strings.TrimSpace(s) == "" {
			return Null(), nil
		}
		n, err := toInt64(v)
		if err != nil {
			return Null(), err
		}
		return Int(n), nil
	default:
		if _, ok := v.Str(); ok {
			return v, nil
		}
		return String(v.Text()), nil
	}
}

// toInt64 converts ints, integral floats and numeric strings.
func toInt64(v Value) (int64, error) {
	switch v.Kind() {
	case KindInt:
		n, _ := v.IntValue()
		return n, nil
	case KindFloat:
		f, _ := v.FloatValue()
		return floatToInt64(f)
	case KindString:
		s, _ := v.Str()
		s = strings.TrimSpace(s)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, eris.Wrapf(ErrInvalidInteger, "%q", s)
		}
		return floatToInt64(f)
	default:
		return 0, eris.Wrapf(ErrInvalidInteger, "%s value", v.Kind())
	}
}

func floatToInt64(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, eris.Wrapf(ErrInvalidInteger, "%v", f)
	}
	return int64(f), nil
}

// rowID returns the merge key of r.
func rowID(r Row) (int64, error) {
	v := r[KeyColumn]
	if v.IsEmpty() {
		return 0, eris.Wrap(ErrMissingKey, "null id")
	}
	return toInt64(v)
}

func wrapRow(err error, i int) error {
	return eris.Wrapf(err, "row %d", i)
}
