// Package dataset provides the in-memory columnar table model shared by the
// writer and registration commit paths, together with the timestamp precision
// normalizer that governs nanosecond-to-microsecond coercion.
package dataset

import (
	"fmt"
	"time"
)

// Kind identifies the logical type of a column.
type Kind int

const (
	KindInt32 Kind = iota
	KindInt64
	KindFloat64
	KindString
	KindBool
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int"
	case KindInt64:
		return "long"
	case KindFloat64:
		return "double"
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	case KindTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Precision is the resolution of a timestamp column.
type Precision int

const (
	Microsecond Precision = iota
	Nanosecond
)

func (p Precision) String() string {
	switch p {
	case Nanosecond:
		return "ns"
	case Microsecond:
		return "us"
	default:
		return fmt.Sprintf("precision(%d)", int(p))
	}
}

// TimestampType describes a timestamp column: its precision and whether the
// values carry a UTC timezone tag (the only tag the warehouse uses) or are
// timezone-naive.
type TimestampType struct {
	Precision Precision
	UTC       bool
}

func (t TimestampType) String() string {
	if t.UTC {
		return fmt.Sprintf("timestamp[%s, tz=UTC]", t.Precision)
	}
	return fmt.Sprintf("timestamp[%s]", t.Precision)
}

// Field describes a single column of a dataset or table schema.
type Field struct {
	ID        int           `json:"id"`
	Name      string        `json:"name"`
	Kind      Kind          `json:"kind"`
	Timestamp TimestampType `json:"timestamp,omitzero"`
	Required  bool          `json:"required"`
}

func (f Field) typeString() string {
	if f.Kind == KindTimestamp {
		return f.Timestamp.String()
	}
	return f.Kind.String()
}

// Equal reports whether two fields match in name, logical type and
// nullability. Field ids are assigned by the destination table and are not
// part of the comparison.
func (f Field) Equal(o Field) bool {
	return f.Name == o.Name && f.Kind == o.Kind && f.Required == o.Required &&
		(f.Kind != KindTimestamp || f.Timestamp == o.Timestamp)
}

// Column is one named, typed column of values. Exactly one of the value
// slices is populated, matching Field.Kind. Nulls is nil when the column has
// no null values; otherwise it has one entry per row and the corresponding
// value slot holds the zero value.
type Column struct {
	Field    Field
	Int32s   []int32
	Int64s   []int64
	Float64s []float64
	Strings  []string
	Bools    []bool
	Times    []int64 // epoch offsets in Field.Timestamp.Precision units
	Nulls    []bool
}

// Len returns the number of rows in the column.
func (c Column) Len() int {
	switch c.Field.Kind {
	case KindInt32:
		return len(c.Int32s)
	case KindInt64:
		return len(c.Int64s)
	case KindFloat64:
		return len(c.Float64s)
	case KindString:
		return len(c.Strings)
	case KindBool:
		return len(c.Bools)
	case KindTimestamp:
		return len(c.Times)
	default:
		return 0
	}
}

// HasNulls reports whether any row of the column is null.
func (c Column) HasNulls() bool {
	for _, n := range c.Nulls {
		if n {
			return true
		}
	}
	return false
}

// Value returns the value at row i as a generic Go value, or nil for nulls.
// Timestamps are returned as time.Time (UTC when tagged).
func (c Column) Value(i int) any {
	if c.Nulls != nil && c.Nulls[i] {
		return nil
	}
	switch c.Field.Kind {
	case KindInt32:
		return c.Int32s[i]
	case KindInt64:
		return c.Int64s[i]
	case KindFloat64:
		return c.Float64s[i]
	case KindString:
		return c.Strings[i]
	case KindBool:
		return c.Bools[i]
	case KindTimestamp:
		return c.Field.Timestamp.Time(c.Times[i])
	default:
		return nil
	}
}

// Time converts an epoch offset in the type's precision to a time.Time.
func (t TimestampType) Time(v int64) time.Time {
	var out time.Time
	switch t.Precision {
	case Nanosecond:
		out = time.Unix(0, v)
	default:
		out = time.UnixMicro(v)
	}
	return out.UTC()
}

// Dataset is an immutable in-memory columnar table: an ordered sequence of
// named, typed columns of equal length. Transformations return new Dataset
// values rather than mutating in place.
type Dataset struct {
	cols []Column
	rows int
}

// New builds a Dataset from columns, validating that all columns have the
// same row count.
func New(cols ...Column) (*Dataset, error) {
	rows := 0
	for i, c := range cols {
		if c.Field.Name == "" {
			return nil, fmt.Errorf("column %d has no name", i)
		}
		if i == 0 {
			rows = c.Len()
			continue
		}
		if c.Len() != rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", c.Field.Name, c.Len(), rows)
		}
	}
	return &Dataset{cols: cols, rows: rows}, nil
}

// NumRows returns the row count.
func (d *Dataset) NumRows() int { return d.rows }

// NumCols returns the column count.
func (d *Dataset) NumCols() int { return len(d.cols) }

// Schema returns the ordered fields of the dataset.
func (d *Dataset) Schema() []Field {
	fields := make([]Field, len(d.cols))
	for i, c := range d.cols {
		fields[i] = c.Field
	}
	return fields
}

// Column returns the column at position i.
func (d *Dataset) Column(i int) Column { return d.cols[i] }

// ColumnIndex returns the position of the named column, or -1.
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.cols {
		if c.Field.Name == name {
			return i
		}
	}
	return -1
}

// ColumnByName returns the named column.
func (d *Dataset) ColumnByName(name string) (Column, error) {
	i := d.ColumnIndex(name)
	if i < 0 {
		return Column{}, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	return d.cols[i], nil
}

// SetColumn returns a new Dataset with the column at position i replaced.
func (d *Dataset) SetColumn(i int, col Column) (*Dataset, error) {
	if col.Len() != d.rows {
		return nil, fmt.Errorf("replacement column %q has %d rows, expected %d", col.Field.Name, col.Len(), d.rows)
	}
	cols := make([]Column, len(d.cols))
	copy(cols, d.cols)
	cols[i] = col
	return &Dataset{cols: cols, rows: d.rows}, nil
}

// Rows materializes the dataset as row maps, for previews and JSON output.
func (d *Dataset) Rows(limit int) []map[string]any {
	if limit < 0 || limit > d.rows {
		limit = d.rows
	}
	out := make([]map[string]any, 0, limit)
	for i := 0; i < limit; i++ {
		row := make(map[string]any, len(d.cols))
		for _, c := range d.cols {
			row[c.Field.Name] = c.Value(i)
		}
		out = append(out, row)
	}
	return out
}
