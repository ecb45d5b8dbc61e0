package dataset

import (
	"fmt"
)

// Rename returns a new Dataset with columns renamed positionally.
func (d *Dataset) Rename(names []string) (*Dataset, error) {
	if len(names) != len(d.cols) {
		return nil, fmt.Errorf("%w: %d names for %d columns", ErrSchemaCoercion, len(names), len(d.cols))
	}
	cols := make([]Column, len(d.cols))
	copy(cols, d.cols)
	for i := range cols {
		cols[i].Field.Name = names[i]
	}
	return &Dataset{cols: cols, rows: d.rows}, nil
}

// CoerceToSchema rewrites the dataset to exactly match the destination
// schema: columns are renamed positionally to the destination field names,
// integer columns are widened or narrowed to the destination width, and
// timestamp columns are cast to the destination precision, honoring
// allowTruncation. Nullability is checked against required fields.
//
// Narrowing long -> int performs no value-range check and wraps silently;
// this mirrors the reference writer behavior (see DESIGN.md).
func (d *Dataset) CoerceToSchema(schema []Field, allowTruncation bool) (*Dataset, error) {
	if len(schema) != len(d.cols) {
		return nil, fmt.Errorf("%w: dataset has %d columns, destination schema has %d",
			ErrSchemaCoercion, len(d.cols), len(schema))
	}

	cols := make([]Column, len(d.cols))
	for i, target := range schema {
		col, err := coerceColumn(d.cols[i], target, allowTruncation)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return &Dataset{cols: cols, rows: d.rows}, nil
}

func coerceColumn(col Column, target Field, allowTruncation bool) (Column, error) {
	if target.Required && col.HasNulls() {
		return Column{}, fmt.Errorf("%w: column %q has nulls but destination field %q is required",
			ErrSchemaCoercion, col.Field.Name, target.Name)
	}

	out := Column{Field: target}
	if col.Nulls != nil {
		out.Nulls = append([]bool(nil), col.Nulls...)
	}

	switch {
	case col.Field.Kind == target.Kind && target.Kind == KindTimestamp:
		cast, err := castTimestamps(col, target.Timestamp, allowTruncation)
		if err != nil {
			return Column{}, err
		}
		cast.Field = target
		return cast, nil

	case col.Field.Kind == target.Kind:
		out.Int32s = col.Int32s
		out.Int64s = col.Int64s
		out.Float64s = col.Float64s
		out.Strings = col.Strings
		out.Bools = col.Bools
		return out, nil

	case col.Field.Kind == KindInt64 && target.Kind == KindInt32:
		vals := make([]int32, len(col.Int64s))
		for i, v := range col.Int64s {
			vals[i] = int32(v)
		}
		out.Int32s = vals
		return out, nil

	case col.Field.Kind == KindInt32 && target.Kind == KindInt64:
		vals := make([]int64, len(col.Int32s))
		for i, v := range col.Int32s {
			vals[i] = int64(v)
		}
		out.Int64s = vals
		return out, nil

	default:
		return Column{}, fmt.Errorf("%w: cannot cast column %q from %s to %s",
			ErrSchemaCoercion, col.Field.Name, col.Field.Kind, target.Kind)
	}
}
