package dataset

import (
	"fmt"
)

// Normalize returns a new Dataset with the named timestamp column converted
// to the target precision and timezone tag.
//
// Widening (us -> ns) is always lossless. Narrowing (ns -> us) drops the last
// three decimal digits of the sub-second fraction by integer division toward
// zero; it is truncation, never rounding, and must be explicitly permitted
// via allowTruncation, otherwise any value carrying a sub-microsecond
// fraction fails with ErrPrecisionLoss. A column already at the target type
// is returned unchanged.
func Normalize(d *Dataset, column string, target TimestampType, allowTruncation bool) (*Dataset, error) {
	idx := d.ColumnIndex(column)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, column)
	}
	col := d.Column(idx)
	if col.Field.Kind != KindTimestamp {
		return nil, fmt.Errorf("%w: column %q is %s, not a timestamp", ErrSchemaCoercion, column, col.Field.Kind)
	}
	if col.Field.Timestamp == target {
		return d, nil
	}

	out, err := castTimestamps(col, target, allowTruncation)
	if err != nil {
		return nil, err
	}
	return d.SetColumn(idx, out)
}

// castTimestamps converts a timestamp column's values between precisions.
func castTimestamps(col Column, target TimestampType, allowTruncation bool) (Column, error) {
	src := col.Field.Timestamp
	values := make([]int64, len(col.Times))

	switch {
	case src.Precision == target.Precision:
		copy(values, col.Times)
	case src.Precision == Microsecond && target.Precision == Nanosecond:
		for i, v := range col.Times {
			values[i] = v * 1_000
		}
	case src.Precision == Nanosecond && target.Precision == Microsecond:
		if !allowTruncation {
			for i, v := range col.Times {
				if col.Nulls != nil && col.Nulls[i] {
					continue
				}
				if v%1_000 != 0 {
					return Column{}, fmt.Errorf("%w: column %q row %d has sub-microsecond fraction (%d ns)",
						ErrPrecisionLoss, col.Field.Name, i, v%1_000)
				}
			}
		}
		for i, v := range col.Times {
			values[i] = v / 1_000
		}
	default:
		return Column{}, fmt.Errorf("%w: cannot cast %s to %s", ErrSchemaCoercion, src, target)
	}

	field := col.Field
	field.Timestamp = target
	out := Column{Field: field, Times: values}
	if col.Nulls != nil {
		out.Nulls = append([]bool(nil), col.Nulls...)
	}
	return out, nil
}
