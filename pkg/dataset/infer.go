package dataset

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// FromRows builds a Dataset from generic row maps, inferring a schema from a
// closed set of primitive value kinds:
//
//	int, int64        -> long
//	int32             -> int
//	float64           -> double
//	string            -> string
//	bool              -> boolean
//	time.Time         -> timestamp[us]
//	json.Number       -> long when integral, double otherwise
//
// Any other value kind fails with ErrUnsupportedType. Columns are ordered by
// name for determinism, all fields are optional, and a key missing from a row
// becomes a null. Field ids are assigned in column order starting at 1.
func FromRows(rows []map[string]any) (*Dataset, error) {
	names := make([]string, 0)
	seen := make(map[string]bool)
	for _, row := range rows {
		for name := range row {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)

	cols := make([]Column, 0, len(names))
	for i, name := range names {
		col, err := inferColumn(i+1, name, rows)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return New(cols...)
}

func inferColumn(id int, name string, rows []map[string]any) (Column, error) {
	field := Field{ID: id, Name: name}
	kindSet := false

	setKind := func(k Kind, ts TimestampType) error {
		if !kindSet {
			field.Kind = k
			field.Timestamp = ts
			kindSet = true
			return nil
		}
		if field.Kind != k {
			return fmt.Errorf("%w: column %q mixes %s and %s values", ErrUnsupportedType, name, field.Kind, k)
		}
		return nil
	}

	// First pass fixes the kind, second pass fills values.
	for _, row := range rows {
		v, ok := row[name]
		if !ok || v == nil {
			continue
		}
		k, ts, err := valueKind(name, v)
		if err != nil {
			return Column{}, err
		}
		if err := setKind(k, ts); err != nil {
			return Column{}, err
		}
	}
	if !kindSet {
		// All-null column; store it as an optional string column.
		field.Kind = KindString
	}

	col := Column{Field: field, Nulls: make([]bool, len(rows))}
	switch field.Kind {
	case KindInt32:
		col.Int32s = make([]int32, len(rows))
	case KindInt64:
		col.Int64s = make([]int64, len(rows))
	case KindFloat64:
		col.Float64s = make([]float64, len(rows))
	case KindString:
		col.Strings = make([]string, len(rows))
	case KindBool:
		col.Bools = make([]bool, len(rows))
	case KindTimestamp:
		col.Times = make([]int64, len(rows))
	}

	for i, row := range rows {
		v, ok := row[name]
		if !ok || v == nil {
			col.Nulls[i] = true
			continue
		}
		if err := setValue(&col, i, v); err != nil {
			return Column{}, err
		}
	}
	if !col.HasNulls() {
		col.Nulls = nil
	}
	return col, nil
}

func valueKind(name string, v any) (Kind, TimestampType, error) {
	switch v := v.(type) {
	case int, int64:
		return KindInt64, TimestampType{}, nil
	case int32:
		return KindInt32, TimestampType{}, nil
	case float64:
		return KindFloat64, TimestampType{}, nil
	case string:
		return KindString, TimestampType{}, nil
	case bool:
		return KindBool, TimestampType{}, nil
	case time.Time:
		return KindTimestamp, TimestampType{Precision: Microsecond}, nil
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return KindInt64, TimestampType{}, nil
		}
		return KindFloat64, TimestampType{}, nil
	default:
		return 0, TimestampType{}, fmt.Errorf("%w: column %q value %T", ErrUnsupportedType, name, v)
	}
}

func setValue(col *Column, i int, v any) error {
	switch col.Field.Kind {
	case KindInt32:
		col.Int32s[i] = v.(int32)
	case KindInt64:
		switch v := v.(type) {
		case int:
			col.Int64s[i] = int64(v)
		case int64:
			col.Int64s[i] = v
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return fmt.Errorf("%w: column %q value %q", ErrUnsupportedType, col.Field.Name, v)
			}
			col.Int64s[i] = n
		}
	case KindFloat64:
		switch v := v.(type) {
		case float64:
			col.Float64s[i] = v
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return fmt.Errorf("%w: column %q value %q", ErrUnsupportedType, col.Field.Name, v)
			}
			col.Float64s[i] = f
		}
	case KindString:
		col.Strings[i] = v.(string)
	case KindBool:
		col.Bools[i] = v.(bool)
	case KindTimestamp:
		col.Times[i] = v.(time.Time).UnixMicro()
	}
	return nil
}
