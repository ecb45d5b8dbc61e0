package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFloe_Dataset_FromRows_InfersSchema(t *testing.T) {
	t.Parallel()

	rows := []map[string]any{
		{"id": int64(1), "category": "electronics", "amount": 299.99, "active": true},
		{"id": int64(2), "category": "clothing", "amount": 79.99, "active": false},
		{"id": int64(3), "category": "groceries", "amount": 45.50},
	}
	ds, err := FromRows(rows)
	require.NoError(t, err)
	require.Equal(t, 3, ds.NumRows())

	// Columns ordered by name, ids assigned in order, all optional.
	schema := ds.Schema()
	require.Equal(t, []string{"active", "amount", "category", "id"}, fieldNames(schema))
	for i, f := range schema {
		require.Equal(t, i+1, f.ID)
		require.False(t, f.Required)
	}

	require.Equal(t, KindBool, schema[0].Kind)
	require.Equal(t, KindFloat64, schema[1].Kind)
	require.Equal(t, KindString, schema[2].Kind)
	require.Equal(t, KindInt64, schema[3].Kind)

	// Missing key becomes a null.
	active, err := ds.ColumnByName("active")
	require.NoError(t, err)
	require.Equal(t, []bool{false, false, true}, active.Nulls)
}

func TestFloe_Dataset_FromRows_Timestamps(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ds, err := FromRows([]map[string]any{{"seen_at": at}})
	require.NoError(t, err)

	col, err := ds.ColumnByName("seen_at")
	require.NoError(t, err)
	require.Equal(t, KindTimestamp, col.Field.Kind)
	require.Equal(t, Microsecond, col.Field.Timestamp.Precision)
	require.Equal(t, []int64{at.UnixMicro()}, col.Times)
}

func TestFloe_Dataset_FromRows_RejectsUnsupportedKinds(t *testing.T) {
	t.Parallel()

	t.Run("arbitrary struct value", func(t *testing.T) {
		t.Parallel()
		_, err := FromRows([]map[string]any{{"blob": struct{ X int }{1}}})
		require.ErrorIs(t, err, ErrUnsupportedType)
	})

	t.Run("mixed kinds in one column", func(t *testing.T) {
		t.Parallel()
		_, err := FromRows([]map[string]any{
			{"v": int64(1)},
			{"v": "two"},
		})
		require.ErrorIs(t, err, ErrUnsupportedType)
	})
}

func fieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
