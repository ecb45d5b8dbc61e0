package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func eventsNS(t *testing.T) *Dataset {
	t.Helper()
	base := time.Date(2024, 1, 1, 12, 34, 56, 123456789, time.UTC)
	ds, err := New(
		Column{
			Field:  Field{ID: 1, Name: "id", Kind: KindInt64, Required: true},
			Int64s: []int64{1, 2, 3},
		},
		Column{
			Field: Field{ID: 2, Name: "ts_ns", Kind: KindTimestamp, Timestamp: TimestampType{Precision: Nanosecond, UTC: true}},
			Times: []int64{base.UnixNano(), base.UnixNano() + 1, base.UnixNano() + 2},
		},
	)
	require.NoError(t, err)
	return ds
}

func TestFloe_Dataset_Normalize_TruncatesNanosToMicros(t *testing.T) {
	t.Parallel()

	ds := eventsNS(t)
	out, err := Normalize(ds, "ts_ns", TimestampType{Precision: Microsecond, UTC: true}, true)
	require.NoError(t, err)

	col, err := out.ColumnByName("ts_ns")
	require.NoError(t, err)
	require.Equal(t, TimestampType{Precision: Microsecond, UTC: true}, col.Field.Timestamp)

	// .123456789, .123456790 and .123456791 all truncate to .123456 -- never
	// rounding, so 790 and 791 do not bump the microsecond.
	want := time.Date(2024, 1, 1, 12, 34, 56, 123456000, time.UTC).UnixMicro()
	require.Equal(t, []int64{want, want, want}, col.Times)

	// The input dataset is unchanged.
	in, err := ds.ColumnByName("ts_ns")
	require.NoError(t, err)
	require.Equal(t, Nanosecond, in.Field.Timestamp.Precision)
}

func TestFloe_Dataset_Normalize_TruncationDropsExactlyLastThreeDigits(t *testing.T) {
	t.Parallel()

	for _, f := range []int64{0, 1, 499, 500, 501, 999} {
		ns := int64(1_700_000_000_000_000_000) + f
		ds, err := New(Column{
			Field: Field{ID: 1, Name: "ts", Kind: KindTimestamp, Timestamp: TimestampType{Precision: Nanosecond}},
			Times: []int64{ns},
		})
		require.NoError(t, err)

		out, err := Normalize(ds, "ts", TimestampType{Precision: Microsecond}, true)
		require.NoError(t, err)
		got := out.Column(0).Times[0]
		require.Equal(t, ns-(f%1_000), got*1_000)
	}
}

func TestFloe_Dataset_Normalize_PrecisionLossGuard(t *testing.T) {
	t.Parallel()

	t.Run("fails when a value carries a sub-microsecond fraction", func(t *testing.T) {
		t.Parallel()
		ds := eventsNS(t)
		_, err := Normalize(ds, "ts_ns", TimestampType{Precision: Microsecond, UTC: true}, false)
		require.ErrorIs(t, err, ErrPrecisionLoss)
	})

	t.Run("succeeds when every fraction is zero", func(t *testing.T) {
		t.Parallel()
		ds, err := New(Column{
			Field: Field{ID: 1, Name: "ts", Kind: KindTimestamp, Timestamp: TimestampType{Precision: Nanosecond}},
			Times: []int64{1_000, 2_000_000, 0},
		})
		require.NoError(t, err)

		out, err := Normalize(ds, "ts", TimestampType{Precision: Microsecond}, false)
		require.NoError(t, err)
		require.Equal(t, []int64{1, 2_000, 0}, out.Column(0).Times)
	})

	t.Run("null slots are exempt from the guard", func(t *testing.T) {
		t.Parallel()
		ds, err := New(Column{
			Field: Field{ID: 1, Name: "ts", Kind: KindTimestamp, Timestamp: TimestampType{Precision: Nanosecond}},
			Times: []int64{123, 2_000},
			Nulls: []bool{true, false},
		})
		require.NoError(t, err)

		out, err := Normalize(ds, "ts", TimestampType{Precision: Microsecond}, false)
		require.NoError(t, err)
		require.Equal(t, []bool{true, false}, out.Column(0).Nulls)
	})
}

func TestFloe_Dataset_Normalize_NoOpWhenAlreadyAtTarget(t *testing.T) {
	t.Parallel()

	ds, err := New(Column{
		Field: Field{ID: 1, Name: "ts", Kind: KindTimestamp, Timestamp: TimestampType{Precision: Microsecond, UTC: true}},
		Times: []int64{42},
	})
	require.NoError(t, err)

	out, err := Normalize(ds, "ts", TimestampType{Precision: Microsecond, UTC: true}, false)
	require.NoError(t, err)
	require.Same(t, ds, out)
}

func TestFloe_Dataset_Normalize_WidensMicrosToNanos(t *testing.T) {
	t.Parallel()

	ds, err := New(Column{
		Field: Field{ID: 1, Name: "ts", Kind: KindTimestamp, Timestamp: TimestampType{Precision: Microsecond}},
		Times: []int64{7},
	})
	require.NoError(t, err)

	out, err := Normalize(ds, "ts", TimestampType{Precision: Nanosecond}, false)
	require.NoError(t, err)
	require.Equal(t, []int64{7_000}, out.Column(0).Times)
}

func TestFloe_Dataset_Normalize_TimezoneTag(t *testing.T) {
	t.Parallel()

	t.Run("preserved when target keeps it", func(t *testing.T) {
		t.Parallel()
		ds := eventsNS(t)
		out, err := Normalize(ds, "ts_ns", TimestampType{Precision: Microsecond, UTC: true}, true)
		require.NoError(t, err)
		require.True(t, out.Column(1).Field.Timestamp.UTC)
	})

	t.Run("stripped when target drops it", func(t *testing.T) {
		t.Parallel()
		ds := eventsNS(t)
		out, err := Normalize(ds, "ts_ns", TimestampType{Precision: Microsecond}, true)
		require.NoError(t, err)
		require.False(t, out.Column(1).Field.Timestamp.UTC)
	})

	t.Run("retag alone does not touch values", func(t *testing.T) {
		t.Parallel()
		ds, err := New(Column{
			Field: Field{ID: 1, Name: "ts", Kind: KindTimestamp, Timestamp: TimestampType{Precision: Nanosecond, UTC: true}},
			Times: []int64{123456789},
		})
		require.NoError(t, err)
		out, err := Normalize(ds, "ts", TimestampType{Precision: Nanosecond}, false)
		require.NoError(t, err)
		require.Equal(t, []int64{123456789}, out.Column(0).Times)
	})
}

func TestFloe_Dataset_Normalize_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing column", func(t *testing.T) {
		t.Parallel()
		ds := eventsNS(t)
		_, err := Normalize(ds, "nope", TimestampType{Precision: Microsecond}, true)
		require.ErrorIs(t, err, ErrColumnNotFound)
	})

	t.Run("non-timestamp column", func(t *testing.T) {
		t.Parallel()
		ds := eventsNS(t)
		_, err := Normalize(ds, "id", TimestampType{Precision: Microsecond}, true)
		require.ErrorIs(t, err, ErrSchemaCoercion)
	})
}

func TestFloe_Dataset_Normalize_EmptyDataset(t *testing.T) {
	t.Parallel()

	ds, err := New(Column{
		Field: Field{ID: 1, Name: "ts", Kind: KindTimestamp, Timestamp: TimestampType{Precision: Nanosecond, UTC: true}},
		Times: []int64{},
	})
	require.NoError(t, err)

	out, err := Normalize(ds, "ts", TimestampType{Precision: Microsecond, UTC: true}, false)
	require.NoError(t, err)
	require.Equal(t, 0, out.NumRows())
	require.Equal(t, Microsecond, out.Column(0).Field.Timestamp.Precision)
}
