package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	floetesting "github.com/floelabs/icefloe/utils/pkg/testing"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := Open(context.Background(), Config{
		Logger: floetesting.NewLogger(),
		DSN:    filepath.Join(t.TempDir(), "catalog.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	return cat
}

func TestFloe_Catalog_Open_ValidatesConfig(t *testing.T) {
	t.Parallel()

	t.Run("missing logger", func(t *testing.T) {
		t.Parallel()
		_, err := Open(context.Background(), Config{DSN: "x.db"})
		require.Error(t, err)
		require.Contains(t, err.Error(), "logger is required")
	})

	t.Run("missing dsn", func(t *testing.T) {
		t.Parallel()
		_, err := Open(context.Background(), Config{Logger: floetesting.NewLogger()})
		require.Error(t, err)
		require.Contains(t, err.Error(), "dsn is required")
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Parallel()
		_, err := Open(context.Background(), Config{Logger: floetesting.NewLogger(), DSN: "x.db", Driver: "oracle"})
		require.Error(t, err)
	})
}

func TestFloe_Catalog_TableLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := testCatalog(t)

	_, err := cat.GetTable(ctx, "db.events")
	require.ErrorIs(t, err, ErrTableNotFound)

	created := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cat.CreateTable(ctx, TableRecord{
		ID:            "db.events",
		Location:      "s3://iceberg/warehouse/db.events",
		FormatVersion: 2,
		SchemaJSON:    `[{"id":1,"name":"id","kind":"int","required":true}]`,
		CreatedAt:     created,
	}))

	rec, err := cat.GetTable(ctx, "db.events")
	require.NoError(t, err)
	require.Equal(t, "s3://iceberg/warehouse/db.events", rec.Location)
	require.Equal(t, 2, rec.FormatVersion)
	require.Zero(t, rec.CurrentSnapshotID)
	require.Equal(t, created, rec.CreatedAt)

	dropped, err := cat.DropTable(ctx, "db.events")
	require.NoError(t, err)
	require.True(t, dropped)

	dropped, err = cat.DropTable(ctx, "db.events")
	require.NoError(t, err)
	require.False(t, dropped)

	_, err = cat.GetTable(ctx, "db.events")
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestFloe_Catalog_CommitSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := testCatalog(t)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, cat.CreateTable(ctx, TableRecord{
		ID: "db.events", Location: "file:///tmp/wh/db.events", FormatVersion: 2,
		SchemaJSON: "[]", CreatedAt: at,
	}))

	require.NoError(t, cat.CommitSnapshot(ctx, "db.events",
		SnapshotRecord{SnapshotID: 101, Operation: "append", CommittedAt: at},
		[]DataFileRecord{{FileURI: "s3://iceberg/data/a.flc", SnapshotID: 101, RecordCount: 3, FileSizeBytes: 128, AddedAt: at}},
	))
	require.NoError(t, cat.CommitSnapshot(ctx, "db.events",
		SnapshotRecord{SnapshotID: 202, ParentSnapshotID: 101, Operation: "append", CommittedAt: at.Add(time.Minute)},
		[]DataFileRecord{{FileURI: "s3://iceberg/data/b.flc", SnapshotID: 202, RecordCount: 3, FileSizeBytes: 128, AddedAt: at.Add(time.Minute)}},
	))

	rec, err := cat.GetTable(ctx, "db.events")
	require.NoError(t, err)
	require.Equal(t, int64(202), rec.CurrentSnapshotID)

	// Sequence numbers are assigned in the commit transaction, in order.
	snaps, err := cat.ListSnapshots(ctx, "db.events")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, int64(101), snaps[0].SnapshotID)
	require.Equal(t, int64(1), snaps[0].SequenceNumber)
	require.Zero(t, snaps[0].ParentSnapshotID)
	require.Equal(t, int64(2), snaps[1].SequenceNumber)
	require.Equal(t, int64(101), snaps[1].ParentSnapshotID)

	files, err := cat.ListFiles(ctx, "db.events")
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "s3://iceberg/data/a.flc", files[0].FileURI)

	referenced, err := cat.FileReferenced(ctx, "db.events", "s3://iceberg/data/a.flc")
	require.NoError(t, err)
	require.True(t, referenced)

	referenced, err = cat.FileReferenced(ctx, "db.events", "s3://iceberg/data/zzz.flc")
	require.NoError(t, err)
	require.False(t, referenced)
}

func TestFloe_Catalog_DuplicateFileReference(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := testCatalog(t)
	at := time.Now().UTC()

	require.NoError(t, cat.CreateTable(ctx, TableRecord{
		ID: "db.events", Location: "file:///tmp/wh/db.events", FormatVersion: 2,
		SchemaJSON: "[]", CreatedAt: at,
	}))
	require.NoError(t, cat.CommitSnapshot(ctx, "db.events",
		SnapshotRecord{SnapshotID: 1, Operation: "append", CommittedAt: at},
		[]DataFileRecord{{FileURI: "s3://iceberg/data/a.flc", SnapshotID: 1, RecordCount: 3, FileSizeBytes: 64, AddedAt: at}},
	))

	err := cat.CommitSnapshot(ctx, "db.events",
		SnapshotRecord{SnapshotID: 2, ParentSnapshotID: 1, Operation: "append", CommittedAt: at},
		[]DataFileRecord{{FileURI: "s3://iceberg/data/a.flc", SnapshotID: 2, RecordCount: 3, FileSizeBytes: 64, AddedAt: at}},
	)
	require.ErrorIs(t, err, ErrFileAlreadyReferenced)

	// The failed commit left no snapshot behind.
	snaps, err := cat.ListSnapshots(ctx, "db.events")
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	rec, err := cat.GetTable(ctx, "db.events")
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.CurrentSnapshotID)
}
