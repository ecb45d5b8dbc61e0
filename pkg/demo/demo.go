// Package demo holds the precision-divergence walkthrough fixtures: a
// nanosecond event file generator, rewrite helpers for the registration
// path, and state reset glue used by the CLI and the HTTP API.
package demo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/floelabs/icefloe/pkg/colfile"
	"github.com/floelabs/icefloe/pkg/commit"
	"github.com/floelabs/icefloe/pkg/dataset"
	"github.com/floelabs/icefloe/pkg/metrics"
	"github.com/floelabs/icefloe/pkg/objectstore"
	"github.com/floelabs/icefloe/pkg/table"
)

// TimestampColumn is the nanosecond column name the fixtures use. The append
// path renames it positionally to the table's "ts" field.
const TimestampColumn = "ts_ns"

var fixtureBase = time.Date(2024, 1, 1, 12, 34, 56, 123456789, time.UTC)

// GenerateEvents writes the canonical three-row nanosecond fixture: ids 1..3
// and timestamps 2024-01-01T12:34:56.123456789Z, ...790Z, ...791Z. The
// sub-microsecond tails are what the walkthrough is about.
func GenerateEvents(path string) error {
	ds, err := eventsDataset([]int64{1, 2, 3}, []int64{
		fixtureBase.UnixNano(),
		fixtureBase.UnixNano() + 1,
		fixtureBase.UnixNano() + 2,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create fixture directory: %w", err)
	}
	return colfile.WriteFile(path, ds)
}

// RewriteNsToUs reads a nanosecond fixture and writes a copy with the
// timestamp column truncated to microseconds, keeping the UTC tag and the
// column name. The result demonstrates the cast but does not yet match the
// events table schema; see RewriteForRegistration.
func RewriteNsToUs(src, dst string) error {
	ds, err := colfile.ReadFile(src)
	if err != nil {
		return err
	}
	out, err := dataset.Normalize(ds, TimestampColumn,
		dataset.TimestampType{Precision: dataset.Microsecond, UTC: true}, true)
	if err != nil {
		metrics.NormalizeTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.NormalizeTotal.WithLabelValues("success").Inc()
	return colfile.WriteFile(dst, out)
}

// RewriteForRegistration rewrites a fixture into the exact events table
// schema (required int32 id, naive microsecond ts) so the registration path
// accepts it without rewriting.
func RewriteForRegistration(src, dst string) error {
	ds, err := colfile.ReadFile(src)
	if err != nil {
		return err
	}
	out, err := ds.CoerceToSchema(commit.EventsSchema(), true)
	if err != nil {
		return err
	}
	return colfile.WriteFile(dst, out)
}

// AppendRows extends a local nanosecond fixture with n more rows, continuing
// the id sequence and stepping the timestamp by one nanosecond per row. A
// missing fixture is generated first.
func AppendRows(path string, n int) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := GenerateEvents(path); err != nil {
			return err
		}
	}
	ds, err := colfile.ReadFile(path)
	if err != nil {
		return err
	}

	ids, err := ds.ColumnByName("id")
	if err != nil {
		return err
	}
	ts, err := ds.ColumnByName(TimestampColumn)
	if err != nil {
		return err
	}

	var lastID, lastTS int64
	for _, v := range ids.Int64s {
		if v > lastID {
			lastID = v
		}
	}
	for _, v := range ts.Times {
		if v > lastTS {
			lastTS = v
		}
	}
	if ds.NumRows() == 0 {
		lastTS = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano()
	}

	newIDs := append([]int64(nil), ids.Int64s...)
	newTS := append([]int64(nil), ts.Times...)
	for i := 1; i <= n; i++ {
		newIDs = append(newIDs, lastID+int64(i))
		newTS = append(newTS, lastTS+int64(i))
	}

	out, err := eventsDataset(newIDs, newTS)
	if err != nil {
		return err
	}
	return colfile.WriteFile(path, out)
}

// ResetSummary reports what a state reset removed.
type ResetSummary struct {
	DroppedTable bool     `json:"droppedTable"`
	DeletedLocal []string `json:"deletedLocal"`
	DeletedS3    []string `json:"deletedS3"`
}

// ResetState drops the events table and deletes the local and remote fixture
// files. Missing files are skipped; the summary lists what was actually
// removed.
func ResetState(ctx context.Context, store *table.Store, objects *objectstore.Client, tableID string, localPaths, s3URIs []string) (*ResetSummary, error) {
	summary := &ResetSummary{DeletedLocal: []string{}, DeletedS3: []string{}}

	// A fixture the table had registered in place is purged by the drop
	// below, so record which paths exist going in.
	existed := make(map[string]bool, len(localPaths))
	for _, p := range localPaths {
		if _, err := os.Stat(p); err == nil {
			existed[p] = true
		}
	}

	dropped, err := store.Drop(ctx, tableID, true)
	if err != nil {
		return nil, err
	}
	summary.DroppedTable = dropped

	for _, p := range localPaths {
		err := os.Remove(p)
		if err == nil || (existed[p] && os.IsNotExist(err)) {
			summary.DeletedLocal = append(summary.DeletedLocal, p)
		}
	}
	for _, uri := range s3URIs {
		exists, err := objects.Exists(ctx, uri)
		if err != nil || !exists {
			continue
		}
		if deleted, err := objects.Delete(ctx, uri); err == nil && deleted {
			summary.DeletedS3 = append(summary.DeletedS3, uri)
		}
	}
	return summary, nil
}

func eventsDataset(ids, ts []int64) (*dataset.Dataset, error) {
	return dataset.New(
		dataset.Column{
			Field:  dataset.Field{ID: 1, Name: "id", Kind: dataset.KindInt64, Required: true},
			Int64s: ids,
		},
		dataset.Column{
			Field: dataset.Field{ID: 2, Name: TimestampColumn, Kind: dataset.KindTimestamp,
				Timestamp: dataset.TimestampType{Precision: dataset.Nanosecond, UTC: true}},
			Times: ts,
		},
	)
}
