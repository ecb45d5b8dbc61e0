// Package commit routes data files into the events table along one of two
// contracts.
//
// The append path owns the bytes: whatever the source file looks like, its
// columns are renamed positionally and coerced to the table schema, with
// nanosecond timestamps truncated down to microseconds. The registration
// path owns nothing: the file is adopted in place, must already match the
// table schema exactly, and registering the same file twice is a no-op.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/floelabs/icefloe/pkg/dataset"
	"github.com/floelabs/icefloe/pkg/metrics"
	"github.com/floelabs/icefloe/pkg/table"
)

// EventsSchema is the destination schema both commit paths target:
// a required 32-bit id and an optional microsecond timestamp.
func EventsSchema() []dataset.Field {
	return []dataset.Field{
		{ID: 1, Name: "id", Kind: dataset.KindInt32, Required: true},
		{ID: 2, Name: "ts", Kind: dataset.KindTimestamp,
			Timestamp: dataset.TimestampType{Precision: dataset.Microsecond}},
	}
}

type Config struct {
	Logger *slog.Logger
	Store  *table.Store

	// TableID is the destination table, created on first commit.
	TableID string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("table store is required")
	}
	if cfg.TableID == "" {
		return errors.New("table id is required")
	}
	return nil
}

// Router commits source files to the events table.
type Router struct {
	log     *slog.Logger
	store   *table.Store
	tableID string
}

func NewRouter(cfg Config) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Router{log: cfg.Logger, store: cfg.Store, tableID: cfg.TableID}, nil
}

// Result describes the outcome of a commit.
type Result struct {
	TableID    string `json:"tableId"`
	SnapshotID int64  `json:"snapshotId"`
	Rows       int64  `json:"rows"`
	// Committed is false when a registration was an idempotent no-op.
	Committed bool `json:"committed"`
}

// CommitByAppend reads the source column file and appends its rows to the
// events table, rewriting them to the table schema on the way: columns map
// to the destination fields by position, a long id narrows to int, and a
// nanosecond timestamp is truncated to microseconds. Truncation is always
// permitted on this path; the rows are copied, so the source file is never
// part of the table.
func (r *Router) CommitByAppend(ctx context.Context, sourceURI string) (*Result, error) {
	start := time.Now()
	ds, err := r.store.ReadDataset(ctx, sourceURI)
	if err != nil {
		metrics.RecordCommit("append", 0, time.Since(start), false, err)
		return nil, err
	}
	res, err := r.CommitDataset(ctx, ds)
	metrics.RecordCommit("append", int64(ds.NumRows()), time.Since(start), err == nil, err)
	if err != nil {
		return nil, fmt.Errorf("failed to append %s: %w", sourceURI, err)
	}
	r.log.Info("commit: appended source file", "source", sourceURI, "table", r.tableID,
		"rows", res.Rows, "snapshot", res.SnapshotID)
	return res, nil
}

// CommitDataset coerces an in-memory dataset to the events schema and
// appends it.
func (r *Router) CommitDataset(ctx context.Context, ds *dataset.Dataset) (*Result, error) {
	if _, _, err := r.store.LoadOrCreate(ctx, r.tableID, EventsSchema()); err != nil {
		return nil, err
	}
	schema, err := r.store.Schema(ctx, r.tableID)
	if err != nil {
		return nil, err
	}

	coerced, err := ds.CoerceToSchema(schema, true)
	if err != nil {
		return nil, err
	}

	snapshotID, err := r.store.Append(ctx, r.tableID, coerced)
	if err != nil {
		return nil, err
	}
	return &Result{
		TableID:    r.tableID,
		SnapshotID: snapshotID,
		Rows:       int64(coerced.NumRows()),
		Committed:  true,
	}, nil
}

// CommitByFileRegistration adds the source file to the events table by
// reference. The file's bytes are left untouched, so its embedded schema
// must already equal the table schema; a nanosecond file is rejected with
// table.ErrSchemaMismatch rather than converted. A file the table already
// references commits nothing and returns the current snapshot.
func (r *Router) CommitByFileRegistration(ctx context.Context, sourceURI string) (*Result, error) {
	start := time.Now()
	res, err := r.registerFile(ctx, sourceURI)
	if err != nil {
		metrics.RecordCommit("register", 0, time.Since(start), false, err)
		return nil, err
	}
	metrics.RecordCommit("register", res.Rows, time.Since(start), res.Committed, nil)
	return res, nil
}

func (r *Router) registerFile(ctx context.Context, sourceURI string) (*Result, error) {
	if _, _, err := r.store.LoadOrCreate(ctx, r.tableID, EventsSchema()); err != nil {
		return nil, err
	}

	snapshotID, registered, err := r.store.RegisterFile(ctx, r.tableID, sourceURI)
	if err != nil {
		return nil, err
	}
	if !registered {
		return &Result{TableID: r.tableID, SnapshotID: snapshotID}, nil
	}

	info, err := r.store.Inspect(ctx, r.tableID)
	if err != nil {
		return nil, err
	}
	var rows int64
	for _, f := range info.Files {
		if f.FileURI == sourceURI {
			rows = f.RecordCount
		}
	}
	r.log.Info("commit: registered source file", "source", sourceURI, "table", r.tableID,
		"rows", rows, "snapshot", snapshotID)
	return &Result{TableID: r.tableID, SnapshotID: snapshotID, Rows: rows, Committed: true}, nil
}
