// Package table implements the warehouse table store: snapshot-committed
// tables whose data lives in column files on object storage (or a local
// directory) and whose metadata lives in the SQL catalog.
//
// Two commit paths exist. Append writes rows through the store, which owns
// the bytes and may have coerced them beforehand. RegisterFile adopts an
// existing file in place and never rewrites it, so the file's embedded schema
// must already match the table exactly.
package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/floelabs/icefloe/pkg/catalog"
	"github.com/floelabs/icefloe/pkg/colfile"
	"github.com/floelabs/icefloe/pkg/dataset"
	"github.com/floelabs/icefloe/pkg/objectstore"
)

const formatVersion = 2

var (
	// ErrSchemaMismatch is returned by the registration path when a file's
	// embedded schema differs from the destination table's schema.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrCommit is returned when a snapshot fails to apply to the catalog,
	// e.g. when losing a commit race.
	ErrCommit = errors.New("commit failed")
)

type Config struct {
	Logger  *slog.Logger
	Catalog *catalog.Catalog
	Objects *objectstore.Client

	// Warehouse is the base location under which new tables are created,
	// e.g. s3://iceberg/warehouse or a local directory.
	Warehouse string

	Clock clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Catalog == nil {
		return errors.New("catalog is required")
	}
	if cfg.Objects == nil {
		return errors.New("object store client is required")
	}
	if cfg.Warehouse == "" {
		return errors.New("warehouse location is required")
	}
	return nil
}

type Store struct {
	log     *slog.Logger
	catalog *catalog.Catalog
	objects *objectstore.Client
	wh      string
	clock   clockwork.Clock
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Store{
		log:     cfg.Logger,
		catalog: cfg.Catalog,
		objects: cfg.Objects,
		wh:      strings.TrimRight(cfg.Warehouse, "/"),
		clock:   cfg.Clock,
	}, nil
}

// LoadOrCreate returns the table record, creating the table with the given
// schema when it does not exist yet. Reports whether a create happened.
func (s *Store) LoadOrCreate(ctx context.Context, id string, schema []dataset.Field) (*catalog.TableRecord, bool, error) {
	rec, err := s.catalog.GetTable(ctx, id)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, catalog.ErrTableNotFound) {
		return nil, false, err
	}

	schemaJSON, err := dataset.MarshalSchema(schema)
	if err != nil {
		return nil, false, err
	}
	rec = &catalog.TableRecord{
		ID:            id,
		Location:      s.wh + "/" + id,
		FormatVersion: formatVersion,
		SchemaJSON:    schemaJSON,
		CreatedAt:     s.clock.Now().UTC(),
	}
	if err := s.catalog.CreateTable(ctx, *rec); err != nil {
		return nil, false, err
	}
	s.log.Info("table: created", "table", id, "schema", dataset.SchemaString(schema))
	return rec, true, nil
}

// Schema returns the table's current schema.
func (s *Store) Schema(ctx context.Context, id string) ([]dataset.Field, error) {
	rec, err := s.catalog.GetTable(ctx, id)
	if err != nil {
		return nil, err
	}
	return dataset.UnmarshalSchema(rec.SchemaJSON)
}

// Append writes the dataset as a new column file under the table's data
// prefix and commits a snapshot referencing it. The dataset's schema must
// already equal the table schema; coercion is the caller's responsibility.
// An empty dataset still commits, producing a zero-row file.
func (s *Store) Append(ctx context.Context, id string, ds *dataset.Dataset) (int64, error) {
	rec, err := s.catalog.GetTable(ctx, id)
	if err != nil {
		return 0, err
	}
	schema, err := dataset.UnmarshalSchema(rec.SchemaJSON)
	if err != nil {
		return 0, err
	}
	if !dataset.SchemasEqual(ds.Schema(), schema) {
		return 0, fmt.Errorf("%w: dataset is [%s], table %s is [%s]",
			ErrSchemaMismatch, dataset.SchemaString(ds.Schema()), id, dataset.SchemaString(schema))
	}

	ds, err = withFieldIDs(ds, schema)
	if err != nil {
		return 0, err
	}
	data, err := colfile.Encode(ds)
	if err != nil {
		return 0, err
	}

	uri := rec.Location + "/data/" + uuid.NewString() + ".flc"
	if err := s.writeObject(ctx, uri, data); err != nil {
		return 0, err
	}

	snapshotID, err := s.commit(ctx, rec, "append", []catalog.DataFileRecord{{
		FileURI:       uri,
		RecordCount:   int64(ds.NumRows()),
		FileSizeBytes: int64(len(data)),
	}})
	if err != nil {
		return 0, err
	}
	s.log.Info("table: appended", "table", id, "rows", ds.NumRows(), "file", uri, "snapshot", snapshotID)
	return snapshotID, nil
}

// RegisterFile adopts an existing column file into the table without reading
// or rewriting its rows, beyond decoding the footer. The file's embedded
// schema must match the table schema exactly, or ErrSchemaMismatch is
// returned. Registering a file the table already references is a no-op that
// returns the current snapshot id.
func (s *Store) RegisterFile(ctx context.Context, id, uri string) (int64, bool, error) {
	rec, err := s.catalog.GetTable(ctx, id)
	if err != nil {
		return 0, false, err
	}

	referenced, err := s.catalog.FileReferenced(ctx, id, uri)
	if err != nil {
		return 0, false, err
	}
	if referenced {
		s.log.Info("table: file already referenced, skipping", "table", id, "file", uri)
		return rec.CurrentSnapshotID, false, nil
	}

	data, err := s.readObject(ctx, uri)
	if err != nil {
		return 0, false, err
	}
	footer, err := colfile.DecodeFooter(data)
	if err != nil {
		return 0, false, err
	}

	schema, err := dataset.UnmarshalSchema(rec.SchemaJSON)
	if err != nil {
		return 0, false, err
	}
	if !dataset.SchemasEqual(footer.Fields, schema) {
		return 0, false, fmt.Errorf("%w: file %s is [%s], table %s is [%s]",
			ErrSchemaMismatch, uri, dataset.SchemaString(footer.Fields), id, dataset.SchemaString(schema))
	}

	snapshotID, err := s.commit(ctx, rec, "append", []catalog.DataFileRecord{{
		FileURI:       uri,
		RecordCount:   int64(footer.Rows),
		FileSizeBytes: int64(len(data)),
	}})
	if errors.Is(err, catalog.ErrFileAlreadyReferenced) {
		// Lost a race with a concurrent registration of the same file.
		rec, err := s.catalog.GetTable(ctx, id)
		if err != nil {
			return 0, false, err
		}
		return rec.CurrentSnapshotID, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	s.log.Info("table: registered file", "table", id, "rows", footer.Rows, "file", uri, "snapshot", snapshotID)
	return snapshotID, true, nil
}

// CurrentSnapshot returns the table's current snapshot id, zero when the
// table has no snapshot yet.
func (s *Store) CurrentSnapshot(ctx context.Context, id string) (int64, error) {
	rec, err := s.catalog.GetTable(ctx, id)
	if err != nil {
		return 0, err
	}
	return rec.CurrentSnapshotID, nil
}

// Drop removes the table from the catalog. With purge set, the referenced
// data files are deleted from storage as well, best effort. Returns false
// when the table did not exist.
func (s *Store) Drop(ctx context.Context, id string, purge bool) (bool, error) {
	var files []catalog.DataFileRecord
	if purge {
		var err error
		files, err = s.catalog.ListFiles(ctx, id)
		if err != nil && !errors.Is(err, catalog.ErrTableNotFound) {
			return false, err
		}
	}

	dropped, err := s.catalog.DropTable(ctx, id)
	if err != nil || !dropped {
		return dropped, err
	}

	for _, f := range files {
		if err := s.deleteObject(ctx, f.FileURI); err != nil {
			s.log.Warn("table: failed to purge data file", "file", f.FileURI, "error", err)
		}
	}
	return true, nil
}

// Info is the inspect view of a table.
type Info struct {
	TableID           string          `json:"tableId"`
	Location          string          `json:"location"`
	FormatVersion     int             `json:"formatVersion"`
	Schema            []dataset.Field `json:"schema"`
	SchemaSummary     string          `json:"schemaSummary"`
	CurrentSnapshotID int64           `json:"currentSnapshotId"`
	Snapshots         []SnapshotInfo  `json:"snapshots"`
	Files             []DataFileInfo  `json:"files"`
	RowCount          int64           `json:"rowCount"`
}

type SnapshotInfo struct {
	SnapshotID       int64     `json:"snapshotId"`
	SequenceNumber   int64     `json:"sequenceNumber"`
	ParentSnapshotID int64     `json:"parentSnapshotId,omitempty"`
	Operation        string    `json:"operation"`
	CommittedAt      time.Time `json:"committedAt"`
}

type DataFileInfo struct {
	FileURI       string `json:"fileUri"`
	SnapshotID    int64  `json:"snapshotId"`
	RecordCount   int64  `json:"recordCount"`
	FileSizeBytes int64  `json:"fileSizeBytes"`
}

// Inspect returns the table's metadata, snapshot history and file list.
func (s *Store) Inspect(ctx context.Context, id string) (*Info, error) {
	rec, err := s.catalog.GetTable(ctx, id)
	if err != nil {
		return nil, err
	}
	schema, err := dataset.UnmarshalSchema(rec.SchemaJSON)
	if err != nil {
		return nil, err
	}
	snaps, err := s.catalog.ListSnapshots(ctx, id)
	if err != nil {
		return nil, err
	}
	files, err := s.catalog.ListFiles(ctx, id)
	if err != nil {
		return nil, err
	}

	info := &Info{
		TableID:           rec.ID,
		Location:          rec.Location,
		FormatVersion:     rec.FormatVersion,
		Schema:            schema,
		SchemaSummary:     dataset.SchemaString(schema),
		CurrentSnapshotID: rec.CurrentSnapshotID,
	}
	for _, sn := range snaps {
		info.Snapshots = append(info.Snapshots, SnapshotInfo{
			SnapshotID:       sn.SnapshotID,
			SequenceNumber:   sn.SequenceNumber,
			ParentSnapshotID: sn.ParentSnapshotID,
			Operation:        sn.Operation,
			CommittedAt:      sn.CommittedAt,
		})
	}
	for _, f := range files {
		info.Files = append(info.Files, DataFileInfo{
			FileURI:       f.FileURI,
			SnapshotID:    f.SnapshotID,
			RecordCount:   f.RecordCount,
			FileSizeBytes: f.FileSizeBytes,
		})
		info.RowCount += f.RecordCount
	}
	return info, nil
}

// Preview materializes up to limit rows across the table's data files, in
// file order. A negative limit returns every row.
func (s *Store) Preview(ctx context.Context, id string, limit int) ([]map[string]any, error) {
	files, err := s.catalog.ListFiles(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.catalog.GetTable(ctx, id); err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for _, f := range files {
		if limit >= 0 && len(out) >= limit {
			break
		}
		data, err := s.readObject(ctx, f.FileURI)
		if err != nil {
			return nil, err
		}
		ds, err := colfile.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", f.FileURI, err)
		}
		remaining := -1
		if limit >= 0 {
			remaining = limit - len(out)
		}
		out = append(out, ds.Rows(remaining)...)
	}
	return out, nil
}

// WriteRows replaces the table with one inferred from the given row maps:
// the existing table is dropped, recreated with the inferred schema, and the
// rows appended as its first snapshot.
func (s *Store) WriteRows(ctx context.Context, id string, rows []map[string]any) (int64, error) {
	ds, err := dataset.FromRows(rows)
	if err != nil {
		return 0, err
	}

	if _, err := s.Drop(ctx, id, false); err != nil {
		return 0, err
	}
	if _, _, err := s.LoadOrCreate(ctx, id, ds.Schema()); err != nil {
		return 0, err
	}
	return s.Append(ctx, id, ds)
}

// ReadDataset loads and decodes a column file from object storage or the
// local filesystem.
func (s *Store) ReadDataset(ctx context.Context, uri string) (*dataset.Dataset, error) {
	data, err := s.readObject(ctx, uri)
	if err != nil {
		return nil, err
	}
	ds, err := colfile.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", uri, err)
	}
	return ds, nil
}

func (s *Store) commit(ctx context.Context, rec *catalog.TableRecord, operation string, files []catalog.DataFileRecord) (int64, error) {
	now := s.clock.Now().UTC()
	// The catalog assigns the sequence number inside the commit transaction.
	snap := catalog.SnapshotRecord{
		SnapshotID:       newSnapshotID(),
		ParentSnapshotID: rec.CurrentSnapshotID,
		Operation:        operation,
		CommittedAt:      now,
	}
	for i := range files {
		files[i].SnapshotID = snap.SnapshotID
		files[i].AddedAt = now
	}
	if err := s.catalog.CommitSnapshot(ctx, rec.ID, snap, files); err != nil {
		if errors.Is(err, catalog.ErrFileAlreadyReferenced) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", ErrCommit, err)
	}
	return snap.SnapshotID, nil
}

// newSnapshotID returns a random positive snapshot id. Zero is reserved to
// mean "no snapshot".
func newSnapshotID() int64 {
	for {
		if id := rand.Int64(); id != 0 {
			return id
		}
	}
}

// writeObject stores bytes at an s3:// URI or a local path. Local paths may
// carry a file:// prefix.
func (s *Store) writeObject(ctx context.Context, uri string, data []byte) error {
	if objectstore.IsObjectURI(uri) {
		return s.objects.PutBytes(ctx, data, uri)
	}
	path := localPath(uri)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *Store) readObject(ctx context.Context, uri string) ([]byte, error) {
	if objectstore.IsObjectURI(uri) {
		return s.objects.Get(ctx, uri)
	}
	data, err := os.ReadFile(localPath(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return data, nil
}

func (s *Store) deleteObject(ctx context.Context, uri string) error {
	if objectstore.IsObjectURI(uri) {
		_, err := s.objects.Delete(ctx, uri)
		return err
	}
	if err := os.Remove(localPath(uri)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func localPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// withFieldIDs retags the dataset's columns with the destination table's
// field ids so the encoded footer carries the table's ids, not the writer's.
func withFieldIDs(ds *dataset.Dataset, schema []dataset.Field) (*dataset.Dataset, error) {
	out := ds
	for i := 0; i < ds.NumCols(); i++ {
		col := out.Column(i)
		if col.Field.ID == schema[i].ID {
			continue
		}
		col.Field.ID = schema[i].ID
		next, err := out.SetColumn(i, col)
		if err != nil {
			return nil, err
		}
		out = next
	}
	return out, nil
}
