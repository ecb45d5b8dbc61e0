// Package catalog is the SQL-backed table catalog: table identity, current
// schema and the ordered snapshot history, with each snapshot referencing
// physical data files by URI without rewriting them.
//
// The default backend is an embedded SQLite database; a shared Postgres
// catalog is supported through the same database/sql surface.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrTableNotFound is returned when the catalog has no such table.
	ErrTableNotFound = errors.New("table not found")

	// ErrFileAlreadyReferenced is returned when a data file URI is already
	// referenced by an earlier snapshot of the table.
	ErrFileAlreadyReferenced = errors.New("data file already referenced")
)

type Config struct {
	Logger *slog.Logger
	Driver string // DriverSQLite (default) or DriverPostgres
	DSN    string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DSN == "" {
		return errors.New("dsn is required")
	}
	switch cfg.Driver {
	case "", DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	return nil
}

// TableRecord is a catalog row describing one table.
type TableRecord struct {
	ID                string
	Location          string
	FormatVersion     int
	SchemaJSON        string
	CurrentSnapshotID int64 // zero when the table has no snapshot yet
	CreatedAt         time.Time
}

// SnapshotRecord is one entry in a table's commit history.
type SnapshotRecord struct {
	SnapshotID       int64
	SequenceNumber   int64
	ParentSnapshotID int64
	Operation        string
	CommittedAt      time.Time
}

// DataFileRecord references one physical data file.
type DataFileRecord struct {
	FileURI       string
	SnapshotID    int64
	RecordCount   int64
	FileSizeBytes int64
	AddedAt       time.Time
}

type Catalog struct {
	log *slog.Logger
	db  *sql.DB
	cfg Config
}

// Open connects to the catalog database and runs pending migrations.
func Open(ctx context.Context, cfg Config) (*Catalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}

	driverName := cfg.Driver
	if cfg.Driver == DriverPostgres {
		driverName = "pgx"
	}
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		// The embedded catalog is single-writer; one connection avoids
		// SQLITE_BUSY under concurrent handler calls.
		db.SetMaxOpenConns(1)
	}

	c := &Catalog{log: cfg.Logger, db: db, cfg: cfg}
	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// rebind rewrites ? placeholders to $n for the Postgres backend. Queries in
// this package are written with ?, which SQLite takes as-is.
func (c *Catalog) rebind(query string) string {
	if c.cfg.Driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// slogGooseLogger adapts slog.Logger to the goose.Logger interface.
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (c *Catalog) migrate(ctx context.Context) error {
	dialect := goose.DialectSQLite3
	if c.cfg.Driver == DriverPostgres {
		dialect = goose.DialectPostgres
	}

	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	provider, err := goose.NewProvider(dialect, c.db, fsys,
		goose.WithLogger(&slogGooseLogger{log: c.log}))
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to run catalog migrations: %w", err)
	}
	return nil
}

// CreateTable inserts a new table row.
func (c *Catalog) CreateTable(ctx context.Context, rec TableRecord) error {
	_, err := c.db.ExecContext(ctx,
		c.rebind(`INSERT INTO tables (id, location, format_version, schema_json, current_snapshot_id, created_at_us)
		 VALUES (?, ?, ?, ?, NULL, ?)`),
		rec.ID, rec.Location, rec.FormatVersion, rec.SchemaJSON, rec.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", rec.ID, err)
	}
	c.log.Info("catalog: created table", "table", rec.ID, "location", rec.Location)
	return nil
}

// GetTable loads one table row, or ErrTableNotFound.
func (c *Catalog) GetTable(ctx context.Context, id string) (*TableRecord, error) {
	row := c.db.QueryRowContext(ctx,
		c.rebind(`SELECT id, location, format_version, schema_json, current_snapshot_id, created_at_us
		 FROM tables WHERE id = ?`), id)

	var rec TableRecord
	var current sql.NullInt64
	var createdUS int64
	err := row.Scan(&rec.ID, &rec.Location, &rec.FormatVersion, &rec.SchemaJSON, &current, &createdUS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load table %s: %w", id, err)
	}
	rec.CurrentSnapshotID = current.Int64
	rec.CreatedAt = time.UnixMicro(createdUS).UTC()
	return &rec, nil
}

// DropTable removes a table and its snapshot history. Returns false when the
// table did not exist. Destructive: the history is gone afterwards.
func (c *Catalog) DropTable(ctx context.Context, id string) (bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin drop transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, c.rebind(`DELETE FROM tables WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("failed to drop table %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to drop table %s: %w", id, err)
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, c.rebind(`DELETE FROM snapshots WHERE table_id = ?`), id); err != nil {
		return false, fmt.Errorf("failed to drop snapshots of %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, c.rebind(`DELETE FROM data_files WHERE table_id = ?`), id); err != nil {
		return false, fmt.Errorf("failed to drop data files of %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit drop of %s: %w", id, err)
	}
	c.log.Info("catalog: dropped table", "table", id)
	return true, nil
}

// FileReferenced reports whether the exact file URI is already referenced by
// any snapshot of the table. Backs the registration idempotence rule.
func (c *Catalog) FileReferenced(ctx context.Context, tableID, fileURI string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		c.rebind(`SELECT COUNT(*) FROM data_files WHERE table_id = ? AND file_uri = ?`),
		tableID, fileURI).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check file reference: %w", err)
	}
	return n > 0, nil
}

// CommitSnapshot atomically records a new snapshot, its data files, and the
// table's new current snapshot pointer. The sequence number is assigned here,
// inside the transaction, so it cannot be duplicated by a concurrent commit;
// any SequenceNumber on snap is ignored. The (table_id, file_uri) primary key
// turns a duplicate registration race into ErrFileAlreadyReferenced.
func (c *Catalog) CommitSnapshot(ctx context.Context, tableID string, snap SnapshotRecord, files []DataFileRecord) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		c.rebind(`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM snapshots WHERE table_id = ?`),
		tableID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to assign sequence number: %w", err)
	}

	var parent any
	if snap.ParentSnapshotID != 0 {
		parent = snap.ParentSnapshotID
	}
	_, err = tx.ExecContext(ctx,
		c.rebind(`INSERT INTO snapshots (table_id, snapshot_id, sequence_number, parent_snapshot_id, operation, committed_at_us)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		tableID, snap.SnapshotID, seq, parent, snap.Operation, snap.CommittedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	for _, f := range files {
		_, err = tx.ExecContext(ctx,
			c.rebind(`INSERT INTO data_files (table_id, file_uri, snapshot_id, record_count, file_size_bytes, added_at_us)
			 VALUES (?, ?, ?, ?, ?, ?)`),
			tableID, f.FileURI, snap.SnapshotID, f.RecordCount, f.FileSizeBytes, f.AddedAt.UnixMicro())
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrFileAlreadyReferenced, f.FileURI)
			}
			return fmt.Errorf("failed to insert data file %s: %w", f.FileURI, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		c.rebind(`UPDATE tables SET current_snapshot_id = ? WHERE id = ?`),
		snap.SnapshotID, tableID)
	if err != nil {
		return fmt.Errorf("failed to update current snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns a table's snapshots in commit order.
func (c *Catalog) ListSnapshots(ctx context.Context, tableID string) ([]SnapshotRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		c.rebind(`SELECT snapshot_id, sequence_number, parent_snapshot_id, operation, committed_at_us
		 FROM snapshots WHERE table_id = ? ORDER BY sequence_number`), tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		var parent sql.NullInt64
		var committedUS int64
		if err := rows.Scan(&rec.SnapshotID, &rec.SequenceNumber, &parent, &rec.Operation, &committedUS); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		rec.ParentSnapshotID = parent.Int64
		rec.CommittedAt = time.UnixMicro(committedUS).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListFiles returns every data file referenced by the table, in the order
// they were added. Snapshots are append-only, so this is the table's current
// contents.
func (c *Catalog) ListFiles(ctx context.Context, tableID string) ([]DataFileRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		c.rebind(`SELECT file_uri, snapshot_id, record_count, file_size_bytes, added_at_us
		 FROM data_files WHERE table_id = ? ORDER BY added_at_us, file_uri`), tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list data files: %w", err)
	}
	defer rows.Close()

	var out []DataFileRecord
	for rows.Next() {
		var rec DataFileRecord
		var addedUS int64
		if err := rows.Scan(&rec.FileURI, &rec.SnapshotID, &rec.RecordCount, &rec.FileSizeBytes, &addedUS); err != nil {
			return nil, fmt.Errorf("failed to scan data file: %w", err)
		}
		rec.AddedAt = time.UnixMicro(addedUS).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// isUniqueViolation matches the primary-key violation messages of both
// supported backends (SQLite and Postgres).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
