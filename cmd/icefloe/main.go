package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/floelabs/icefloe/pkg/catalog"
	"github.com/floelabs/icefloe/pkg/commit"
	"github.com/floelabs/icefloe/pkg/demo"
	"github.com/floelabs/icefloe/pkg/metrics"
	"github.com/floelabs/icefloe/pkg/objectstore"
	"github.com/floelabs/icefloe/pkg/server"
	"github.com/floelabs/icefloe/pkg/table"
	"github.com/floelabs/icefloe/utils/pkg/logger"
)

// Build-time variables set via ldflags.
var (
	version = "dev"
	gitSHA  = "unknown"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// Catalog configuration
	catalogDriverFlag := flag.String("catalog-driver", catalog.DriverSQLite, "catalog driver: sqlite or postgres (or set CATALOG_DRIVER env var)")
	catalogDSNFlag := flag.String("catalog-dsn", "catalog.db", "catalog DSN: sqlite path or postgres URL (or set CATALOG_DSN env var)")

	// Warehouse and object store configuration
	warehouseFlag := flag.String("warehouse", "s3://iceberg/warehouse", "warehouse base location, s3:// or a local directory (or set WAREHOUSE_URI env var)")
	tableFlag := flag.String("table", "demo.events", "events table identifier (or set TABLE_ID env var)")
	dataDirFlag := flag.String("data-dir", "data", "local directory for fixture files")
	regionFlag := flag.String("s3-region", "us-east-1", "S3 region (or set AWS_REGION env var)")
	endpointFlag := flag.String("s3-endpoint", "", "S3 endpoint override for MinIO (or set AWS_ENDPOINT_URL env var)")
	accessKeyFlag := flag.String("s3-access-key", "", "S3 access key id (or set AWS_ACCESS_KEY_ID env var)")
	secretKeyFlag := flag.String("s3-secret-key", "", "S3 secret access key (or set AWS_SECRET_ACCESS_KEY env var)")
	pathStyleFlag := flag.Bool("s3-path-style", true, "use path-style S3 addressing (MinIO)")

	// Commands
	generateFlag := flag.Bool("generate", false, "write the nanosecond events fixture to <data-dir>/events_ns.flc")
	rewriteFlag := flag.Bool("rewrite", false, "rewrite the nanosecond fixture to microseconds")
	forRegistrationFlag := flag.Bool("for-registration", false, "with --rewrite: produce the exact table schema so the file can be registered")
	appendRowsFlag := flag.Int("append-rows", 0, "extend the local fixture by N rows")
	uploadFlag := flag.Bool("upload", false, "upload a local file to --uri")
	appendFlag := flag.Bool("append", false, "commit --source to the table via the append path")
	registerFlag := flag.Bool("register", false, "commit --source to the table via the registration path")
	inspectFlag := flag.Bool("inspect", false, "print table metadata, snapshots and files")
	previewFlag := flag.Bool("preview", false, "print a row preview of the table")
	resetFlag := flag.Bool("reset", false, "drop the table and delete the demo fixtures")
	ensureBucketFlag := flag.Bool("ensure-bucket", false, "create --bucket if it does not exist")
	serveFlag := flag.Bool("serve", false, "run the HTTP API server")

	// Command options
	sourceFlag := flag.String("source", "", "source file path or s3:// URI for --append / --register / --upload")
	uriFlag := flag.String("uri", "", "destination s3:// URI for --upload")
	bucketFlag := flag.String("bucket", "iceberg", "bucket name for --ensure-bucket")
	limitFlag := flag.Int("limit", 20, "row limit for --preview")
	bindFlag := flag.String("bind", "0.0.0.0", "bind address for --serve")
	portFlag := flag.Int("port", 8080, "listen port for --serve")
	rateLimitFlag := flag.Float64("rate-limit", 10, "per-IP requests per second on mutating API endpoints, 0 disables")
	rateBurstFlag := flag.Int("rate-burst", 20, "per-IP request burst on mutating API endpoints")

	flag.Parse()

	log := logger.New(*verboseFlag)

	// Override flags with environment variables if set
	if v := os.Getenv("CATALOG_DRIVER"); v != "" {
		*catalogDriverFlag = v
	}
	if v := os.Getenv("CATALOG_DSN"); v != "" {
		*catalogDSNFlag = v
	}
	if v := os.Getenv("WAREHOUSE_URI"); v != "" {
		*warehouseFlag = v
	}
	if v := os.Getenv("TABLE_ID"); v != "" {
		*tableFlag = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		*regionFlag = v
	}
	if v := os.Getenv("AWS_ENDPOINT_URL"); v != "" {
		*endpointFlag = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		*accessKeyFlag = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		*secretKeyFlag = v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nsPath := filepath.Join(*dataDirFlag, "events_ns.flc")
	usPath := filepath.Join(*dataDirFlag, "events_us.flc")

	// Local-only commands need no catalog or object store.
	if *generateFlag {
		if err := demo.GenerateEvents(nsPath); err != nil {
			return err
		}
		return printJSON(map[string]string{"path": nsPath})
	}
	if *rewriteFlag {
		rewrite := demo.RewriteNsToUs
		if *forRegistrationFlag {
			rewrite = demo.RewriteForRegistration
		}
		if err := rewrite(nsPath, usPath); err != nil {
			return err
		}
		return printJSON(map[string]string{"src": nsPath, "dst": usPath})
	}
	if *appendRowsFlag > 0 {
		if err := demo.AppendRows(nsPath, *appendRowsFlag); err != nil {
			return err
		}
		return printJSON(map[string]any{"path": nsPath, "added": *appendRowsFlag})
	}

	objects, err := objectstore.New(ctx, objectstore.Config{
		Logger:          log,
		Region:          *regionFlag,
		Endpoint:        *endpointFlag,
		AccessKeyID:     *accessKeyFlag,
		SecretAccessKey: *secretKeyFlag,
		UsePathStyle:    *pathStyleFlag,
	})
	if err != nil {
		return err
	}

	if *ensureBucketFlag {
		if err := objects.EnsureBucket(ctx, *bucketFlag); err != nil {
			return err
		}
		return printJSON(map[string]string{"bucket": *bucketFlag})
	}
	if *uploadFlag {
		if *sourceFlag == "" || *uriFlag == "" {
			return fmt.Errorf("--source and --uri are required for --upload")
		}
		if err := objects.Put(ctx, *sourceFlag, *uriFlag); err != nil {
			return err
		}
		return printJSON(map[string]string{"uri": *uriFlag})
	}

	cat, err := catalog.Open(ctx, catalog.Config{
		Logger: log,
		Driver: *catalogDriverFlag,
		DSN:    *catalogDSNFlag,
	})
	if err != nil {
		return err
	}
	defer cat.Close()

	store, err := table.New(table.Config{
		Logger:    log,
		Catalog:   cat,
		Objects:   objects,
		Warehouse: *warehouseFlag,
	})
	if err != nil {
		return err
	}
	router, err := commit.NewRouter(commit.Config{Logger: log, Store: store, TableID: *tableFlag})
	if err != nil {
		return err
	}

	switch {
	case *appendFlag:
		if *sourceFlag == "" {
			return fmt.Errorf("--source is required for --append")
		}
		res, err := router.CommitByAppend(ctx, *sourceFlag)
		if err != nil {
			return err
		}
		return printJSON(res)

	case *registerFlag:
		if *sourceFlag == "" {
			return fmt.Errorf("--source is required for --register")
		}
		res, err := router.CommitByFileRegistration(ctx, *sourceFlag)
		if err != nil {
			return err
		}
		return printJSON(res)

	case *inspectFlag:
		info, err := store.Inspect(ctx, *tableFlag)
		if err != nil {
			return err
		}
		return printJSON(info)

	case *previewFlag:
		rows, err := store.Preview(ctx, *tableFlag, *limitFlag)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"rows": rows, "count": len(rows)})

	case *resetFlag:
		summary, err := demo.ResetState(ctx, store, objects, *tableFlag, []string{nsPath, usPath}, nil)
		if err != nil {
			return err
		}
		return printJSON(summary)

	case *serveFlag:
		metrics.BuildInfo.WithLabelValues(version, gitSHA, date).Set(1)
		srv, err := server.New(server.Config{
			Logger:    log,
			Bind:      *bindFlag,
			Port:      *portFlag,
			Store:     store,
			Router:    router,
			Objects:   objects,
			TableID:   *tableFlag,
			DataDir:   *dataDirFlag,
			RateLimit: *rateLimitFlag,
			RateBurst: *rateBurstFlag,
			Version:   version,
		})
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			if err := srv.Shutdown(context.Background()); err != nil {
				log.Error("failed to shut down HTTP server", "error", err)
			}
		}()
		return srv.Start()
	}

	flag.Usage()
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
