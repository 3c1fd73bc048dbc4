package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-pricing/internal/catalogfile"
	"github.com/xenking/oolio-kart-pricing/internal/repository"
)

func main() {
	var (
		dataDir      string
		databaseURL  string
		workers      int
		expectedSKUs int
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.ndjson.gz catalog files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", runtime.GOMAXPROCS(0), "concurrent database writers")
	flag.IntVar(&expectedSKUs, "expected-skus", 1_000_000, "expected distinct SKUs, sizes the duplicate filter")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, lg, dataDir, databaseURL, workers, expectedSKUs); err != nil {
		lg.Fatal("Catalog import failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, dataDir, databaseURL string, workers, expectedSKUs int) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.ndjson.gz"))
	if err != nil {
		return errors.Wrap(err, "list catalog files")
	}
	if len(files) == 0 {
		lg.Info("No catalog files found", zap.String("dir", dataDir))
		return nil
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	lg.Info("Importing catalog", zap.Int("files", len(files)), zap.Int("workers", workers))
	importer := catalogfile.NewImporter(repository.NewProductRepository(pool), workers, expectedSKUs)
	stats, err := importer.Import(ctx, files)
	if err != nil {
		return err
	}
	lg.Info("Catalog import completed",
		zap.Int("read", stats.Read),
		zap.Int("written", stats.Written),
		zap.Int("duplicates", stats.Duplicates),
	)
	return nil
}
