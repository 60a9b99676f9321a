// Command coupon-ingest bulk-imports universal coupon codes from gzip dumps.
// A code is imported when it appears in at least two of the dumps.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/app"
)

type options struct {
	dataDir    string
	pattern    string
	validFor   time.Duration
	usageLimit int
	workers    int
	dryRun     bool
}

func main() {
	var (
		opts options
		cfg  app.Config
	)

	flag.StringVar(&opts.dataDir, "data-dir", "data", "directory containing the coupon dumps")
	flag.StringVar(&opts.pattern, "pattern", "couponbase*.gz", "glob of dump files inside data-dir")
	flag.DurationVar(&opts.validFor, "valid-for", 365*24*time.Hour, "validity window of imported coupons")
	flag.IntVar(&opts.usageLimit, "usage-limit", 1000, "total redemptions allowed per imported coupon")
	flag.IntVar(&opts.workers, "workers", 8, "concurrent coupon writers")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "report valid codes without writing them")
	flag.StringVar(&cfg.Storage.Driver, "driver", app.DriverPostgres, "storage driver: postgres or mongo")
	flag.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&cfg.Storage.MongoURI, "mongo-uri", "", "MongoDB connection URI")
	flag.StringVar(&cfg.Storage.MongoDatabase, "mongo-database", "kart", "MongoDB database name")
	flag.Parse()

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, &cfg, opts); err != nil {
		lg.Error("Coupon ingest failed", zap.Error(err))
		os.Exit(1)
	}
	lg.Info("Coupon ingest completed")
}

func run(ctx context.Context, lg *zap.Logger, cfg *app.Config, opts options) error {
	files, err := filepath.Glob(filepath.Join(opts.dataDir, opts.pattern))
	if err != nil {
		return errors.Wrap(err, "glob dumps")
	}
	sort.Strings(files)
	switch {
	case len(files) < 2:
		return errors.Errorf("need at least two dumps matching %q, found %d", opts.pattern, len(files))
	case len(files) > maxFiles:
		return errors.Errorf("at most %d dumps supported, found %d", maxFiles, len(files))
	}

	lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := buildBloomFilters(ctx, lg, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	lg.Info("Pass 2: finding codes shared between dumps")
	codes, err := findValidCodes(ctx, lg, files, filters)
	if err != nil {
		return errors.Wrap(err, "find valid codes")
	}
	lg.Info("Valid codes found", zap.Int("count", len(codes)))

	if len(codes) == 0 || opts.dryRun {
		return nil
	}

	store, err := app.OpenStore(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(context.WithoutCancel(ctx)) }()

	w := &writer{
		store:      store,
		lg:         lg,
		now:        time.Now().UTC(),
		validFor:   opts.validFor,
		usageLimit: opts.usageLimit,
		workers:    opts.workers,
	}
	return w.write(ctx, codes)
}
