// Command seed-db fills an empty database with a demo catalog, users and
// coupons, and prints bearer tokens for the seeded users.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/app"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/promo"
)

type options struct {
	productsFile string
	customers    int
	jwtSecret    string
	issuer       string
	tokenTTL     time.Duration
}

func main() {
	var (
		opts options
		cfg  app.Config
	)

	flag.StringVar(&cfg.Storage.Driver, "driver", app.DriverPostgres, "storage driver: postgres or mongo")
	flag.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&cfg.Storage.MongoURI, "mongo-uri", "", "MongoDB connection URI")
	flag.StringVar(&cfg.Storage.MongoDatabase, "mongo-database", "kart", "MongoDB database name")
	flag.StringVar(&opts.productsFile, "products-file", "", "path to products JSON file; built-in catalog when empty")
	flag.IntVar(&opts.customers, "customers", 3, "number of customer accounts to create")
	flag.StringVar(&opts.jwtSecret, "jwt-secret", "", "HMAC secret for printed tokens (or KART_AUTH_JWTSECRET env)")
	flag.StringVar(&opts.issuer, "issuer", "", "issuer claim of printed tokens")
	flag.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of printed tokens")
	flag.Parse()

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.jwtSecret == "" {
		opts.jwtSecret = os.Getenv("KART_AUTH_JWTSECRET")
	}

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, &cfg, opts); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		os.Exit(1)
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, cfg *app.Config, opts options) error {
	store, err := app.OpenStore(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(context.WithoutCancel(ctx)) }()

	products, err := loadProducts(opts.productsFile)
	if err != nil {
		return errors.Wrap(err, "load products")
	}

	s := &seeder{
		store: store,
		promo: promo.NewService(store, coupon.NewEngine(), notify.Nop{}),
		lg:    lg,
		now:   time.Now().UTC(),
	}
	accounts, err := s.seed(ctx, products, opts.customers)
	if err != nil {
		return err
	}

	if opts.jwtSecret == "" {
		lg.Warn("No JWT secret given, skipping token output")
		return nil
	}
	a := handler.NewAuthenticator([]byte(opts.jwtSecret), opts.issuer, nil)
	for _, u := range accounts {
		token, err := a.Issue(u.ID, u.Role, opts.tokenTTL)
		if err != nil {
			return errors.Wrapf(err, "issue token for %s", u.Username)
		}
		lg.Info("Bearer token",
			zap.String("username", u.Username),
			zap.String("user_id", u.ID),
			zap.String("role", string(u.Role)),
			zap.String("token", token),
		)
	}
	return nil
}
