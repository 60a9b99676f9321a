package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/checkout"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/promo"
	"github.com/xenking/kart-checkout/internal/storage"
	"github.com/xenking/kart-checkout/internal/storage/memory"
	"github.com/xenking/kart-checkout/internal/storage/mongo"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// OpenStore connects the configured storage backend and applies its schema.
func OpenStore(ctx context.Context, lg *zap.Logger, cfg *Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return postgres.New(pool, lg.Named("postgres")), nil
	case DriverMongo:
		store, err := mongo.Connect(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close(context.WithoutCancel(ctx))
			return nil, err
		}
		return store, nil
	case DriverMemory:
		lg.Warn("Using in-memory storage, data is lost on restart")
		return memory.New(), nil
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func openSinks(ctx context.Context, lg *zap.Logger, cfg NotifyConfig) (_ []notify.Sink, rerr error) {
	var sinks []notify.Sink
	defer func() {
		if rerr == nil {
			return
		}
		for _, s := range sinks {
			_ = s.Close()
		}
	}()

	for _, name := range cfg.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, notify.NewLogSink(lg.Named("events")))
		case "kafka":
			s, err := notify.NewKafkaSink(ctx, notify.KafkaConfig{
				Brokers:     cfg.Kafka.Brokers,
				Topic:       cfg.Kafka.Topic,
				ClientID:    cfg.Kafka.ClientID,
				Partitions:  cfg.Kafka.Partitions,
				Replication: cfg.Kafka.Replication,
			})
			if err != nil {
				return nil, errors.Wrap(err, "kafka sink")
			}
			sinks = append(sinks, s)
		case "amqp":
			s, err := notify.NewAMQPSink(cfg.AMQP.URL, cfg.AMQP.Exchange)
			if err != nil {
				return nil, errors.Wrap(err, "amqp sink")
			}
			sinks = append(sinks, s)
		default:
			return nil, errors.Errorf("unknown notification sink %q", name)
		}
		lg.Info("Notification sink enabled", zap.String("sink", name))
	}
	return sinks, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("env", cfg.Env),
		zap.String("storage", cfg.Storage.Driver),
	)

	store, err := OpenStore(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			lg.Warn("Close storage", zap.Error(err))
		}
	}()

	sinks, err := openSinks(ctx, lg, cfg.Notify)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(lg.Named("notify"), cfg.Notify.QueueSize, sinks...)

	// Health check service.
	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddReadinessCheck("storage", 5*time.Second, health.PingCheck(store))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	var cache catalog.Cache = catalog.NopCache{}
	if cfg.Cache.Size > 0 {
		cache = catalog.NewLRUCache(cfg.Cache.Size, cfg.Cache.TTL)
	}
	catalogSvc := catalog.NewService(store.Tx().Products(), cache)
	engine := coupon.NewEngine(coupon.WithTracerProvider(m.TracerProvider()))
	checkoutSvc := checkout.NewService(store, engine, catalogSvc, dispatcher,
		checkout.WithTracerProvider(m.TracerProvider()),
	)
	promoSvc := promo.NewService(store, engine, dispatcher)

	// HTTP handlers.
	h := handler.New(
		handler.Config{
			Production: cfg.Production(),
			ValidateLimit: httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.ValidateRateLimit.Max,
				Window:  cfg.ValidateRateLimit.Window,
				Message: "Too many coupon validation attempts, please try again later",
			}),
		},
		checkoutSvc,
		promoSvc,
		catalogSvc,
		handler.NewAuthenticator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, store.Tx().Users()),
	)

	// Router: probes, metrics and API routes on one server.
	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Handle("/metrics", promhttp.Handler())
	h.Routes(router)
	routeFinder := httpmiddleware.MakeRouteFinder(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("kart-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	// Events emitted while draining requests must still reach the sinks, so
	// the dispatcher outlives the server.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(dispatchCtx)
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		stopDispatch()
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}
