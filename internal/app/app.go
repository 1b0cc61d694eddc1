package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/fulfillment/internal/domain/auth"
	"github.com/xenking/fulfillment/internal/domain/catalog"
	"github.com/xenking/fulfillment/internal/domain/coupon"
	"github.com/xenking/fulfillment/internal/domain/courier"
	"github.com/xenking/fulfillment/internal/domain/earnings"
	"github.com/xenking/fulfillment/internal/domain/order"
	"github.com/xenking/fulfillment/internal/handler"
	"github.com/xenking/fulfillment/internal/notify"
	"github.com/xenking/fulfillment/internal/storage/memory"
	"github.com/xenking/fulfillment/internal/storage/postgres"
	"github.com/xenking/fulfillment/pkg/health"
	"github.com/xenking/fulfillment/pkg/httpmiddleware"
)

const serviceName = "fulfillment-api"

// stores bundles the repositories of one storage driver.
type stores struct {
	orders      order.Repository
	couriers    courier.Repository
	earnings    earnings.Repository
	coupons     coupon.Store
	items       catalog.Items
	restaurants catalog.Restaurants
	addresses   catalog.Addresses
	apiKeys     auth.Repository

	// ping is nil for the memory driver.
	ping  health.Pinger
	close func()
}

func openStores(ctx context.Context, lg *zap.Logger, cfg *Config) (*stores, error) {
	if cfg.Storage.Driver == StorageMemory {
		lg.Warn("Using in-memory storage, data is lost on restart")
		cat := memory.NewCatalog()
		if cfg.Storage.DevAPIKey != "" {
			cat.PutAPIKey(auth.APIKeyInfo{
				ID:      "dev",
				KeyHash: handler.Hash([]byte(cfg.APIKeyPepper), cfg.Storage.DevAPIKey),
				Name:    "dev",
				Scopes:  []string{auth.ScopeAll},
			})
		}
		return &stores{
			orders:      memory.NewOrders(),
			couriers:    memory.NewCouriers(),
			earnings:    memory.NewEarnings(),
			coupons:     memory.NewCoupons(),
			items:       cat,
			restaurants: cat,
			addresses:   cat,
			apiKeys:     cat,
			close:       func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if cfg.Storage.Migrate {
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
	}
	cat := postgres.NewCatalogStore(pool)
	return &stores{
		orders:      postgres.NewOrderStore(pool),
		couriers:    postgres.NewCourierStore(pool),
		earnings:    postgres.NewEarningsStore(pool),
		coupons:     postgres.NewCouponStore(pool),
		items:       cat,
		restaurants: cat,
		addresses:   cat,
		apiKeys:     postgres.NewAPIKeyStore(pool),
		ping:        pool,
		close:       pool.Close,
	}, nil
}

func newPublisher(lg *zap.Logger, cfg NotifierConfig) (notify.Publisher, error) {
	switch cfg.Driver {
	case NotifierAMQP:
		return notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	case NotifierKafka:
		return notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix), nil
	case NotifierRedis:
		return notify.NewRedisPublisher(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), nil
	default:
		return notify.NewLogPublisher(lg), nil
	}
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("notifier", cfg.Notifier.Driver),
	)

	taxRate, err := cfg.Pricing.Rate()
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.Earnings.Timezone)
	if err != nil {
		return errors.Wrap(err, "load earnings timezone")
	}

	st, err := openStores(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	pub, err := newPublisher(lg.Named("events"), cfg.Notifier)
	if err != nil {
		return errors.Wrap(err, "create publisher")
	}
	dispatcher := notify.NewDispatcher(pub, notify.DispatcherConfig{
		QueueSize:      cfg.Notifier.QueueSize,
		Workers:        cfg.Notifier.Workers,
		MaxRetries:     cfg.Notifier.MaxRetries,
		InitialBackoff: cfg.Notifier.InitialBackoff,
		PublishTimeout: cfg.Notifier.PublishTimeout,
	}, lg.Named("notify"), m.MeterProvider())

	// Domain services.
	ledger := coupon.NewLedger(st.coupons, coupon.WithMeter(m.MeterProvider().Meter("coupon")))
	courierSvc := courier.NewService(st.orders, st.couriers, st.earnings,
		courier.Config{RadiusKM: cfg.Matching.RadiusKM, ListLimit: cfg.Matching.ListLimit},
		courier.WithNotifier(dispatcher),
		courier.WithTracerProvider(m.TracerProvider()),
		courier.WithMeterProvider(m.MeterProvider()),
	)
	orderSvc := order.NewService(st.orders, st.items, st.restaurants, st.addresses, ledger,
		order.WithNotifier(dispatcher),
		order.WithSettler(courierSvc),
		order.WithTaxRate(taxRate),
		order.WithTracerProvider(m.TracerProvider()),
	)
	aggregator := earnings.NewAggregator(st.earnings, loc, nil)

	// Health check service.
	healthSvc := health.New(health.Config{
		Interval:         cfg.Health.Interval,
		Timeout:          cfg.Health.Timeout,
		FailureThreshold: cfg.Health.FailureThreshold,
	})
	if st.ping != nil {
		healthSvc.Register(health.Readiness, "postgres", health.PingCheck(st.ping))
	}
	if p, ok := pub.(health.Pinger); ok {
		healthSvc.Register(health.Readiness, cfg.Notifier.Driver, health.PingCheck(p))
	}
	healthSvc.Register(health.Readiness, "notify_queue", health.QueueDepthCheck(dispatcher, 0.9))
	healthSvc.Register(health.Liveness, "goroutines", health.GoroutineCheck(cfg.Health.MaxGoroutines))

	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	})

	h := handler.NewHandler(orderSvc, courierSvc, aggregator, ledger)
	keys := handler.NewAPIKeyAuth(st.apiKeys, []byte(cfg.APIKeyPepper))

	r := chi.NewRouter()
	r.Use(
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.RequestID(),
		httpmiddleware.Recovery(),
		httpmiddleware.LogRequests(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins: cfg.CORS.Origins,
			MaxAge:       cfg.CORS.MaxAge,
		}),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Mount("/", h.Routes(keys))
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
		),
	}

	// The dispatcher outlives the server so events of in-flight requests are
	// flushed after the last handler returns.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return healthSvc.Run(gctx) })
	g.Go(func() error { return limiter.Run(gctx) })

	var dispatchErr error
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatchErr = dispatcher.Run(dispatchCtx)
	}()

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	healthSvc.SetReady(true)

	err = g.Wait()
	stopDispatch()
	<-dispatchDone
	if dispatchErr != nil {
		lg.Error("Closing event publisher failed", zap.Error(dispatchErr))
	}
	return err
}
