package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/config"
	"github.com/ariefcatur/storefront-orders/internal/httpx"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/lifecycle"
	"github.com/ariefcatur/storefront-orders/internal/logger"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/postgres"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.LogDevelopment)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	var (
		store orders.Store
		seed  productWriter
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		mem := orders.NewMemStore()
		store, seed = mem, mem
		cfg.SeedDemo = true
		log.Warn("using in-memory store; data is lost on restart")
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal("db migrate", zap.Error(err))
		}
		repo := &orders.Repo{DB: db}
		store, seed = repo, repo
	}
	if cfg.SeedDemo {
		if err := seedDemoProducts(ctx, seed); err != nil {
			log.Fatal("seed products", zap.Error(err))
		}
	}

	// Redis: cache & idempotency. Tanpa Redis service tetap jalan, DB yang jadi acuan.
	var (
		cache *redisx.OrderCache
		idem  *redisx.Idempotency
	)
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	pctx, pcancel := context.WithTimeout(ctx, 2*time.Second)
	if err := rdb.Ping(pctx).Err(); err != nil {
		log.Warn("redis unavailable, running without cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	} else {
		cache = &redisx.OrderCache{RDB: rdb}
		idem = &redisx.Idempotency{RDB: rdb}
	}
	pcancel()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic, 1024, log)
	prod.Start(ctx)

	// Services
	inv := &inventory.Service{Store: store, Log: log.Named("inventory")}
	svc := &lifecycle.Service{
		Store:       store,
		Inventory:   inv,
		Events:      prod,
		Log:         log.Named("lifecycle"),
		ServiceName: cfg.ServiceName,
	}

	// Router & handlers
	router := httpx.NewRouter(log, cfg.RequestTimeout*3)
	oh := &httpx.OrdersHandler{Service: svc, Log: log, Timeout: cfg.RequestTimeout}
	ah := &httpx.AdminHandler{Service: svc, Log: log, Timeout: cfg.RequestTimeout}
	// nil pointer tidak boleh masuk ke interface
	if cache != nil {
		oh.Cache, ah.Cache = cache, cache
	}
	if idem != nil {
		oh.Idempotency = idem
	}
	oh.Register(router)
	ah.Register(router)

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// graceful shutdown
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	prod.Close()      // tutup inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}

type productWriter interface {
	PutProduct(ctx context.Context, p orders.Product) error
}

func seedDemoProducts(ctx context.Context, w productWriter) error {
	for _, p := range []orders.Product{
		{ID: "tee-basic", Name: "Basic Tee", TotalStock: 20, Price: decimal.RequireFromString("15.00")},
		{ID: "hoodie-zip", Name: "Zip Hoodie", TotalStock: 8, Price: decimal.RequireFromString("42.50")},
		{ID: "tote-canvas", Name: "Canvas Tote", TotalStock: 3, Price: decimal.RequireFromString("9.90")},
	} {
		if err := w.PutProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
