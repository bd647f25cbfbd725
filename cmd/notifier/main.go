package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/storefront-orders/internal/config"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/logger"
	"github.com/ariefcatur/storefront-orders/internal/notify"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName+"-notifier", cfg.LogDevelopment)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.ShopWhatsApp == "" {
		log.Warn("SHOP_WHATSAPP not set, links will open the contact picker")
	}

	// Redis dedup
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	n := &notify.Notifier{
		ShopPhone: cfg.ShopWhatsApp,
		Sink:      notify.LogSink{Log: log},
		Dedup:     &redisx.Dedup{RDB: rdb, Service: cfg.NotifierGroup},
		Log:       log,
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, cfg.OrderEventsTopic, cfg.NotifierWorkers, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("notifier consumer started",
			zap.String("group", cfg.NotifierGroup),
			zap.String("topic", cfg.OrderEventsTopic),
			zap.Int("workers", cfg.NotifierWorkers))
		if err := cons.Start(ctx, n.HandleOrderEvent); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	<-done
}
