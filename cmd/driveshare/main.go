package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"driveshare/internal/api"
	"driveshare/internal/config"
	"driveshare/internal/events"
	"driveshare/internal/model"
	"driveshare/internal/obs"
	"driveshare/internal/recovery"
	"driveshare/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Cancel context on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := storage.Open(ctx, storage.Config{
		Path:         cfg.DBPath,
		BusyTimeout:  cfg.BusyTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxOpenConns,
	})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()

	shutdownTracing, err := obs.InitTracing(ctx, cfg.OTLPEndpoint, "driveshare")
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}

	logger := obs.NewLogger().With(map[string]interface{}{"svc": "driveshare"})
	metrics := obs.NewMetrics(prometheus.DefaultRegisterer)

	handlers := []events.Handler{
		model.NewInboxWriter(db.DB, logger),
		events.LogHandler{Logger: logger},
	}
	if cfg.AMQPURL != "" {
		broker, err := events.DialBroker(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("broker: %v", err)
		}
		defer broker.Close()
		handlers = append(handlers, events.NewBrokerHandler(broker.Channel(), cfg.AMQPExchange))
	}
	dispatcher := events.NewDispatcher(logger, metrics, handlers...)

	svc := model.NewService(db.DB, logger, metrics, dispatcher)
	verifier := recovery.NewVerifier(db.DB, logger, cfg.BcryptCost)
	apiServer := api.NewServer(svc, verifier, api.Options{
		JWTSecret: cfg.JWTSecret,
		Logger:    logger,
	})
	if cfg.JWTSecret == "" {
		log.Printf("DRIVESHARE_JWT_SECRET unset: trusting X-User-ID (development mode)")
	}

	mon := model.NewBacklogMonitor(db.DB, logger, metrics, cfg.BacklogInterval)

	mux := http.NewServeMux()
	mux.Handle("/", http.TimeoutHandler(apiServer.Handler(), cfg.RequestTimeout, `{"error":"timeout"}`))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.Run(ctx) // exits when ctx is cancelled
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("driveshare up addr=%s db=%s", cfg.Addr, cfg.DBPath)
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown error: %v", err)
	}

	wg.Wait()
	log.Printf("driveshare stopped")
}
