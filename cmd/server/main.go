package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gymledger/internal/config"
	"gymledger/internal/handler"
	"gymledger/internal/infrastructure/cache"
	"gymledger/internal/infrastructure/database"
	"gymledger/internal/infrastructure/logging"
	"gymledger/internal/infrastructure/metrics"
	"gymledger/internal/infrastructure/mq"
	"gymledger/internal/job"
	"gymledger/internal/service"
	"gymledger/pkg/idgen"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

func main() {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	configPath := os.Getenv("GYMLEDGER_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	log := logging.New(cfg.Log)

	ids, err := idgen.New(cfg.Business.NodeID)
	if err != nil {
		log.WithError(err).Fatal("init id generator")
	}

	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := cache.NewRedis(ctx, &cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("connect redis")
	}
	defer redisClient.Close()

	publisher, err := mq.NewKafkaPublisher(&cfg.Kafka)
	if err != nil {
		log.WithError(err).Fatal("connect kafka")
	}
	defer publisher.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	balanceCache := cache.NewBalanceCache(redisClient, time.Duration(cfg.Business.BalanceCacheSeconds)*time.Second)
	receivables := service.NewReceivableService(db, cfg, ids, m, log)
	credits := service.NewCreditService(db, cfg, ids, balanceCache, m, log)
	transitions := service.NewTransitionService(db, cfg, ids, receivables, credits, m, log)

	outboxSender := job.NewOutboxSender(db, publisher, cfg, m, log)
	go outboxSender.Start(ctx)

	overdueMonitor := job.NewOverdueMonitor(receivables, m, log)
	go overdueMonitor.Start(ctx)

	reconcileJob := job.NewReconcileJob(db, credits, redisClient, cfg.Business.ReconcileCron, log)
	go func() {
		if err := reconcileJob.Start(ctx); err != nil {
			log.WithError(err).Error("reconcile job not started")
		}
	}()

	h := handler.NewHandler(receivables, credits, transitions, log)
	router := handler.SetupRouter(h, db, cfg, m, registry, log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("server stopped")
}
