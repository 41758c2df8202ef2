package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"

	"print_kiosk/internal/blob"
	"print_kiosk/internal/config"
	"print_kiosk/internal/order"
	"print_kiosk/internal/payment"
	"print_kiosk/internal/pricing"
	"print_kiosk/internal/printer"
	"print_kiosk/internal/printqueue"
	"print_kiosk/internal/queue"
	"print_kiosk/internal/router"
	"print_kiosk/internal/store"
	"print_kiosk/pkg/logger"
	rediskey "print_kiosk/pkg/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	// 1. SQLite，自动建表
	db, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	gormStore := store.New(db)
	st := store.NewFileCache(gormStore, 1024, time.Hour)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup
	goRun := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	// 2. Redis 可选：订单分布式锁、验签限流、事件 outbox
	var (
		rdb    *rd.Client
		locker order.Locker = order.NewMemoryLocker()
	)
	if cfg.RedisAddr != "" {
		rdb = rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Error("redis ping", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		locker = rediskey.NewLocker(rdb)
	}

	// 3. 订单事件：Kafka 审计，Redis 在时走 Stream outbox
	var events queue.Publisher
	if cfg.EventsEnabled() {
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		events = producer
		if rdb != nil {
			events = queue.NewOutbox(rdb, cfg.OrderEventStream)
			relay := queue.NewRelay(rdb, producer, cfg.OrderEventStream, cfg.OrderEventGroup, cfg.OrderEventConsumer)
			goRun(relay.Run)
		}
		consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, gormStore)
		defer consumer.Close()
		goRun(consumer.Run)
	}

	// 4. 支付网关
	var oracle payment.Oracle = payment.LocalOracle{}
	if cfg.PaymentProvider == "razorpay" {
		oracle = payment.NewRazorpayOracle(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
	}

	// 5. 打印设备与队列
	var driver printer.Driver
	if cfg.DemoMode {
		driver = printer.NewSimulated(cfg.PrintLatency)
	} else {
		driver = printer.NewSpooler(cfg.PrinterName)
	}
	pq := printqueue.New(driver, printqueue.Config{
		MaxAttempts: cfg.PrintMaxAttempts,
		Timeout:     cfg.PrintTimeout,
	})

	svc := order.NewService(order.Deps{
		Store:    st,
		Pricing:  pricing.New(cfg.PriceBW, cfg.PriceColor),
		Oracle:   oracle,
		Gate:     payment.NewGate(cfg.RazorpayKeySecret, st),
		Queue:    pq,
		Locker:   locker,
		Events:   events,
		Currency: cfg.Currency,
	})
	// 结果消费不跟随退出信号，直到队列排空后 Results() 关闭
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		svc.Run(context.WithoutCancel(ctx))
	}()
	if n, err := svc.ResumePaid(ctx); err != nil {
		slog.Error("resume paid orders", "error", err)
	} else if n > 0 {
		slog.Info("resumed paid orders", "count", n)
	}

	files := blob.LocalFS{Root: cfg.UploadDir}
	goRun(blob.NewSweeper(files, cfg.FileMaxAge, time.Hour).Run)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	router.Setup(r, router.Deps{
		Orders: svc,
		Store:  st,
		Files:  files,
		Driver: driver,
		Queue:  pq,
		Redis:  rdb,
		KeyID:  oracle.KeyID(),
	}, cfg)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr, "demo_mode", cfg.DemoMode, "payment", cfg.PaymentProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}

	// 先打印完已入队的任务再停结果消费；超时放弃的任务，订单停在 printing
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.PrintDrainTimeout)
	defer cancelDrain()
	if err := pq.Shutdown(drainCtx); err != nil {
		slog.Error("print queue drain", "error", err)
	}
	<-runDone
	wg.Wait()

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
