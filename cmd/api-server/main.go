// Package main API Server 入口
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"rewear/internal/apiserver/auth"
	"rewear/internal/apiserver/server"
	"rewear/internal/apiserver/sweeper"
	"rewear/internal/config"
	"rewear/internal/shared/ledger"
	"rewear/internal/shared/model"
	"rewear/internal/shared/objstore"
	"rewear/internal/shared/ratelimit"
	"rewear/internal/shared/storage/mongostore"
)

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 切换配置文件）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	// 初始化 MongoDB（持久化业务数据）
	store, err := mongostore.NewStore(cfg.MongoURI, cfg.MongoName)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store.Close(ctx)
	}()
	log.Println("Connected to MongoDB")

	lg := ledger.New(store, store)

	// 初始化 Redis 限流器，不可用时退化为进程内限流
	var limiter ratelimit.Limiter
	if opts, err := redis.ParseURL(cfg.RedisURL); err == nil {
		rdb := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			limiter = ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
			log.Println("Connected to Redis")
		} else {
			log.Printf("WARNING: Redis unavailable (%v), using in-memory rate limiter", err)
		}
	}
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
	}

	// 初始化 MinIO 对象存储，不可用时禁用图片上传
	var images *objstore.Client
	if client, err := objstore.NewClient(cfg.Minio); err == nil {
		images = client
		log.Println("Connected to MinIO")
	} else {
		log.Printf("WARNING: object storage unavailable (%v), image upload disabled", err)
	}

	// 引导管理员账号（ADMIN_EMAIL/ADMIN_PASSWORD 环境变量）
	if err := auth.EnsureAdminUser(store, os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		log.Printf("WARNING: ensure admin user: %v", err)
	}

	h := server.NewHandler(cfg, store, lg, images, limiter)

	// 账本落账后上报积分发放指标（只统计入账）
	metrics := h.GetMetrics()
	lg.SetObserver(func(txType model.TransactionType, amount int) {
		metrics.RecordPointsIssued(string(txType), amount)
	})

	// 启动过期交换清扫器，并让它顺带刷新业务指标
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sw := sweeper.New(store, store, cfg.Swaps.SweepInterval)
	sw.SetRecorder(metrics)
	go sw.Run(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}
