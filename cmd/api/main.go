package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/api"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/config"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/logger"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/redisqueue"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/store"
)

// main 是 API 服务的入口函数。
//
// 它负责：
// 1. 加载配置
// 2. 初始化日志、存储与 Redis
// 3. 启动 API 服务器与结果监听器
func main() {
	configPath := flag.String("config", "", "config file path (default configs/config.json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		appLogger.Error("open store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	redisQueue := redisqueue.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	err = redisQueue.Ping(pingCtx)
	cancelPing()
	if err != nil {
		appLogger.Error("connect redis failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv, err := api.NewServer(cfg, appLogger, st, redisQueue)
	if err != nil {
		appLogger.Error("init server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	srv.Start(ctx)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("api server listening", slog.String("addr", cfg.App.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("server run failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down api server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	// 排空结果落库队列后再关闭连接
	if err := srv.Close(); err != nil {
		appLogger.Error("drain result pool failed", slog.String("error", err.Error()))
	}
	if err := redisQueue.Close(); err != nil {
		appLogger.Error("close redis failed", slog.String("error", err.Error()))
	}
	if err := st.Close(); err != nil {
		appLogger.Error("close store failed", slog.String("error", err.Error()))
	}
}
