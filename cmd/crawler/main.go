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

	"github.com/zyxnine9/xiaohongshu-mcp/internal/config"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/crawler"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/logger"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/metrics"
	"github.com/zyxnine9/xiaohongshu-mcp/internal/pkg/redisqueue"
)

// main 是爬虫节点的入口函数。
//
// 它负责：
// 1. 加载配置
// 2. 初始化日志记录器
// 3. 启动浏览器与爬虫服务
// 4. 启动 Redis Worker 与 Metrics 服务
// 5. 收到信号或达到最大任务数后优雅关闭
func main() {
	configPath := flag.String("config", "", "config file path (default configs/config.json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	metrics.InitMetrics()

	redisQueue := redisqueue.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer func() {
		if err := redisQueue.Close(); err != nil {
			appLogger.Error("close redis failed", slog.String("error", err.Error()))
		}
	}()

	service, err := crawler.NewService(context.Background(), cfg, appLogger, redisQueue)
	if err != nil {
		appLogger.Error("init crawler service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				// Worker 循环已经停止，退出进程让容器重启，保持状态干净
				appLogger.Error("PANIC in redis worker loop", slog.Any("panic", r))
				os.Exit(1)
			}
		}()

		appLogger.Info("starting redis worker loop")
		if err := service.StartWorker(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("redis worker loop stopped", slog.String("error", err.Error()))
		}
	}()

	metricsServer := &http.Server{
		Addr:              cfg.App.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		appLogger.Info("crawler metrics server started", slog.String("addr", cfg.App.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
		}
	}()

	// 等待中断信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		appLogger.Info("received os signal", slog.String("signal", sig.String()))
	case <-service.RestartSignal():
		appLogger.Info("restart requested by service (max tasks reached)")
	}

	appLogger.Info("shutting down crawler service...")

	// 1. 停止拉取新任务
	stopWorkers()

	// 2. 等待进行中的任务结束并关闭浏览器
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown error", slog.String("error", err.Error()))
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("crawler shutdown error", slog.String("error", err.Error()))
	} else {
		appLogger.Info("crawler shutdown completed")
	}

	appLogger.Info("crawler service stopped gracefully", slog.Any("stats", service.Stats()))
}
