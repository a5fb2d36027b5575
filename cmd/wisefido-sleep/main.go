package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"wisefido-sleep/internal/config"
	"wisefido-sleep/internal/service"
	"wisefido-sleep/owl-common/logger"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-sleep")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting wisefido-sleep service",
		zap.String("payload_stream", cfg.Sleep.Streams.Payload),
		zap.String("session_stream", cfg.Sleep.Streams.Session),
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("ble_topic", cfg.Sleep.BLETopic),
		zap.String("timezone", cfg.Sleep.Timezone),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 创建服务
	sleepService, err := service.NewSleepService(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create sleep service", zap.Error(err))
	}

	// 在 goroutine 中启动服务
	errChan := make(chan error, 1)
	go func() {
		errChan <- sleepService.Start(ctx)
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil {
			zapLogger.Error("Sleep service failed", zap.Error(err))
		}
	}

	// 优雅关闭
	cancel()
	if err := sleepService.Stop(context.Background()); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
