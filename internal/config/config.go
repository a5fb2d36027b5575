package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // TIMEZONE 在精简镜像中也能解析

	"wisefido-sleep/internal/models"
	"wisefido-sleep/owl-common/config"
)

// Config 睡眠分析服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 睡眠分析服务特定配置
	Sleep struct {
		// Redis Streams 配置
		Streams struct {
			Payload string // 载荷输入流，如 "sleep:payload:stream"
			Session string // 会话概要输出流，如 "sleep:session:stream"
		}
		ConsumerGroup string        // 消费者组名称
		ConsumerName  string        // 消费者名称
		BatchSize     int64         // 批量处理大小
		BlockTime     time.Duration // XREADGROUP 阻塞时长

		SessionCacheTTL time.Duration // 最近会话缓存时长

		BLETopic  string            // BLE 网关主题，如 "sleep/ble/+/+"
		BLESource models.SourceKind // BLE 网关设备类型

		NormalizerTablesFile string // 规范化表覆盖文件（YAML，可选）
		Timezone             string // 输出时间使用的时区
	}

	HealthStore struct {
		BaseURL   string
		AppID     string
		SecretKey string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database = config.DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "owlrd",
		SSLMode:         "disable",
		MaxConns:        10,
		MaxIdle:         2,
		ConnMaxLifetime: 30 * time.Minute,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:    "tcp://localhost:1883",
		ClientID:  "wisefido-sleep",
		QoS:       1,
		KeepAlive: 60 * time.Second,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	// 睡眠分析服务配置
	cfg.Sleep.Streams.Payload = getEnv("STREAM_PAYLOAD", "sleep:payload:stream")
	cfg.Sleep.Streams.Session = getEnv("STREAM_SESSION", "sleep:session:stream")
	cfg.Sleep.ConsumerGroup = getEnv("CONSUMER_GROUP", "sleep-analyzer-group")
	cfg.Sleep.ConsumerName = getEnv("CONSUMER_NAME", "sleep-analyzer-1")
	cfg.Sleep.BatchSize = int64(getEnvInt("BATCH_SIZE", 10))
	cfg.Sleep.BlockTime = 5 * time.Second

	ttl, err := getEnvDuration("SESSION_CACHE_TTL", 36*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.Sleep.SessionCacheTTL = ttl

	cfg.Sleep.BLETopic = getEnv("BLE_TOPIC", "sleep/ble/+/+")
	source, err := models.ParseSourceKind(getEnv("BLE_SOURCE", string(models.SourceBLEBand)))
	if err != nil {
		return nil, fmt.Errorf("BLE_SOURCE: %w", err)
	}
	if !source.IsBLE() {
		return nil, fmt.Errorf("BLE_SOURCE: %s is not a BLE source", source)
	}
	cfg.Sleep.BLESource = source

	cfg.Sleep.NormalizerTablesFile = getEnv("NORMALIZER_TABLES_FILE", "")
	cfg.Sleep.Timezone = getEnv("TIMEZONE", "UTC")
	if _, err := time.LoadLocation(cfg.Sleep.Timezone); err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}

	cfg.HealthStore.BaseURL = getEnv("HEALTHSTORE_BASE_URL", "http://localhost:8090")
	cfg.HealthStore.AppID = getEnv("HEALTHSTORE_APP_ID", "")
	cfg.HealthStore.SecretKey = getEnv("HEALTHSTORE_SECRET", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// Location 解析后的时区
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Sleep.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration 支持 "36h" 形式，也接受纯数字秒数
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
