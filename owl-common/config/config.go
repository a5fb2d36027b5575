package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig PostgreSQL 连接配置
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT 连接配置（BLE 网关通过 MQTT 转发通知）
type MQTTConfig struct {
	Broker    string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
	KeepAlive time.Duration
}

// GetDSN 获取 lib/pq 连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 从环境变量覆盖数据库配置，prefix 如 "DB"
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	c.Host = EnvString(prefix+"_HOST", c.Host)
	c.Port = EnvInt(prefix+"_PORT", c.Port)
	c.User = EnvString(prefix+"_USER", c.User)
	c.Password = EnvString(prefix+"_PASSWORD", c.Password)
	c.Database = EnvString(prefix+"_NAME", c.Database)
	c.SSLMode = EnvString(prefix+"_SSLMODE", c.SSLMode)
	c.MaxConns = EnvInt(prefix+"_MAX_CONNS", c.MaxConns)
	c.MaxIdle = EnvInt(prefix+"_MAX_IDLE", c.MaxIdle)
}

// LoadFromEnv 从环境变量覆盖 Redis 配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	c.Addr = EnvString(prefix+"_ADDR", c.Addr)
	c.Password = EnvString(prefix+"_PASSWORD", c.Password)
	c.DB = EnvInt(prefix+"_DB", c.DB)
}

// LoadFromEnv 从环境变量覆盖 MQTT 配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	c.Broker = EnvString(prefix+"_BROKER", c.Broker)
	c.ClientID = EnvString(prefix+"_CLIENT_ID", c.ClientID)
	c.Username = EnvString(prefix+"_USERNAME", c.Username)
	c.Password = EnvString(prefix+"_PASSWORD", c.Password)
	c.QoS = byte(EnvInt(prefix+"_QOS", int(c.QoS)))
}

// EnvString 读取字符串环境变量，未设置时返回默认值
func EnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// EnvInt 读取整数环境变量，无法解析时返回默认值
func EnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
