package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Carrier  CarrierConfig  `yaml:"carrier"`
	Tracking TrackingConfig `yaml:"tracking"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN returns a pgx connection string. Empty host means "no database".
func (d DatabaseConfig) DSN() string {
	if d.Host == "" {
		return ""
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	OrderUpdatedTopicName string `yaml:"order_updated_topic_name"`
}

func (k KafkaConfig) Addr() string {
	if k.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", k.Host, k.Port)
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type CarrierConfig struct {
	Mode               string  `yaml:"mode"` // "correios" | "fake"
	BaseURL            string  `yaml:"base_url"`
	Username           string  `yaml:"username"`
	APIKey             string  `yaml:"api_key"`
	BatchSize          int     `yaml:"batch_size"`
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
	RequestsPerSecond  float64 `yaml:"requests_per_second"`
	RateLimitPerMinute int64   `yaml:"rate_limit_per_minute"`
	// IANA-зона, в которой перевозчик отдаёт дату и время событий
	TimeZone string `yaml:"time_zone"`
}

func (c CarrierConfig) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.TimeZone)
}

type TrackingConfig struct {
	IntervalMinutes int    `yaml:"interval_minutes"`
	Autostart       *bool  `yaml:"autostart"`
	WorkerHTTPAddr  string `yaml:"worker_http_addr"`
	AdminToken      string `yaml:"admin_token"`
	NotifyQueueSize int    `yaml:"notify_queue_size"`
	SwaggerPath     string `yaml:"swagger_path"`
}

func (t TrackingConfig) AutostartEnabled() bool {
	return t.Autostart == nil || *t.Autostart
}

type APIConfig struct {
	HTTPAddr                string `yaml:"http_addr"`
	KafkaConsumerGroup      string `yaml:"kafka_consumer_group"`
	CurrentStatusTTLSeconds int    `yaml:"current_status_ttl_seconds"`
	SwaggerPath             string `yaml:"swagger_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
