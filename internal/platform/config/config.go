package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Database  DatabaseConfig            `mapstructure:"database"`
	JWT       JWTConfig                 `mapstructure:"jwt"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Queue     QueueConfig               `mapstructure:"queue"`
	Sync      SyncConfig                `mapstructure:"sync"`
	Client    ClientConfig              `mapstructure:"client"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type QueueConfig struct {
	WorkerCount   int           `mapstructure:"worker_count"`
	MaxRetries    int           `mapstructure:"max_retries"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type SyncConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	HistoryWindow time.Duration `mapstructure:"history_window"`
	DefaultWindow time.Duration `mapstructure:"default_window"`
}

type ClientConfig struct {
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

type ProviderConfig struct {
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
	BaseURL       string `mapstructure:"base_url"`
	AppID         string `mapstructure:"app_id"`
	PrivateKeyPEM string `mapstructure:"private_key_pem"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("queue.worker_count", 10)
	viper.SetDefault("queue.max_retries", 5)
	viper.SetDefault("queue.poll_interval", time.Second)
	viper.SetDefault("queue.stale_after", 10*time.Minute)
	viper.SetDefault("queue.sweep_interval", time.Minute)
	viper.SetDefault("sync.interval", 15*time.Minute)
	viper.SetDefault("sync.history_window", 30*24*time.Hour)
	viper.SetDefault("sync.default_window", 24*time.Hour)
	viper.SetDefault("client.request_timeout", 30*time.Second)
	viper.SetDefault("client.max_retries", 3)
	viper.SetDefault("client.backoff_base", time.Second)
	viper.SetDefault("client.failure_threshold", 5)
	viper.SetDefault("client.breaker_cooldown", 60*time.Second)
}
