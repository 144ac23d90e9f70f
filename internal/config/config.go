package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`

	Roster struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"roster"`

	Cache struct {
		DefaultTTL    time.Duration `mapstructure:"default_ttl"`
		ActorTTL      time.Duration `mapstructure:"actor_ttl"`
		StatsTTL      time.Duration `mapstructure:"stats_ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"cache"`

	Storage struct {
		Endpoint   string        `mapstructure:"endpoint"`
		AccessKey  string        `mapstructure:"access_key"`
		SecretKey  string        `mapstructure:"secret_key"`
		Bucket     string        `mapstructure:"bucket"`
		UseSSL     bool          `mapstructure:"use_ssl"`
		PresignTTL time.Duration `mapstructure:"presign_ttl"`
	} `mapstructure:"storage"`

	Notifier struct {
		WebhookURL string `mapstructure:"webhook_url"`
	} `mapstructure:"notifier"`

	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`

	Tracing struct {
		Enable bool `mapstructure:"enable"`
	} `mapstructure:"tracing"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if path != "" {
		viper.SetConfigFile(path)
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	viper.SetDefault("environment", "DEV")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("roster.path", "access/whitelist.csv")
	viper.SetDefault("cache.default_ttl", 5*time.Minute)
	viper.SetDefault("cache.sweep_interval", time.Minute)
	viper.SetDefault("storage.endpoint", "localhost:9000")
	viper.SetDefault("storage.bucket", "docs")
	viper.SetDefault("storage.presign_ttl", time.Hour)
	viper.SetDefault("server.addr", ":8080")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// per-concern TTLs fall back to the cache-wide default
	if config.Cache.ActorTTL <= 0 {
		config.Cache.ActorTTL = config.Cache.DefaultTTL
	}
	if config.Cache.StatsTTL <= 0 {
		config.Cache.StatsTTL = config.Cache.DefaultTTL
	}

	return &config, nil
}
