package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Provider ProviderConfig
	Crypto   CryptoConfig
	Kafka    KafkaConfig
	Alerts   AlertRelayConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	HTTPPort    int           `mapstructure:"http_port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Password    string   `mapstructure:"password"`
	DB          int      `mapstructure:"db"`
	PoolSize    int      `mapstructure:"pool_size"`
	ClusterMode bool     `mapstructure:"cluster_mode"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// ProviderConfig holds the payment provider application credentials. The
// client id/secret identify this platform against the provider's OAuth token
// endpoint; the webhook secret is the shared HMAC key for inbound
// notification signatures.
type ProviderConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	ClientID            string        `mapstructure:"client_id"`
	ClientSecret        string        `mapstructure:"client_secret"`
	WebhookSecret       string        `mapstructure:"webhook_secret"`
	IntegratorID        string        `mapstructure:"integrator_id"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	WebhookFetchTimeout time.Duration `mapstructure:"webhook_fetch_timeout"`
}

type CryptoConfig struct {
	// TokenKey is the hex-encoded 32-byte key used to encrypt stored
	// provider tokens at rest.
	TokenKey string `mapstructure:"token_key"`
}

type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	ClientID        string   `mapstructure:"client_id"`
	AlertTopic    string   `mapstructure:"alert_topic"`
	AlertDLQTopic string   `mapstructure:"alert_dlq_topic"`
	AlertGroup    string   `mapstructure:"alert_group"`
}

type AlertRelayConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxRetry     int           `mapstructure:"max_retry"`
	// WebhookURL is where the alert worker posts delivered alerts. Empty
	// means deliveries are logged only.
	WebhookURL string `mapstructure:"webhook_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/cajaflow/")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("CAJAFLOW")
	viper.AutomaticEnv()

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("redis.pool_size", 100)
	viper.SetDefault("auth.token_ttl", "24h")
	viper.SetDefault("provider.base_url", "https://api.mercadopago.com")
	viper.SetDefault("provider.request_timeout", "20s")
	viper.SetDefault("provider.webhook_fetch_timeout", "15s")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("kafka.client_id", "cajaflow-alert-relay")
	viper.SetDefault("kafka.alert_topic", "cajaflow.alerts")
	viper.SetDefault("kafka.alert_dlq_topic", "cajaflow.alerts.dlq")
	viper.SetDefault("kafka.alert_group", "cajaflow-alert-workers")
	viper.SetDefault("alerts.poll_interval", "5s")
	viper.SetDefault("alerts.batch_size", 100)
	viper.SetDefault("alerts.max_retry", 3)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
