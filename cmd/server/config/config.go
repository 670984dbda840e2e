package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RedisConfig holds Redis connection and cart behavior settings.
type RedisConfig struct {
	URL                string
	Stream             string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MinIdleConns       *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	CartTTL            time.Duration
	StreamMaxLen       int64
	EnableOTel         bool
	TLSConfig          *tls.Config
}

// GRPCConfig holds the listen address and ingress rate limiting settings.
type GRPCConfig struct {
	Addr              string
	RateLimitInterval time.Duration
	RateLimitBurst    int
}

// ObservabilityConfig holds the HTTP address for health, metrics and websockets.
type ObservabilityConfig struct {
	Addr string
}

// PostgresConfig holds the optional database URL. Empty means in-memory stores.
type PostgresConfig struct {
	URL string
}

// AuthConfig holds the JWT signing secret. Empty disables authentication.
type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
}

// SagaConfig tunes the payment, refund and return workflows.
type SagaConfig struct {
	PaymentTTL        time.Duration
	RefundDelay       time.Duration
	RefundSuccessRate float64
	ReturnWindow      time.Duration
}

// KafkaConfig enables the Kafka notification sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// AMQPConfig enables the RabbitMQ notification sink when URL is set.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level string
	Env   string
}

// LoadRedis reads Redis config from env.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{
		Stream: strings.TrimSpace(os.Getenv("REDIS_STREAM")),
	}

	url, err := requiredString("REDIS_URL")
	if err != nil {
		return cfg, err
	}
	cfg.URL = url

	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}

	if cfg.HealthcheckTimeout, err = durationOr("REDIS_HEALTHCHECK_TIMEOUT", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.CartTTL, err = durationOr("REDIS_CART_TTL", 0); err != nil {
		return cfg, err
	}
	if cfg.StreamMaxLen, err = int64Or("REDIS_STREAM_MAXLEN", 10000); err != nil {
		return cfg, err
	}

	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}

	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// GetRedisURL returns the required Redis URL from env.
func GetRedisURL() (string, error) {
	return requiredString("REDIS_URL")
}

// LoadGRPC reads the gRPC listen address and rate limit settings from env.
func LoadGRPC() (GRPCConfig, error) {
	cfg := GRPCConfig{Addr: stringOr("GRPC_ADDR", ":50051")}
	var err error
	if cfg.RateLimitInterval, err = durationOr("GRPC_RATE_LIMIT_INTERVAL", time.Millisecond); err != nil {
		return GRPCConfig{}, err
	}
	if cfg.RateLimitBurst, err = intOr("GRPC_RATE_LIMIT_BURST", 100); err != nil {
		return GRPCConfig{}, err
	}
	return cfg, nil
}

// LoadObservability reads the HTTP server address from env.
func LoadObservability() (ObservabilityConfig, error) {
	return ObservabilityConfig{Addr: stringOr("OBS_ADDR", ":9090")}, nil
}

// LoadPostgres reads the optional database URL from env.
func LoadPostgres() PostgresConfig {
	return PostgresConfig{URL: strings.TrimSpace(os.Getenv("DATABASE_URL"))}
}

// LoadAuth reads JWT settings from env.
func LoadAuth() (AuthConfig, error) {
	cfg := AuthConfig{Secret: strings.TrimSpace(os.Getenv("JWT_SECRET"))}
	var err error
	if cfg.TokenTTL, err = durationOr("JWT_TTL", 2*time.Hour); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadSaga reads workflow timings from env. Unset values keep the package defaults.
func LoadSaga() (SagaConfig, error) {
	var cfg SagaConfig
	var err error
	if cfg.PaymentTTL, err = durationOr("PAYMENT_TTL", 15*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.RefundDelay, err = durationOr("REFUND_DELAY", 500*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.RefundSuccessRate, err = fractionOr("REFUND_SUCCESS_RATE", 0.95); err != nil {
		return cfg, err
	}
	if cfg.ReturnWindow, err = durationOr("RETURN_WINDOW", 7*24*time.Hour); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadKafka reads the Kafka sink settings from env.
func LoadKafka() KafkaConfig {
	cfg := KafkaConfig{Topic: stringOr("KAFKA_TOPIC", "order-events")}
	for _, broker := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.Brokers = append(cfg.Brokers, broker)
		}
	}
	return cfg
}

// LoadAMQP reads the RabbitMQ sink settings from env.
func LoadAMQP() AMQPConfig {
	return AMQPConfig{
		URL:      strings.TrimSpace(os.Getenv("AMQP_URL")),
		Exchange: stringOr("AMQP_EXCHANGE", "order-events"),
	}
}

// LoadLog reads logger settings from env.
func LoadLog() LogConfig {
	return LogConfig{
		Level: strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		Env:   strings.TrimSpace(os.Getenv("APP_ENV")),
	}
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return raw, nil
}


func requiredInt64(name string) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func stringOr(name, def string) string {
	if raw := strings.TrimSpace(os.Getenv(name)); raw != "" {
		return raw
	}
	return def
}

func durationOr(name string, def time.Duration) (time.Duration, error) {
	val, err := optionalDuration(name)
	if err != nil || val == nil {
		return def, err
	}
	return *val, nil
}

func intOr(name string, def int) (int, error) {
	val, err := optionalInt(name)
	if err != nil || val == nil {
		return def, err
	}
	return *val, nil
}

func int64Or(name string, def int64) (int64, error) {
	if strings.TrimSpace(os.Getenv(name)) == "" {
		return def, nil
	}
	return requiredInt64(name)
}

func fractionOr(name string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 || val > 1 {
		return 0, fmt.Errorf("%s must be between 0 and 1", name)
	}
	return val, nil
}
