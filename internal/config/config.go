package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"LinkMonitorAPI/internal/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	BackendHTTP      = "http"
	BackendSageMaker = "sagemaker"
	BackendThreshold = "threshold"
	BackendNone      = "none"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"-"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Environment     string        `yaml:"environment"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	SQLitePath      string        `yaml:"sqlite_path"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`
	Port           int           `yaml:"port"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ReadingsTopic  string        `yaml:"readings_topic"`
	StatusTopic    string        `yaml:"status_topic"`
	QoS            byte          `yaml:"qos"`
	RetainMessages bool          `yaml:"retain"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	AutoReconnect  bool          `yaml:"auto_reconnect"`
}

type ClassifierConfig struct {
	Backend           string        `yaml:"backend"`
	URL               string        `yaml:"url"`
	Timeout           time.Duration `yaml:"timeout"`
	SageMakerEndpoint string        `yaml:"sagemaker_endpoint"`
	AWSRegion         string        `yaml:"aws_region"`
	ScoreThreshold    float64       `yaml:"score_threshold"`
	MinPDR            float64       `yaml:"min_pdr"`
	MinRSS            float64       `yaml:"min_rss"`
	Window            int           `yaml:"window"`
}

type AggregatorConfig struct {
	ResubscribeMin time.Duration `yaml:"resubscribe_min"`
	ResubscribeMax time.Duration `yaml:"resubscribe_max"`
}

type IngestConfig struct {
	// LegacyPDRThreshold resolves flat-array readings at ingestion when > 0.
	LegacyPDRThreshold float64 `yaml:"legacy_pdr_threshold"`
	MaxBodyBytes       int64   `yaml:"max_body_bytes"`
}

type SecurityConfig struct {
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
	CORSAllowedMethods []string      `yaml:"cors_allowed_methods"`
	CORSAllowedHeaders []string      `yaml:"cors_allowed_headers"`
	CORSMaxAge         time.Duration `yaml:"cors_max_age"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	EnableRateLimit    bool          `yaml:"enable_rate_limit"`
}

type LoggingConfig struct {
	Level     logger.Level
	Mode      logger.Mode
	FilePath  string
	UseColors bool
}

var postgresEnvVars = []string{
	"DB_HOST",
	"DB_PORT",
	"DB_USER",
	"DB_PASSWORD",
	"DB_NAME",
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server:     loadServerConfig(),
		Database:   loadDatabaseConfig(),
		MQTT:       loadMQTTConfig(),
		Classifier: loadClassifierConfig(),
		Aggregator: loadAggregatorConfig(),
		Ingest:     loadIngestConfig(),
		Security:   loadSecurityConfig(),
		Logging:    loadLoggingConfig(),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if cfg.Database.Driver == DriverPostgres {
		if err := validateRequired(postgresEnvVars); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// overlayFile applies a YAML document on top of the environment values.
// Keys absent from the file keep their current value.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

func validateRequired(keys []string) error {
	var missing []string

	for _, key := range keys {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SERVER_HOST", "0.0.0.0"),
		Port:            getEnvAsInt("SERVER_PORT", 8080),
		Environment:     getEnv("ENVIRONMENT", "development"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", "15s"),
		ReadTimeout:     getEnvAsDuration("READ_TIMEOUT", "10s"),
		WriteTimeout:    getEnvAsDuration("WRITE_TIMEOUT", "10s"),
		MaxHeaderBytes:  getEnvAsInt("MAX_HEADER_BYTES", 1048576),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          strings.ToLower(getEnv("DB_DRIVER", DriverPostgres)),
		SQLitePath:      getEnv("SQLITE_PATH", "linkmonitor.db"),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "linkmon"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "link_monitor"),
		SSLMode:         getEnv("DB_SSL_MODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", "5m"),
		ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", "5m"),
	}
}

func loadMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Enabled:        getEnvAsBool("MQTT_ENABLED", false),
		Broker:         getEnv("MQTT_BROKER", "localhost"),
		Port:           getEnvAsInt("MQTT_PORT", 1883),
		ClientID:       getEnv("MQTT_CLIENT_ID", "linkmon-backend"),
		Username:       getEnv("MQTT_USERNAME", ""),
		Password:       getEnv("MQTT_PASSWORD", ""),
		ReadingsTopic:  getEnv("MQTT_READINGS_TOPIC", "linkmon/readings"),
		StatusTopic:    getEnv("MQTT_STATUS_TOPIC", ""),
		QoS:            byte(getEnvAsInt("MQTT_QOS", 1)),
		RetainMessages: getEnvAsBool("MQTT_RETAIN", false),
		KeepAlive:      getEnvAsDuration("MQTT_KEEP_ALIVE", "60s"),
		ConnectTimeout: getEnvAsDuration("MQTT_CONNECT_TIMEOUT", "10s"),
		AutoReconnect:  getEnvAsBool("MQTT_AUTO_RECONNECT", true),
	}
}

func loadClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Backend:           strings.ToLower(getEnv("CLASSIFIER_BACKEND", BackendHTTP)),
		URL:               getEnv("CLASSIFIER_URL", "http://localhost:5000/predict"),
		Timeout:           getEnvAsDuration("CLASSIFIER_TIMEOUT", "5s"),
		SageMakerEndpoint: getEnv("SAGEMAKER_ENDPOINT", ""),
		AWSRegion:         getEnv("AWS_REGION", "eu-west-1"),
		ScoreThreshold:    getEnvAsFloat("SAGEMAKER_SCORE_THRESHOLD", 3.0),
		MinPDR:            getEnvAsFloat("CLASSIFIER_MIN_PDR", 0.5),
		MinRSS:            getEnvAsFloat("CLASSIFIER_MIN_RSS", -90),
		Window:            getEnvAsInt("CLASSIFIER_WINDOW", 1),
	}
}

func loadAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		ResubscribeMin: getEnvAsDuration("AGGREGATOR_RESUBSCRIBE_MIN", "500ms"),
		ResubscribeMax: getEnvAsDuration("AGGREGATOR_RESUBSCRIBE_MAX", "30s"),
	}
}

func loadIngestConfig() IngestConfig {
	return IngestConfig{
		LegacyPDRThreshold: getEnvAsFloat("LEGACY_PDR_THRESHOLD", 0),
		MaxBodyBytes:       int64(getEnvAsInt("INGEST_MAX_BODY_BYTES", 4<<20)),
	}
}

func loadSecurityConfig() SecurityConfig {
	origins := getEnv("CORS_ALLOWED_ORIGINS", "*")
	methods := getEnv("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")
	headers := getEnv("CORS_ALLOWED_HEADERS", "Content-Type")

	return SecurityConfig{
		CORSAllowedOrigins: strings.Split(origins, ","),
		CORSAllowedMethods: strings.Split(methods, ","),
		CORSAllowedHeaders: strings.Split(headers, ","),
		CORSMaxAge:         getEnvAsDuration("CORS_MAX_AGE", "24h"),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 600),
		EnableRateLimit:    getEnvAsBool("ENABLE_RATE_LIMIT", true),
	}
}

func loadLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:     logger.ParseLevel(getEnv("LOG_LEVEL", "info")),
		Mode:      logger.ParseMode(getEnv("LOG_MODE", "normal")),
		FilePath:  getEnv("LOG_FILE_PATH", ""),
		UseColors: getEnvAsBool("LOG_USE_COLORS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

// DSN returns the lib/pq connection string for the Postgres driver.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Database,
		d.SSLMode,
	)
}

func (m *MQTTConfig) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", m.Broker, m.Port)
}

func (c *Config) Validate() error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Password == "" {
			errors = append(errors, "DB_PASSWORD cannot be empty")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			errors = append(errors, "DB_PORT must be between 1 and 65535")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errors = append(errors, "SQLITE_PATH cannot be empty")
		}
	default:
		errors = append(errors, fmt.Sprintf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver))
	}

	if c.MQTT.Enabled && (c.MQTT.Port < 1 || c.MQTT.Port > 65535) {
		errors = append(errors, "MQTT_PORT must be between 1 and 65535")
	}

	switch c.Classifier.Backend {
	case BackendHTTP:
		if c.Classifier.URL == "" {
			errors = append(errors, "CLASSIFIER_URL cannot be empty for the http backend")
		}
	case BackendSageMaker:
		if c.Classifier.SageMakerEndpoint == "" {
			errors = append(errors, "SAGEMAKER_ENDPOINT cannot be empty for the sagemaker backend")
		}
	case BackendThreshold:
		if c.Classifier.Window < 1 {
			errors = append(errors, "CLASSIFIER_WINDOW must be at least 1")
		}
	case BackendNone:
	default:
		errors = append(errors, fmt.Sprintf("CLASSIFIER_BACKEND must be http, sagemaker, threshold or none, got %q", c.Classifier.Backend))
	}

	if c.Classifier.Backend != BackendNone && c.Classifier.Timeout <= 0 {
		errors = append(errors, "CLASSIFIER_TIMEOUT must be positive")
	}

	if c.Aggregator.ResubscribeMin <= 0 || c.Aggregator.ResubscribeMax < c.Aggregator.ResubscribeMin {
		errors = append(errors, "AGGREGATOR_RESUBSCRIBE_MIN must be positive and not exceed AGGREGATOR_RESUBSCRIBE_MAX")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func (c *Config) Print() {
	fmt.Println("╔══════════════════════════════════════════════════════════╗")
	fmt.Println("║              Link Monitor - Configuration                ║")
	fmt.Println("╚══════════════════════════════════════════════════════════╝")
	fmt.Printf("Environment:     %s\n", c.Server.Environment)
	fmt.Printf("Server:          %s:%d\n", c.Server.Host, c.Server.Port)
	if c.Database.Driver == DriverSQLite {
		fmt.Printf("Database:        sqlite %s\n", c.Database.SQLitePath)
	} else {
		fmt.Printf("Database:        %s:%d/%s\n", c.Database.Host, c.Database.Port, c.Database.Database)
	}
	if c.MQTT.Enabled {
		fmt.Printf("MQTT Broker:     %s:%d (%s)\n", c.MQTT.Broker, c.MQTT.Port, c.MQTT.ReadingsTopic)
	} else {
		fmt.Println("MQTT Broker:     disabled")
	}
	fmt.Printf("Classifier:      %s (timeout %v)\n", c.Classifier.Backend, c.Classifier.Timeout)
	fmt.Println("──────────────────────────────────────────────────────────")
}
