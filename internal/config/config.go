package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS Services
	AWSRegion     string
	SQSRegion     string
	SNSRegion     string
	EventQueueURL string // poller publishes here unless EventTopicARN is set; notifier consumes here
	EventTopicARN string
	AWSEndpoint   string // LocalStack and similar; empty uses the real endpoints

	MailTransport       string // "ses" or "log"
	SESFromEmail        string
	SESConfigurationSet string
	APIBase             string // prefix for unsubscribe links

	// Upstream enrollment API
	EnrollBaseURL   string
	EnrollUserAgent string
	EnrollTimeout   time.Duration

	// Poller
	PollInterval time.Duration
	RunBudget    time.Duration
	PollTerm     string
	ScanPageSize int

	// SES circuit breaker
	BreakerMaxFailures int
	BreakerRecovery    time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first if present; variables
// already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "seatwatch",
		DBName:    "seatwatch",
		DBSSLMode: "disable",

		// Redis defaults
		RedisHost: "localhost",
		RedisPort: 6379,

		AWSRegion:     "us-east-2",
		MailTransport: "ses",
		SESFromEmail:  "alerts@seatwatch.local",
		APIBase:       "http://localhost:8080/",

		EnrollTimeout: 10 * time.Second,

		PollInterval: 5 * time.Minute,
		ScanPageSize: 500,

		BreakerMaxFailures: 5,
		BreakerRecovery:    30 * time.Second,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	// SQS and SNS default to the main AWS region
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	cfg.AWSEndpoint = os.Getenv("AWS_ENDPOINT_URL")
	cfg.EventQueueURL = os.Getenv("EVENT_QUEUE_URL")
	cfg.EventTopicARN = os.Getenv("EVENT_TOPIC_ARN")

	switch t := os.Getenv("MAIL_TRANSPORT"); t {
	case "":
	case "ses", "log":
		cfg.MailTransport = t
	default:
		return nil, fmt.Errorf("invalid MAIL_TRANSPORT: %q (want ses or log)", t)
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	cfg.SESConfigurationSet = os.Getenv("SES_CONFIGURATION_SET")

	if base := os.Getenv("API_BASE"); base != "" {
		cfg.APIBase = base
	}
	if cfg.APIBase[len(cfg.APIBase)-1] != '/' {
		cfg.APIBase += "/"
	}

	// Upstream
	cfg.EnrollBaseURL = os.Getenv("ENROLL_BASE_URL")
	cfg.EnrollUserAgent = os.Getenv("ENROLL_USER_AGENT")

	if cfg.EnrollTimeout, err = durationEnv("ENROLL_TIMEOUT", cfg.EnrollTimeout); err != nil {
		return nil, err
	}

	// Poller
	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}

	if cfg.RunBudget, err = durationEnv("RUN_BUDGET", cfg.PollInterval); err != nil {
		return nil, err
	}

	cfg.PollTerm = os.Getenv("POLL_TERM")

	if cfg.ScanPageSize, err = intEnv("SCAN_PAGE_SIZE", cfg.ScanPageSize); err != nil {
		return nil, err
	}

	// Breaker
	if cfg.BreakerMaxFailures, err = intEnv("BREAKER_MAX_FAILURES", cfg.BreakerMaxFailures); err != nil {
		return nil, err
	}

	if cfg.BreakerRecovery, err = durationEnv("BREAKER_RECOVERY", cfg.BreakerRecovery); err != nil {
		return nil, err
	}

	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// durationEnv accepts Go durations ("90s") or a bare number of seconds.
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
