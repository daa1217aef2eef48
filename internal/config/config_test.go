package config

import (
	"strings"
	"testing"
	"time"
)

var keys = []string{
	"PORT", "LOG_LEVEL", "ENV",
	"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
	"REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB",
	"AWS_REGION", "AWS_ENDPOINT_URL", "SQS_REGION", "SNS_REGION", "EVENT_QUEUE_URL", "EVENT_TOPIC_ARN",
	"MAIL_TRANSPORT", "SES_FROM_EMAIL", "SES_CONFIGURATION_SET", "API_BASE",
	"ENROLL_BASE_URL", "ENROLL_USER_AGENT", "ENROLL_TIMEOUT",
	"POLL_INTERVAL", "RUN_BUDGET", "POLL_TERM", "SCAN_PAGE_SIZE",
	"BREAKER_MAX_FAILURES", "BREAKER_RECOVERY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}
	if cfg.Env != "development" {
		t.Errorf("expected env 'development', got %s", cfg.Env)
	}
	if cfg.SQSRegion != cfg.AWSRegion || cfg.SNSRegion != cfg.AWSRegion {
		t.Errorf("service regions should default to AWS_REGION, got sqs=%s sns=%s", cfg.SQSRegion, cfg.SNSRegion)
	}
	if cfg.PollInterval != 5*time.Minute || cfg.RunBudget != cfg.PollInterval {
		t.Errorf("unexpected poll timing: interval=%v budget=%v", cfg.PollInterval, cfg.RunBudget)
	}
	if cfg.ScanPageSize != 500 {
		t.Errorf("expected page size 500, got %d", cfg.ScanPageSize)
	}
	if cfg.BreakerMaxFailures != 5 || cfg.BreakerRecovery != 30*time.Second {
		t.Errorf("unexpected breaker defaults: %d %v", cfg.BreakerMaxFailures, cfg.BreakerRecovery)
	}
	if cfg.MailTransport != "ses" {
		t.Errorf("expected ses transport, got %q", cfg.MailTransport)
	}
	if !strings.HasSuffix(cfg.APIBase, "/") {
		t.Errorf("API base should end with a slash: %q", cfg.APIBase)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("ENV", "production")
	t.Setenv("AWS_REGION", "us-west-2")
	t.Setenv("SQS_REGION", "us-east-1")
	t.Setenv("EVENT_TOPIC_ARN", "arn:aws:sns:us-west-2:1:seat-events")
	t.Setenv("API_BASE", "https://api.seatwatch.dev")
	t.Setenv("POLL_INTERVAL", "2m")
	t.Setenv("RUN_BUDGET", "90")
	t.Setenv("POLL_TERM", "1252")
	t.Setenv("SCAN_PAGE_SIZE", "100")
	t.Setenv("ENROLL_TIMEOUT", "15s")
	t.Setenv("BREAKER_RECOVERY", "1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}
	if cfg.SQSRegion != "us-east-1" || cfg.SNSRegion != "us-west-2" {
		t.Errorf("unexpected regions sqs=%s sns=%s", cfg.SQSRegion, cfg.SNSRegion)
	}
	if cfg.EventTopicARN != "arn:aws:sns:us-west-2:1:seat-events" {
		t.Errorf("unexpected topic %q", cfg.EventTopicARN)
	}
	if cfg.APIBase != "https://api.seatwatch.dev/" {
		t.Errorf("expected trailing slash appended, got %q", cfg.APIBase)
	}
	if cfg.PollInterval != 2*time.Minute {
		t.Errorf("expected 2m interval, got %v", cfg.PollInterval)
	}
	if cfg.RunBudget != 90*time.Second {
		t.Errorf("bare numbers are seconds, got %v", cfg.RunBudget)
	}
	if cfg.PollTerm != "1252" || cfg.ScanPageSize != 100 {
		t.Errorf("unexpected poll scope %q %d", cfg.PollTerm, cfg.ScanPageSize)
	}
	if cfg.EnrollTimeout != 15*time.Second || cfg.BreakerRecovery != time.Minute {
		t.Errorf("unexpected durations %v %v", cfg.EnrollTimeout, cfg.BreakerRecovery)
	}
}

func TestLoad_RunBudgetFollowsInterval(t *testing.T) {
	clearEnv(t)
	t.Setenv("POLL_INTERVAL", "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.RunBudget != 10*time.Minute {
		t.Errorf("budget should default to the interval, got %v", cfg.RunBudget)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "eighty"},
		{"DB_PORT", "x"},
		{"REDIS_DB", "zero"},
		{"SCAN_PAGE_SIZE", "lots"},
		{"POLL_INTERVAL", "soon"},
		{"RUN_BUDGET", "5 minutes"},
		{"BREAKER_MAX_FAILURES", "many"},
		{"MAIL_TRANSPORT", "smtp"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "invalid "+tt.key) {
				t.Errorf("error should name the key, got %v", err)
			}
		})
	}
}
