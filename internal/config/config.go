package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"development"`
	JWTSecret   string `envconfig:"JWT_SECRET" required:"true"`

	// Persistence: "file" keeps per-account JSON records under DataDir;
	// "postgres" is the multi-worker deployment.
	StorageBackend     string `envconfig:"STORAGE_BACKEND" default:"file"`
	DataDir            string `envconfig:"DATA_DIR" default:"./data"`
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING"`

	// Remote account service
	AccountAPIBaseURL    string `envconfig:"ACCOUNT_API_BASE_URL" required:"true"`
	AccountAPIToken      string `envconfig:"ACCOUNT_API_TOKEN" required:"true"`
	AccountAPITimeoutSec int    `envconfig:"ACCOUNT_API_TIMEOUT_SEC" default:"15"`

	// Usage rollover reference timezone
	UsageResetLocation string `envconfig:"USAGE_RESET_LOCATION" default:"UTC"`

	// Pending-verification grace window for unreachable verification
	PendingGraceEnabled bool `envconfig:"PENDING_GRACE_ENABLED" default:"true"`
	PendingGraceHours   int  `envconfig:"PENDING_GRACE_HOURS" default:"24"`

	// Reconciliation loop
	SyncIntervalSec int `envconfig:"SYNC_INTERVAL_SEC" default:"300"`

	// Usage delta push settings
	UsageQueueName           string `envconfig:"USAGE_QUEUE_NAME" default:"usage_delta_queue"`
	UsageDeadLetterQueueName string `envconfig:"USAGE_DEAD_LETTER_QUEUE_NAME" default:"usage_delta_queue_dlq"`
	UsagePollTimeoutSec      int    `envconfig:"USAGE_POLL_TIMEOUT_SEC" default:"30"`
	UsagePushBatchSize       int    `envconfig:"USAGE_PUSH_BATCH_SIZE" default:"10"`
	UsagePushMaxRetries      int    `envconfig:"USAGE_PUSH_MAX_RETRIES" default:"5"`
	UsagePushBackoffInitSec  int    `envconfig:"USAGE_PUSH_BACKOFF_INITIAL_SEC" default:"1"`
	UsagePushBackoffMaxSec   int    `envconfig:"USAGE_PUSH_BACKOFF_MAX_SEC" default:"60"`

	// Stripe (web purchases)
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePriceMonthly  string `envconfig:"STRIPE_PRICE_MONTHLY"`
	StripePriceYearly   string `envconfig:"STRIPE_PRICE_YEARLY"`

	// Google Play RTDN over Pub/Sub
	GCPProjectID         string `envconfig:"GCP_PROJECT_ID"`
	PlayRTDNSubscription string `envconfig:"PLAY_RTDN_SUBSCRIPTION"`

	// Receipt archive (S3-compatible storage); empty bucket disables it
	ReceiptArchiveBucket string `envconfig:"RECEIPT_ARCHIVE_BUCKET"`
	S3URL                string `envconfig:"S3_URL"`
	S3Region             string `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKey          string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey          string `envconfig:"S3_SECRET_KEY"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.StorageBackend != "file" && cfg.StorageBackend != "postgres" {
		return nil, fmt.Errorf("invalid STORAGE_BACKEND %q", cfg.StorageBackend)
	}
	if cfg.StorageBackend == "postgres" && cfg.DBConnectionString == "" {
		return nil, fmt.Errorf("DB_CONNECTION_STRING is required for the postgres backend")
	}
	return &cfg, nil
}

// AccountAPITimeout returns the configured verify/sync call timeout.
func (c *Config) AccountAPITimeout() time.Duration {
	return time.Duration(c.AccountAPITimeoutSec) * time.Second
}
