package config

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/customeros/imagestack/internal/enum"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/tracing"
)

type Config struct {
	AppConfig          *AppConfig
	Logger             *logger.Config
	Tracing            *tracing.JaegerConfig
	DatabaseConfig     *DatabaseConfig
	AWSConfig          *AWSConfig
	R2StorageConfig    *R2StorageConfig
	StoreConfig        *StoreConfig
	BlobArchiveConfig  *BlobArchiveConfig
	NotificationConfig *NotificationConfig
	SMTPConfig         *SMTPConfig
	MailIngestConfig   *MailIngestConfig
	InboxConfig        *InboxConfig
	ArchiverConfig     *ArchiverConfig
	FeedConfig         *FeedConfig
	FetchConfig        *FetchConfig
	RetryConfig        *RetryConfig
}

func newConfig() *Config {
	return &Config{
		AppConfig:          &AppConfig{},
		Logger:             &logger.Config{},
		Tracing:            &tracing.JaegerConfig{},
		DatabaseConfig:     &DatabaseConfig{},
		AWSConfig:          &AWSConfig{},
		R2StorageConfig:    &R2StorageConfig{},
		StoreConfig:        &StoreConfig{},
		BlobArchiveConfig:  &BlobArchiveConfig{},
		NotificationConfig: &NotificationConfig{},
		SMTPConfig:         &SMTPConfig{},
		MailIngestConfig:   &MailIngestConfig{},
		InboxConfig:        &InboxConfig{},
		ArchiverConfig:     &ArchiverConfig{},
		FeedConfig:         &FeedConfig{},
		FetchConfig:        &FetchConfig{},
		RetryConfig:        &RetryConfig{},
	}
}

// InitConfig reads .env (if present) and the process environment.
func InitConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}
	return Load(nil)
}

// Load parses configuration from environ, or from the process environment when environ is nil,
// and validates it. The returned Config is not modified afterwards.
func Load(environ map[string]string) (*Config, error) {
	cfg := newConfig()

	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.Parse(cfg, opts); err != nil {
		return nil, imagestack_errors.Config("config.Load", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	// notification addresses
	if v := mailvalidate.ValidateEmailSyntax(c.NotificationConfig.FromAddress); !v.IsValid {
		add("NOTIFY_FROM_ADDRESS %q is not a valid address", c.NotificationConfig.FromAddress)
	}
	recipients := 0
	for _, addr := range c.NotificationConfig.ToAddresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		recipients++
		if v := mailvalidate.ValidateEmailSyntax(addr); !v.IsValid {
			add("NOTIFY_TO_ADDRESSES contains invalid address %q", addr)
		}
	}
	if recipients == 0 {
		add("NOTIFY_TO_ADDRESSES must list at least one address")
	}

	if strings.TrimSpace(c.ArchiverConfig.SubscriptionID) == "" {
		add("FEED_SUBSCRIPTION_ID is empty")
	}
	if c.ArchiverConfig.PageSize <= 0 {
		add("ARCHIVER_PAGE_SIZE must be positive")
	}
	if c.ArchiverConfig.MaxEntryAttempts <= 0 {
		add("ARCHIVER_MAX_ENTRY_ATTEMPTS must be positive")
	}
	if c.RetryConfig.MaxAttempts <= 0 {
		add("RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.BlobArchiveConfig.RetentionDays <= 0 {
		add("BLOB_RETENTION_DAYS must be positive")
	}

	switch c.StoreConfig.Backend {
	case enum.PropertyStorePostgres:
		d := c.DatabaseConfig
		if d.Host == "" || d.User == "" || d.DBName == "" || d.Password == "" {
			add("postgres backend needs POSTGRES_HOST, POSTGRES_USER, POSTGRES_DB_NAME and POSTGRES_PASSWORD")
		}
	case enum.PropertyStoreDynamoDB:
		if c.StoreConfig.PropertyTable == "" || c.StoreConfig.CursorTable == "" {
			add("dynamodb backend needs DYNAMODB_PROPERTY_TABLE and DYNAMODB_CURSOR_TABLE")
		}
	case enum.PropertyStoreMemory:
	default:
		add("unknown PROPERTY_STORE_BACKEND %q", c.StoreConfig.Backend)
	}

	switch c.BlobArchiveConfig.Backend {
	case enum.BlobArchiveS3:
		if c.BlobArchiveConfig.Bucket == "" {
			add("s3 backend needs BLOB_BUCKET")
		}
	case enum.BlobArchiveR2:
		r2 := c.R2StorageConfig
		if r2.AccountID == "" || r2.AccessKeyID == "" || r2.AccessKeySecret == "" || c.BlobArchiveConfig.Bucket == "" {
			add("r2 backend needs CLOUDFLARE_R2_ACCOUNT_ID, CLOUDFLARE_R2_ACCESS_KEY_ID, CLOUDFLARE_R2_ACCESS_KEY_SECRET and BLOB_BUCKET")
		}
	case enum.BlobArchiveMemory:
	default:
		add("unknown BLOB_ARCHIVE_BACKEND %q", c.BlobArchiveConfig.Backend)
	}

	switch c.NotificationConfig.Backend {
	case enum.NotifySES, enum.NotifyNone:
	case enum.NotifySMTP:
		if c.SMTPConfig.Host == "" {
			add("smtp backend needs SMTP_HOST")
		}
	default:
		add("unknown NOTIFY_BACKEND %q", c.NotificationConfig.Backend)
	}

	switch c.MailIngestConfig.PropertyIDRule {
	case enum.PropertyIDRuleRecipient:
	case enum.PropertyIDRuleSubject, enum.PropertyIDRuleBody, enum.PropertyIDRuleChain:
		if _, err := regexp.Compile(c.MailIngestConfig.PropertyIDPattern); err != nil {
			add("PROPERTY_ID_PATTERN does not compile: %v", err)
		}
	default:
		add("unknown PROPERTY_ID_RULE %q", c.MailIngestConfig.PropertyIDRule)
	}
	if _, err := regexp.Compile(c.MailIngestConfig.PropertyIDValidPattern); err != nil {
		add("PROPERTY_ID_VALID_PATTERN does not compile: %v", err)
	}
	if c.InboxConfig.Host != "" {
		if c.InboxConfig.Username == "" {
			add("IMAP_HOST is set but IMAP_USERNAME is empty")
		}
		if c.InboxConfig.MaxMessages <= 0 {
			add("IMAP_MAX_MESSAGES must be positive")
		}
	}
	if c.FetchConfig.ImageURLPattern != "" {
		if _, err := regexp.Compile(c.FetchConfig.ImageURLPattern); err != nil {
			add("FETCH_IMAGE_URL_PATTERN does not compile: %v", err)
		}
	}

	if len(problems) > 0 {
		return imagestack_errors.Config("config.Validate", errors.New(strings.Join(problems, "; ")))
	}
	return nil
}
