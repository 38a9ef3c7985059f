package config

import (
	"time"

	"github.com/customeros/imagestack/internal/enum"
)

type AppConfig struct {
	APIPort     string `env:"PORT" envDefault:"12222"`
	APIKey      string `env:"API_KEY"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	PodName     string `env:"POD_NAME" envDefault:"local"`
	Namespace   string `env:"POD_NAMESPACE" envDefault:"default"`
	LocalDev    bool   `env:"LOCAL_DEV" envDefault:"false"`
}

type DatabaseConfig struct {
	Host            string `env:"POSTGRES_HOST"`
	Port            string `env:"POSTGRES_PORT" envDefault:"5432"`
	User            string `env:"POSTGRES_USER"`
	DBName          string `env:"POSTGRES_DB_NAME"`
	Password        string `env:"POSTGRES_PASSWORD"`
	MaxConn         int    `env:"POSTGRES_DB_MAX_CONN" envDefault:"25"`
	MaxIdleConn     int    `env:"POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
}

type AWSConfig struct {
	Region          string `env:"AWS_REGION" envDefault:"eu-north-1"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"AWS_SECRET_ACCESS_KEY"`
	Endpoint        string `env:"AWS_ENDPOINT"`
}

type R2StorageConfig struct {
	AccountID       string `env:"CLOUDFLARE_R2_ACCOUNT_ID"`
	AccessKeyID     string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET"`
}

type StoreConfig struct {
	Backend            enum.PropertyStoreBackend `env:"PROPERTY_STORE_BACKEND" envDefault:"postgres"`
	PropertyTable      string                    `env:"DYNAMODB_PROPERTY_TABLE" envDefault:"HemnetProperties"`
	CursorTable        string                    `env:"DYNAMODB_CURSOR_TABLE" envDefault:"ImagestackArchiverCursors"`
	MaxUpsertConflicts int                       `env:"DYNAMODB_UPSERT_MAX_CONFLICTS" envDefault:"5"`
	MaxImages          int                       `env:"MAX_IMAGES_PER_PROPERTY" envDefault:"200"`
	CallTimeout        time.Duration             `env:"STORE_CALL_TIMEOUT" envDefault:"10s"`
}

type BlobArchiveConfig struct {
	Backend         enum.BlobArchiveBackend `env:"BLOB_ARCHIVE_BACKEND" envDefault:"s3"`
	Bucket          string                  `env:"BLOB_BUCKET" envDefault:"hemnet-property-images"`
	RetentionDays   int                     `env:"BLOB_RETENTION_DAYS" envDefault:"120"`
	EnsureRetention bool                    `env:"BLOB_ENSURE_RETENTION" envDefault:"true"`
	HealDangling    bool                    `env:"BLOB_HEAL_DANGLING" envDefault:"true"`
}

type NotificationConfig struct {
	Backend         enum.NotifyBackend `env:"NOTIFY_BACKEND" envDefault:"ses"`
	Enabled         bool               `env:"NOTIFY_ENABLED" envDefault:"true"`
	FromAddress     string             `env:"NOTIFY_FROM_ADDRESS,required"`
	ToAddresses     []string           `env:"NOTIFY_TO_ADDRESSES,required" envSeparator:","`
	SubjectFallback string             `env:"NOTIFY_SUBJECT_FALLBACK" envDefault:"Property images"`
	AttachImages    bool               `env:"NOTIFY_ATTACH_IMAGES" envDefault:"true"`
	MaxInline       int                `env:"NOTIFY_MAX_INLINE_IMAGES" envDefault:"50"`
	Timeout         time.Duration      `env:"NOTIFY_TIMEOUT" envDefault:"30s"`
}

type SMTPConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	User     string `env:"SMTP_USER"`
	Password string `env:"SMTP_PASSWORD"`
}

type MailIngestConfig struct {
	PropertyIDRule          enum.PropertyIDRule `env:"PROPERTY_ID_RULE" envDefault:"body"`
	PropertyIDPattern       string              `env:"PROPERTY_ID_PATTERN" envDefault:"https://bilder.hemnet.se/images/itemgallery.+?([a-z0-9]+).jpg"`
	PropertyIDValidPattern  string              `env:"PROPERTY_ID_VALID_PATTERN" envDefault:"^[A-Za-z0-9_-]{1,100}$"`
	FetchLinkedImages       bool                `env:"MAIL_FETCH_LINKED_IMAGES" envDefault:"true"`
	RequireExistingProperty bool                `env:"MAIL_REQUIRE_EXISTING_PROPERTY" envDefault:"false"`
	MaxMessageBytes         int                 `env:"MAIL_MAX_MESSAGE_BYTES" envDefault:"41943040"`
}

type InboxConfig struct {
	Host        string        `env:"IMAP_HOST"`
	Port        int           `env:"IMAP_PORT" envDefault:"993"`
	TLS         bool          `env:"IMAP_TLS" envDefault:"true"`
	Username    string        `env:"IMAP_USERNAME"`
	Password    string        `env:"IMAP_PASSWORD"`
	Folder      string        `env:"IMAP_FOLDER" envDefault:"INBOX"`
	MaxMessages int           `env:"IMAP_MAX_MESSAGES" envDefault:"50"`
	DialTimeout time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
}

type ArchiverConfig struct {
	SubscriptionID   string        `env:"FEED_SUBSCRIPTION_ID,required"`
	PageSize         int           `env:"ARCHIVER_PAGE_SIZE" envDefault:"10"`
	MaxEntryAttempts int           `env:"ARCHIVER_MAX_ENTRY_ATTEMPTS" envDefault:"5"`
	RunTimeout       time.Duration `env:"ARCHIVER_RUN_TIMEOUT" envDefault:"4m"`
	StopMargin       time.Duration `env:"ARCHIVER_STOP_MARGIN" envDefault:"30s"`
}

type FeedConfig struct {
	BaseURL  string        `env:"FEED_BASE_URL"`
	APIToken string        `env:"FEED_API_TOKEN"`
	Timeout  time.Duration `env:"FEED_TIMEOUT" envDefault:"30s"`
}

type FetchConfig struct {
	Timeout         time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	MaxBytes        int64         `env:"FETCH_MAX_BYTES" envDefault:"20971520"`
	UserAgent       string        `env:"FETCH_USER_AGENT" envDefault:"imagestack/1.0"`
	ImageURLPattern string        `env:"FETCH_IMAGE_URL_PATTERN" envDefault:"^https://bilder\\.hemnet\\.se/images/itemgallery"`
}

type RetryConfig struct {
	MaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	MinBackoff  time.Duration `env:"RETRY_MIN_BACKOFF" envDefault:"200ms"`
	MaxBackoff  time.Duration `env:"RETRY_MAX_BACKOFF" envDefault:"5s"`
	Factor      float64       `env:"RETRY_BACKOFF_FACTOR" envDefault:"2"`
}
