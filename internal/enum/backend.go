package enum

type PropertyStoreBackend string

const (
	PropertyStorePostgres PropertyStoreBackend = "postgres"
	PropertyStoreDynamoDB PropertyStoreBackend = "dynamodb"
	PropertyStoreMemory   PropertyStoreBackend = "memory"
)

type BlobArchiveBackend string

const (
	BlobArchiveS3     BlobArchiveBackend = "s3"
	BlobArchiveR2     BlobArchiveBackend = "r2"
	BlobArchiveMemory BlobArchiveBackend = "memory"
)

type NotifyBackend string

const (
	NotifySES  NotifyBackend = "ses"
	NotifySMTP NotifyBackend = "smtp"
	NotifyNone NotifyBackend = "none"
)

type PropertyIDRule string

const (
	PropertyIDRuleRecipient PropertyIDRule = "recipient"
	PropertyIDRuleSubject   PropertyIDRule = "subject"
	PropertyIDRuleBody      PropertyIDRule = "body"
	PropertyIDRuleChain     PropertyIDRule = "chain"
)
