package repository

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/awsutil"
	"github.com/customeros/imagestack/internal/enum"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/models"
)

type Repositories struct {
	PropertyImageStore interfaces.PropertyImageStore
	CursorStore        interfaces.CursorStore
}

// InitRepositories selects the store backend. db is only required for the postgres backend.
func InitRepositories(cfg *config.Config, db *gorm.DB) (*Repositories, error) {
	storeCfg := cfg.StoreConfig
	switch storeCfg.Backend {
	case enum.PropertyStorePostgres:
		if db == nil {
			return nil, imagestack_errors.Config("repository.InitRepositories", errors.New("postgres backend requires a database connection"))
		}
		return &Repositories{
			PropertyImageStore: NewPropertyRepository(db, storeCfg.MaxImages),
			CursorStore:        NewCursorRepository(db),
		}, nil
	case enum.PropertyStoreDynamoDB:
		sess, err := awsutil.NewSession(cfg.AWSConfig)
		if err != nil {
			return nil, imagestack_errors.Config("repository.InitRepositories", err)
		}
		return NewDynamoRepositories(dynamodb.New(sess), storeCfg), nil
	case enum.PropertyStoreMemory:
		return &Repositories{
			PropertyImageStore: NewMemoryPropertyRepository(storeCfg.MaxImages),
			CursorStore:        NewMemoryCursorRepository(),
		}, nil
	}
	return nil, imagestack_errors.Config("repository.InitRepositories", errors.Errorf("unknown store backend %q", storeCfg.Backend))
}

func NewDynamoRepositories(client dynamodbiface.DynamoDBAPI, storeCfg *config.StoreConfig) *Repositories {
	return &Repositories{
		PropertyImageStore: NewDynamoPropertyRepository(client, storeCfg.PropertyTable, storeCfg.MaxImages, storeCfg.MaxUpsertConflicts),
		CursorStore:        NewDynamoCursorRepository(client, storeCfg.CursorTable),
	}
}

func MigrateDB(dbConfig *config.DatabaseConfig, imagestackDB *gorm.DB) error {
	db, err := imagestackDB.DB()
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(5)

	err = imagestackDB.AutoMigrate(
		&models.Property{},
		&models.PropertyImage{},
		&models.ArchiverCursor{},
		&models.ArchiverPendingEntry{},
	)

	db.SetMaxIdleConns(dbConfig.MaxIdleConn)
	db.SetMaxOpenConns(dbConfig.MaxConn)
	db.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return err
}

// EnsureDynamoTables creates the property and cursor tables when they do not exist yet.
func EnsureDynamoTables(ctx context.Context, client dynamodbiface.DynamoDBAPI, storeCfg *config.StoreConfig) error {
	tables := map[string]string{
		storeCfg.PropertyTable: dynamoPropertyKey,
		storeCfg.CursorTable:   dynamoCursorKey,
	}
	for table, key := range tables {
		_, err := client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err == nil {
			continue
		}
		if !awsutil.IsResourceNotFound(err) {
			return awsutil.ClassifyError("repository.EnsureDynamoTables", err)
		}
		_, err = client.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
			TableName:   aws.String(table),
			BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
			AttributeDefinitions: []*dynamodb.AttributeDefinition{
				{AttributeName: aws.String(key), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
			},
			KeySchema: []*dynamodb.KeySchemaElement{
				{AttributeName: aws.String(key), KeyType: aws.String(dynamodb.KeyTypeHash)},
			},
		})
		if err != nil {
			return awsutil.ClassifyError("repository.EnsureDynamoTables", err)
		}
	}
	return nil
}

// Migrate prepares the configured store backend: gorm AutoMigrate for postgres, table
// creation for dynamodb.
func Migrate(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	switch cfg.StoreConfig.Backend {
	case enum.PropertyStorePostgres:
		if db == nil {
			return imagestack_errors.Config("repository.Migrate", errors.New("postgres backend requires a database connection"))
		}
		return MigrateDB(cfg.DatabaseConfig, db)
	case enum.PropertyStoreDynamoDB:
		sess, err := awsutil.NewSession(cfg.AWSConfig)
		if err != nil {
			return imagestack_errors.Config("repository.Migrate", err)
		}
		return EnsureDynamoTables(ctx, dynamodb.New(sess), cfg.StoreConfig)
	}
	return nil
}
