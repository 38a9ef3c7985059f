package database

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/customeros/imagestack/config"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
)

func NewConnection(dbConfig *config.DatabaseConfig) (*gorm.DB, error) {
	if err := validateConfig(dbConfig); err != nil {
		return nil, err
	}

	portInt, err := strconv.Atoi(dbConfig.Port)
	if err != nil {
		return nil, imagestack_errors.Config("database.NewConnection", errors.Wrap(err, "invalid port number"))
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host, portInt, dbConfig.User, dbConfig.Password, dbConfig.DBName, dbConfig.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel(dbConfig.LogLevel)),
	})
	if err != nil {
		return nil, imagestack_errors.Transient("database.NewConnection", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConn)
	sqlDB.SetMaxOpenConns(dbConfig.MaxConn)
	sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return db, nil
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToUpper(level) {
	case "SILENT":
		return logger.Silent
	case "ERROR":
		return logger.Error
	case "INFO":
		return logger.Info
	default:
		return logger.Warn
	}
}

func validateConfig(cfg *config.DatabaseConfig) error {
	var problem string
	switch {
	case cfg == nil:
		problem = "database config is nil"
	case cfg.Host == "":
		problem = "database host config is empty"
	case cfg.Port == "":
		problem = "database port config is empty"
	case cfg.User == "":
		problem = "database user config is empty"
	case cfg.Password == "":
		problem = "database password config is empty"
	case cfg.DBName == "":
		problem = "database name config is empty"
	case cfg.SSLMode == "":
		problem = "database SSLMode config is empty"
	default:
		return nil
	}
	return imagestack_errors.Config("database.validateConfig", errors.New(problem))
}
