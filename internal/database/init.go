package database

import (
	"gorm.io/gorm"

	"github.com/customeros/imagestack/config"
)

// InitImagestackDatabase opens the Postgres connection used by the postgres store backend.
func InitImagestackDatabase(dbConfig *config.DatabaseConfig) (*gorm.DB, error) {
	return NewConnection(dbConfig)
}
