package database

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/customeros/imagestack/config"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
)

func TestNewConnection_InvalidConfig(t *testing.T) {
	cases := map[string]*config.DatabaseConfig{
		"nil":          nil,
		"missing host": {Port: "5432", User: "u", Password: "p", DBName: "d", SSLMode: "disable"},
		"bad port":     {Host: "h", Port: "abc", User: "u", Password: "p", DBName: "d", SSLMode: "disable"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			db, err := NewConnection(cfg)
			require.Error(t, err)
			require.Nil(t, db)
			require.Equal(t, imagestack_errors.KindConfig, imagestack_errors.KindOf(err))
		})
	}
}

func TestLogLevel(t *testing.T) {
	require.Equal(t, logger.Silent, logLevel("silent"))
	require.Equal(t, logger.Error, logLevel("ERROR"))
	require.Equal(t, logger.Info, logLevel("Info"))
	require.Equal(t, logger.Warn, logLevel(""))
}
