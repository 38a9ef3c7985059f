package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestAppLogger_LevelFallback(t *testing.T) {
	l := NewAppLogger(&Config{LogLevel: "verbose"})
	assert.Equal(t, zapcore.InfoLevel, l.getLoggerLevel())

	l = NewAppLogger(&Config{LogLevel: "debug"})
	assert.Equal(t, zapcore.DebugLevel, l.getLoggerLevel())
}

func TestAppLogger_With(t *testing.T) {
	l := NewAppLogger(&Config{DevMode: true, Encoder: "console"})
	l.InitLogger()

	child := l.With(zap.String("propertyId", "12345"))
	assert.NotNil(t, child.Logger())
	assert.NotSame(t, l.Logger(), child.Logger())
	child.Infof("stored %d images", 2)
}
