// Package logging provides the shared zap logger. Components take a
// *zap.Logger through their constructors; the package-level accessors exist
// for main and tests.
package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orneryd/bifrost/pkg/config"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
)

// Init builds the global logger from the logging section of the
// configuration. Safe to call more than once; the last call wins.
func Init(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if strings.ToLower(cfg.Format) == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	built, err := zc.Build()
	if err != nil {
		return nil, err
	}

	mu.Lock()
	logger = built
	mu.Unlock()
	return built, nil
}

// L returns the global logger. Before Init it is a nop logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// Sync flushes buffered log entries. Call before exit.
func Sync() error {
	return L().Sync()
}
