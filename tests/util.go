package testutil

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/trezcool/campus/core"
)

// Logger is a core.Logger keeping every entry in memory.
type Logger struct {
	mu      sync.Mutex
	entries []string
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := level + " " + msg
	for _, arg := range args {
		entry += fmt.Sprintf(" %v", arg)
	}
	l.entries = append(l.entries, entry)
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("FATAL", msg, args) }

func (l *Logger) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// CacheConfig returns a cache configuration whose timer never fires during a test.
func CacheConfig() core.CacheConfig {
	return core.CacheConfig{FlushInterval: time.Hour, BatchSize: 2, HistorySize: 10, DrainTimeout: time.Minute}
}

// Config returns a valid configuration for tests.
func Config(t *testing.T) *core.Config {
	t.Helper()
	return &core.Config{
		AppName:   "campus",
		Env:       "TEST",
		TestMode:  true,
		SecretKey: "test-secret",
		Server: core.ServerConfig{
			Addr:               ":0",
			ShutdownTimeout:    time.Second,
			JWTExpirationDelta: time.Hour,
			DisableReqLogs:     true,
		},
		Database: core.DatabaseConfig{Engine: "postgres", Host: "localhost", Name: "campus_test"},
		Cache:    CacheConfig(),
	}
}
