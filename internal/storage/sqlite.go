package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/tillpoint/internal/cache"
	"github.com/Veraticus/tillpoint/internal/common"
	"github.com/Veraticus/tillpoint/internal/secrets"
	"github.com/Veraticus/tillpoint/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage persists terminal configurations in SQLite, with an injected
// cache in front of reads and an injected secret store sealing API keys.
type SQLiteStorage struct {
	db      *sql.DB
	cache   cache.TerminalCache
	secrets service.SecretStore
	logger  *slog.Logger
	now     func() time.Time
	dbPath  string
}

// Option configures SQLiteStorage.
type Option func(*SQLiteStorage)

// WithCache replaces the default in-memory cache.
func WithCache(c cache.TerminalCache) Option {
	return func(s *SQLiteStorage) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithSecrets sets the secret store used for API keys.
func WithSecrets(store service.SecretStore) Option {
	return func(s *SQLiteStorage) {
		if store != nil {
			s.secrets = store
		}
	}
}

// WithLogger sets the storage logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteStorage) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSQLiteStorage creates a new SQLite storage instance. Without
// WithSecrets, API keys are stored as tagged plaintext.
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	plain, err := secrets.NewBox(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStorage{
		db:      db,
		dbPath:  dbPath,
		cache:   cache.NewMemoryCache(),
		secrets: plain,
		logger:  common.ComponentLogger("storage"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if !s.secrets.Available() {
		s.logger.Warn("Secret key not configured, terminal API keys will be stored unencrypted")
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// Cache returns the cache in front of this store.
func (s *SQLiteStorage) Cache() cache.TerminalCache {
	return s.cache
}

var _ service.TerminalStore = (*SQLiteStorage)(nil)
