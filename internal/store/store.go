package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// DefaultFileName is the database file created inside the data directory.
const DefaultFileName = "resumemind.db"

// Store wraps the local SQLite database. Every operation runs under one
// process-wide mutex so pointer swaps are never observed half-done.
type Store struct {
	db     *sqlx.DB
	path   string
	cipher *Cipher
	mu     sync.Mutex
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCipher enables encryption of API keys at rest.
func WithCipher(c *Cipher) Option {
	return func(s *Store) { s.cipher = c }
}

var (
	sharedOnce  sync.Once
	sharedStore *Store
	sharedErr   error
)

// Shared returns the process-wide Store, opening it on first use. Later
// calls ignore their arguments and return the same instance.
func Shared(path string, opts ...Option) (*Store, error) {
	sharedOnce.Do(func() {
		sharedStore, sharedErr = Open(path, opts...)
	})
	return sharedStore, sharedErr
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, &StorageError{Op: "create data dir", Err: err}
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open sqlite", Err: err}
	}
	// A single connection keeps SQLite access serialized at the driver level too.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StorageError{Op: "ping sqlite", Err: err}
	}
	s.db = db

	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("SQLite store opened", zap.String("path", path))
	return s, nil
}

// Migrate applies every embedded .up.sql file that has not run yet, in name order.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return &StorageError{Op: "create schema_migrations", Err: err}
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return &StorageError{Op: "read migrations", Err: err}
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := s.db.GetContext(ctx, &applied,
			`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, f); err != nil {
			return &StorageError{Op: "check migration " + f, Err: err}
		}
		if applied > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return &StorageError{Op: "read migration " + f, Err: err}
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return &StorageError{Op: "begin migration " + f, Err: err}
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			tx.Rollback()
			return &StorageError{Op: "exec migration " + f, Err: err}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			f, time.Now().UnixMicro()); err != nil {
			tx.Rollback()
			return &StorageError{Op: "record migration " + f, Err: err}
		}
		if err := tx.Commit(); err != nil {
			return &StorageError{Op: "commit migration " + f, Err: err}
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// withTx runs fn inside a transaction while holding the store lock.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &StorageError{Op: op, Err: fmt.Errorf("begin tx: %w", err)}
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: op, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
