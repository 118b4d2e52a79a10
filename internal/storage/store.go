package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	pragmaForeignKeysOn = `PRAGMA foreign_keys=ON`
	pragmaSecureDelete  = `PRAGMA secure_delete=ON`
)

// Store is the in-memory relational vault. Every public operation runs under a
// single mutex, so a Store may be shared between goroutines.
type Store struct {
	db   *sql.DB
	name string
	mu   *sync.Mutex
	now  func() time.Time

	Targets     TargetRepository
	Credentials CredentialRepository
}

type Option func(*Store)

// WithClock overrides the timestamp source used for new credentials.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open creates an empty in-memory database with no schema. Call InitSchema
// before using the repositories.
func Open(opts ...Option) (*Store, error) {
	name := "gpgvault-" + uuid.NewString()
	// Each Store gets its own named shared-cache database; a single pooled
	// connection keeps it alive until Close.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(ON)", name)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := configureSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &Store{
		db:   db,
		name: name,
		mu:   &sync.Mutex{},
		now:  nowUTC,
	}
	for _, opt := range opts {
		opt(store)
	}
	store.Targets = &targetRepository{db: db, mu: store.mu, now: store.now}
	store.Credentials = &credentialRepository{db: db, mu: store.mu, now: store.now}
	return store, nil
}

// InitSchema creates the vault tables. It fails with
// ErrSchemaAlreadyInitialized when the store already carries a schema.
func (s *Store) InitSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := readSchemaVersion(ctx, s.db)
	if err != nil {
		return err
	}
	if current != 0 {
		return fmt.Errorf("%w: version %d", ErrSchemaAlreadyInitialized, current)
	}
	return RunMigrations(ctx, s.db, DefaultMigrations())
}

func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readSchemaVersion(ctx, s.db)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Close()
	s.db = nil
	return err
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{pragmaForeignKeysOn, pragmaSecureDelete}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("configure sqlite %q: %w", stmt, err)
		}
	}
	return nil
}
