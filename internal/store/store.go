// Package store provides durable, keyed persistence for the GhostProtocol
// node over SQLite, with atomic multi-statement transactions and a
// migration discipline that never destroys an existing deployment.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ghostmesh/ghostnode/pkg/logging"
)

// Store wraps the single SQLite connection backing the node.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	log    *logging.Logger
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New opens (creating if absent) the node's database and brings its schema
// up to date.
func New(cfg *Config) (*Store, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "ghostnode.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer; a single open connection serializes
	// every read and write.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:     db,
		dbPath: dbPath,
		log:    logging.GetDefault().Component("store"),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection, for components that need raw SQL
// beyond the per-entity helpers.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a single atomic transaction. If fn returns an
// error, the transaction is rolled back and the error is returned
// unchanged; otherwise the transaction is committed.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS wallets (
	wallet_id TEXT PRIMARY KEY,
	username TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	balance REAL NOT NULL DEFAULT 0,
	last_mined INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS blocks (
	block_index INTEGER PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	previous_hash TEXT NOT NULL,
	block_hash TEXT NOT NULL,
	proof INTEGER NOT NULL,
	miner TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	sender TEXT NOT NULL,
	recipient TEXT NOT NULL,
	amount REAL NOT NULL,
	timestamp INTEGER NOT NULL,
	block_index INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_transactions_block_index ON transactions(block_index);

CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	content BLOB,
	size INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	expiry_at INTEGER NOT NULL,
	keywords TEXT
);
CREATE INDEX IF NOT EXISTS idx_assets_owner ON assets(owner);
CREATE INDEX IF NOT EXISTS idx_assets_expiry ON assets(expiry_at);
CREATE INDEX IF NOT EXISTS idx_assets_name ON assets(name);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	sender TEXT NOT NULL,
	recipient TEXT NOT NULL,
	content TEXT NOT NULL,
	asset_id TEXT,
	timestamp INTEGER NOT NULL,
	block_index INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, recipient);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);

CREATE TABLE IF NOT EXISTS contracts (
	address TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	source TEXT NOT NULL,
	state TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS peers (
	ip TEXT PRIMARY KEY,
	last_seen INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_peers_last_seen ON peers(last_seen);

CREATE TABLE IF NOT EXISTS fees (
	kind TEXT PRIMARY KEY,
	amount REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS friends (
	wallet_a TEXT NOT NULL,
	wallet_b TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (wallet_a, wallet_b)
);
`

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.runMigrations()
}

// columnMigration describes a column that must exist on table, added with
// the given SQL type/default clause when absent.
type columnMigration struct {
	table  string
	column string
	decl   string
}

// runMigrations checks, for every column added after initial release,
// whether it is present and adds it with a default if not — so that
// upgrading an existing deployment never loses data.
func (s *Store) runMigrations() error {
	migrations := []columnMigration{
		// Example shape for future additions; no post-release columns yet.
	}

	for _, m := range migrations {
		has, err := s.hasColumn(m.table, m.column)
		if err != nil {
			return fmt.Errorf("checking column %s.%s: %w", m.table, m.column, err)
		}
		if has {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.decl)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("adding column %s.%s: %w", m.table, m.column, err)
		}
		s.log.Info("migrated schema", "table", m.table, "column", m.column)
	}
	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
