package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Log identity stored in meta
const currentSchemaVersion = 1

const metaLogID = "log_id"

// Store provides durable storage for Elara logs and output positions.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	id     string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for poll failures. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := newStore(db, opts...)
	if err := s.loadID(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ID returns the store's log identity, minted once when the database was
// created.
func (s *Store) ID() string {
	return s.id
}

func (s *Store) loadID(ctx context.Context) error {
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaLogID).Scan(&s.id)
	if err != nil {
		return fmt.Errorf("load log id: %w", err)
	}
	return nil
}

// LogInfo summarizes one named log.
type LogInfo struct {
	Name    string `json:"name"`
	Records int64  `json:"records"`
	End     int64  `json:"end"`
}

// Logs lists the named logs in the store, ordered by name.
func (s *Store) Logs(ctx context.Context) ([]LogInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT log, COUNT(*), MAX(position)
		FROM log_entries
		GROUP BY log
		ORDER BY log COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	infos := []LogInfo{}
	for rows.Next() {
		var info LogInfo
		if err := rows.Scan(&info.Name, &info.Records, &info.End); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return infos, nil
}

// LoadPosition returns the committed position recorded under name. ok is
// false when nothing was saved yet.
func (s *Store) LoadPosition(ctx context.Context, name string) (position int64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT position FROM output_positions WHERE name = ?`, name,
	).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load position %q: %w", name, err)
	}
	return position, true, nil
}

// SavePosition records the committed position under name.
func (s *Store) SavePosition(ctx context.Context, name string, position int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO output_positions (name, position) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET position = excluded.position
	`, name, position)
	if err != nil {
		return fmt.Errorf("save position %q: %w", name, err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 mints the log identity. INSERT OR IGNORE keeps an identity
// that an earlier, interrupted migration already wrote.
func migrateToV1(db *sql.DB) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)`, metaLogID, id.String()); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
