package replaystore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLStore persists replay history in a `replay_entries` table, using a
// driverName/dsn-to-sql.Open dispatch and a go:embed migrations/*.sql
// schema-bootstrap pattern, down to the single table this package needs.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore opens a SQL database using driverName ("sqlite3" or
// "postgres") and dsn, then applies the embedded schema migration.
func NewSQLStore(driverName, dsn string) (*SQLStore, error) {
	var openDSN string
	switch driverName {
	case "sqlite3":
		if dsn == "" {
			dsn = "fluxpipe-replaystore.db"
		}
		openDSN = dsn + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	case "postgres":
		openDSN = dsn
	default:
		return nil, fmt.Errorf("replaystore: unsupported sql driver %q", driverName)
	}

	db, err := sql.Open(driverName, openDSN)
	if err != nil {
		return nil, fmt.Errorf("replaystore: open %s: %w", driverName, err)
	}
	if driverName == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("replaystore: ping %s: %w", driverName, err)
	}

	store := &SQLStore{db: db, driver: driverName}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) migrate() error {
	content, err := migrationsFS.ReadFile("migrations/001_initial_schema.sql")
	if err != nil {
		return fmt.Errorf("replaystore: read migration: %w", err)
	}
	if _, err := s.db.Exec(string(content)); err != nil {
		return fmt.Errorf("replaystore: apply migration: %w", err)
	}
	return nil
}

func (s *SQLStore) placeholder(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) Append(ctx context.Context, subjectID string, value []byte, ts time.Time) (int64, error) {
	var seq int64
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(seq), -1) + 1 FROM replay_entries WHERE subject_id = %s", s.placeholder(1)),
		subjectID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("replaystore: next seq: %w", err)
	}

	query := fmt.Sprintf(
		"INSERT INTO replay_entries (subject_id, seq, value, ts) VALUES (%s, %s, %s, %s)",
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))
	if _, err := s.db.ExecContext(ctx, query, subjectID, seq, value, ts); err != nil {
		return 0, fmt.Errorf("replaystore: insert entry: %w", err)
	}
	return seq, nil
}

func (s *SQLStore) Replay(ctx context.Context, subjectID string, bufferSize int, windowTime time.Duration, now time.Time) ([]Entry, error) {
	query := fmt.Sprintf(
		"SELECT seq, value, ts FROM replay_entries WHERE subject_id = %s AND ts > %s ORDER BY seq ASC",
		s.placeholder(1), s.placeholder(2))

	floor := time.Time{}
	if windowTime > 0 {
		floor = now.Add(-windowTime)
	}

	rows, err := s.db.QueryContext(ctx, query, subjectID, floor)
	if err != nil {
		return nil, fmt.Errorf("replaystore: query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Seq, &e.Value, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("replaystore: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("replaystore: iterate entries: %w", err)
	}

	if bufferSize > 0 && len(entries) > bufferSize {
		entries = entries[len(entries)-bufferSize:]
	}
	return entries, nil
}

func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("replaystore: close %s: %w", s.driver, err)
	}
	return nil
}
