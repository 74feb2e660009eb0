package quota

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"mediafetch/internal/file"
)

// SQLiteStore keeps the committed per-day counters in a local sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the usage database under dataDir.
func OpenStore(dataDir string) (*SQLiteStore, error) {
	if err := file.EnsureDir(dataDir); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "usage.db"))
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping usage db: %w", err)
	}
	// WAL and a busy timeout keep concurrent readers cheap; failure here is
	// not fatal.
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`)

	const schema = `
	CREATE TABLE IF NOT EXISTS daily_usage (
		day   TEXT NOT NULL,
		kind  TEXT NOT NULL,
		bytes INTEGER NOT NULL,
		PRIMARY KEY (day, kind)
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create usage table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(day string) (map[Kind]int64, error) {
	rows, err := s.db.Query(`SELECT kind, bytes FROM daily_usage WHERE day = ?`, day)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	usage := make(map[Kind]int64)
	for rows.Next() {
		var kind string
		var bytes int64
		if err := rows.Scan(&kind, &bytes); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		usage[Kind(kind)] = bytes
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage rows: %w", err)
	}
	return usage, nil
}

func (s *SQLiteStore) Save(day string, kind Kind, bytes int64) error {
	_, err := s.db.Exec(
		`INSERT INTO daily_usage (day, kind, bytes) VALUES (?, ?, ?)
		 ON CONFLICT(day, kind) DO UPDATE SET bytes = excluded.bytes`,
		day, string(kind), bytes)
	if err != nil {
		return fmt.Errorf("upsert usage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
