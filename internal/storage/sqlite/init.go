package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the jobs table if it doesn't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Serialized writes: the supervisor, dispatcher and HTTP handlers all
	// mutate the same collection from concurrent goroutines.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS download_jobs (
		id INTEGER PRIMARY KEY,
		identifier TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL,
		media_type TEXT NOT NULL DEFAULT 'other',
		status TEXT NOT NULL DEFAULT 'queued',
		progress INTEGER,
		error TEXT,
		started_at TEXT,
		completed_at TEXT,
		worker_pid INTEGER
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
