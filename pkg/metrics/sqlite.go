package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"jobwatch/pkg/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	started_at  TEXT,
	ended_at    TEXT,
	duration_ms INTEGER,
	timed_out   INTEGER,
	cancelled   INTEGER,
	total       INTEGER,
	submitted   INTEGER,
	succeeded   INTEGER,
	failed      INTEGER,
	timed_out_jobs INTEGER,
	cancelled_jobs INTEGER
);
CREATE TABLE IF NOT EXISTS session_jobs (
	session     TEXT NOT NULL,
	name        TEXT NOT NULL,
	status      TEXT,
	attempts    INTEGER,
	duration_ms INTEGER,
	handle      TEXT,
	note        TEXT,
	PRIMARY KEY (session, name)
);`

// SQLiteEmitter keeps session reports in a sqlite database. Emitting the
// same session again replaces its rows.
type SQLiteEmitter struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteEmitter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteEmitter{db: db}, nil
}

func (e *SQLiteEmitter) Emit(ctx context.Context, r *model.AggregateReport) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO sessions
		(id, started_at, ended_at, duration_ms, timed_out, cancelled, total, submitted, succeeded, failed, timed_out_jobs, cancelled_jobs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Session, r.StartedAt.UTC().Format(time.RFC3339Nano), r.EndedAt.UTC().Format(time.RFC3339Nano),
		r.Duration.Milliseconds(), r.TimedOut, r.Cancelled,
		r.Counts.Total, r.Counts.Submitted, r.Counts.Succeeded, r.Counts.Failed, r.Counts.TimedOut, r.Counts.Cancelled)
	if err != nil {
		return fmt.Errorf("save session %s: %w", r.Session, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM session_jobs WHERE session = ?", r.Session); err != nil {
		return err
	}
	for _, rec := range r.Records {
		_, err := tx.ExecContext(ctx, `INSERT INTO session_jobs
			(session, name, status, attempts, duration_ms, handle, note) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.Session, rec.Name, rec.Status.String(), rec.Attempts, rec.Duration.Milliseconds(), string(rec.Handle), rec.Note)
		if err != nil {
			return fmt.Errorf("save job %s of session %s: %w", rec.Name, r.Session, err)
		}
	}
	return tx.Commit()
}

// SessionRow is one row of the sessions table.
type SessionRow struct {
	ID        string
	Total     int
	Succeeded int
	Failed    int
	TimedOut  bool
	Cancelled bool
}

// Sessions lists stored sessions, newest first.
func (e *SQLiteEmitter) Sessions(ctx context.Context) ([]SessionRow, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT id, total, succeeded, failed, timed_out, cancelled FROM sessions ORDER BY started_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var s SessionRow
		if err := rows.Scan(&s.ID, &s.Total, &s.Succeeded, &s.Failed, &s.TimedOut, &s.Cancelled); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// JobStatuses returns job name -> final status for one session.
func (e *SQLiteEmitter) JobStatuses(ctx context.Context, session string) (map[string]string, error) {
	rows, err := e.db.QueryContext(ctx, "SELECT name, status FROM session_jobs WHERE session = ?", session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, status string
		if err := rows.Scan(&name, &status); err != nil {
			return nil, err
		}
		out[name] = status
	}
	return out, rows.Err()
}

func (e *SQLiteEmitter) Close() error {
	return e.db.Close()
}
