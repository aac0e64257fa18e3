// Package history persists finished sessions to SQLite.
package history

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"git2.jad.ru/MeterRS485/sercd/internal/session"
)

const queueSize = 64

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    remote TEXT NOT NULL,
    device TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER NOT NULL,
    bytes_in INTEGER NOT NULL,
    bytes_out INTEGER NOT NULL,
    reason TEXT,
    error TEXT
);
CREATE INDEX IF NOT EXISTS sessions_started ON sessions(started_at);`

// Store writes sessions on a background goroutine so the redirector loop
// never waits on the disk.
type Store struct {
	db    *sql.DB
	queue chan session.Info
	wg    sync.WaitGroup
	once  sync.Once
	log   *slog.Logger
}

// Open opens or creates the database at path.
func Open(path string, log *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "history: ensure dir")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "history: open")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "history: schema")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Store{
		db:    db,
		queue: make(chan session.Info, queueSize),
		log:   log,
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Record queues info for insertion. It drops the record if the writer
// has fallen behind.
func (s *Store) Record(info session.Info) {
	if s == nil {
		return
	}
	select {
	case s.queue <- info:
	default:
		s.log.Warn("history queue full, session not recorded", "session", info.ID)
	}
}

func (s *Store) run() {
	defer s.wg.Done()
	for info := range s.queue {
		if err := s.insert(info); err != nil {
			s.log.Error("record session", "session", info.ID, "err", err)
		}
	}
}

func (s *Store) insert(info session.Info) error {
	ended := time.Now()
	if info.EndedAt != nil {
		ended = *info.EndedAt
	}
	_, err := s.db.Exec(`
INSERT OR REPLACE INTO sessions (
    id, remote, device, started_at, ended_at, bytes_in, bytes_out, reason, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID,
		info.Remote,
		info.Device,
		info.StartedAt.UTC().UnixMilli(),
		ended.UTC().UnixMilli(),
		info.BytesIn,
		info.BytesOut,
		info.Reason,
		info.Error,
	)
	return errors.Wrap(err, "insert session")
}

// List returns up to limit sessions, newest first.
func (s *Store) List(limit int) ([]session.Info, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
SELECT id, remote, device, started_at, ended_at, bytes_in, bytes_out, reason, error
FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query sessions")
	}
	defer rows.Close()

	var out []session.Info
	for rows.Next() {
		var (
			info            session.Info
			started, ended  int64
			reason, errText sql.NullString
		)
		if err := rows.Scan(&info.ID, &info.Remote, &info.Device, &started, &ended,
			&info.BytesIn, &info.BytesOut, &reason, &errText); err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		info.StartedAt = time.UnixMilli(started).UTC()
		end := time.UnixMilli(ended).UTC()
		info.EndedAt = &end
		info.DurationSecs = end.Sub(info.StartedAt).Seconds()
		info.Reason = reason.String
		info.Error = errText.String
		out = append(out, info)
	}
	return out, errors.Wrap(rows.Err(), "iterate sessions")
}

// Close flushes queued records and closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		close(s.queue)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
