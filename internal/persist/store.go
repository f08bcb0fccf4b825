// Package persist snapshots the playback queue to SQLite so the last queue
// can be resumed after a restart. Only what resume needs is stored: queue
// entries, selected index, position, and volume. No play history is kept.
package persist

import (
	"database/sql"
	"fmt"
	"time"

	"andante/internal/playback"
	"andante/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Store wraps a *sql.DB holding the resume snapshot. Safe for concurrent use.
type Store struct {
	conn   *sql.DB
	logger *logrus.Logger

	saveStmt      *sql.Stmt
	insertEntry   *sql.Stmt
	clearEntries  *sql.Stmt
	loadStateStmt *sql.Stmt
}

// NewStore opens (or creates) the snapshot database at path.
func NewStore(path string) (*Store, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	conn, err := sql.Open("sqlite3", path+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	// A single writer coalescing snapshots needs no pool.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=memory;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	s := &Store{conn: conn, logger: logger}
	if err := s.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", path).Info("Snapshot store initialized")
	return s, nil
}

func (s *Store) createTables() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS player (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			current_index INTEGER NOT NULL,
			position REAL NOT NULL,
			volume REAL NOT NULL,
			revision INTEGER NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS queue_entries (
			seq INTEGER PRIMARY KEY,
			ordinal INTEGER NOT NULL,
			track_id TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_ordinal ON queue_entries(ordinal);`,
	}
	for _, stmt := range schema {
		if _, err := s.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) prepareStatements() error {
	var err error
	if s.saveStmt, err = s.conn.Prepare(
		`INSERT INTO player (id, current_index, position, volume, revision, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   current_index = excluded.current_index,
		   position = excluded.position,
		   volume = excluded.volume,
		   revision = excluded.revision,
		   updated_at = excluded.updated_at`); err != nil {
		return err
	}
	if s.insertEntry, err = s.conn.Prepare(
		`INSERT INTO queue_entries (seq, ordinal, track_id) VALUES (?, ?, ?)`); err != nil {
		return err
	}
	if s.clearEntries, err = s.conn.Prepare(`DELETE FROM queue_entries`); err != nil {
		return err
	}
	if s.loadStateStmt, err = s.conn.Prepare(
		`SELECT current_index, position, volume, revision FROM player WHERE id = 1`); err != nil {
		return err
	}
	return nil
}

// Save replaces the stored snapshot with the given state.
func (s *Store) Save(st playback.State) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Stmt(s.clearEntries).Exec(); err != nil {
		return fmt.Errorf("failed to clear queue entries: %w", err)
	}
	for i, e := range st.Queue {
		if _, err := tx.Stmt(s.insertEntry).Exec(e.Seq, i, e.Track.ID); err != nil {
			return fmt.Errorf("failed to insert queue entry: %w", err)
		}
	}
	if _, err := tx.Stmt(s.saveStmt).Exec(st.Index, st.Position, st.Volume, st.Revision, time.Now()); err != nil {
		return fmt.Errorf("failed to save player row: %w", err)
	}
	return tx.Commit()
}

// Resolver maps a stored track id back to its metadata. Entries whose tracks
// no longer resolve are dropped from the restored queue.
type Resolver interface {
	Resolve(id string) (models.Track, error)
}

// Load reconstructs the last saved state. Returns ok=false when nothing was
// saved yet.
func (s *Store) Load(resolver Resolver) (playback.State, bool, error) {
	st := playback.State{Index: -1, Status: playback.StatusStopped, Volume: 1.0}

	row := s.loadStateStmt.QueryRow()
	if err := row.Scan(&st.Index, &st.Position, &st.Volume, &st.Revision); err != nil {
		if err == sql.ErrNoRows {
			return playback.State{}, false, nil
		}
		return playback.State{}, false, fmt.Errorf("failed to load player row: %w", err)
	}

	rows, err := s.conn.Query(`SELECT seq, track_id FROM queue_entries ORDER BY ordinal`)
	if err != nil {
		return playback.State{}, false, fmt.Errorf("failed to load queue entries: %w", err)
	}
	defer rows.Close()

	dropped := 0
	ordinal := -1
	for rows.Next() {
		ordinal++
		var seq uint64
		var trackID string
		if err := rows.Scan(&seq, &trackID); err != nil {
			return playback.State{}, false, err
		}
		track, err := resolver.Resolve(trackID)
		if err != nil {
			dropped++
			// The selected entry shifts left when an earlier entry vanishes.
			if ordinal <= st.Index {
				st.Index--
			}
			continue
		}
		st.Queue = append(st.Queue, playback.QueueEntry{Seq: seq, Track: track})
	}
	if err := rows.Err(); err != nil {
		return playback.State{}, false, err
	}

	if st.Index >= len(st.Queue) {
		st.Index = len(st.Queue) - 1
	}
	if st.Index < 0 {
		st.Index = -1
		st.Position = 0
	}
	if dropped > 0 {
		s.logger.WithField("dropped", dropped).Warn("Dropped queue entries whose tracks no longer resolve")
	}
	return st, true, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.conn.Close()
}
