// Package store persists session transcripts in SQLite. It is an
// advisory mirror of server state: the backend history stays canonical,
// the store just makes reloads cheap and survivable.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"DatopiaChat/internal/cache"
	"DatopiaChat/internal/transcript"
)

// HistoryFetcher fetches a transcript from the backend on a cache miss.
type HistoryFetcher interface {
	History(ctx context.Context, sessionID string) ([]transcript.Turn, error)
}

// Store is the durable key/value mirror of session transcripts, keyed
// chat_<sessionId>, fronted by an in-memory snapshot cache.
type Store struct {
	db     *sql.DB
	mem    cache.Transcripts
	logger *slog.Logger
}

// Open opens (and if needed creates) the transcript database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTranscriptsTable := `
	CREATE TABLE IF NOT EXISTS transcripts (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME
	);`

	if _, err := db.Exec(createTranscriptsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create transcripts table: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached transcript for a session, if any.
func (s *Store) Get(sessionID string) (transcript.Transcript, bool, error) {
	key := cache.Key(sessionID)
	if tr, ok := s.mem.Get(key); ok {
		return tr, true, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM transcripts WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load transcript: %w", err)
	}

	var tr transcript.Transcript
	if err := json.Unmarshal([]byte(value), &tr); err != nil {
		return nil, false, fmt.Errorf("failed to decode transcript: %w", err)
	}
	s.mem.Put(key, tr)
	return tr, true, nil
}

// Put writes the full transcript for a session. Callers invoke it at
// cycle checkpoints, never per streaming tick, to bound write volume.
func (s *Store) Put(sessionID string, tr transcript.Transcript) error {
	if tr == nil {
		tr = transcript.Transcript{}
	}
	value, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}

	key := cache.Key(sessionID)
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO transcripts (key, value, updated_at) VALUES (?, ?, ?)",
		key, string(value), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}

	s.mem.Put(key, tr)
	s.logger.Info("transcript saved", "session_id", sessionID, "turns", len(tr))
	return nil
}

// Delete removes the local mirror of a session.
func (s *Store) Delete(sessionID string) error {
	key := cache.Key(sessionID)
	if _, err := s.db.Exec("DELETE FROM transcripts WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	s.mem.Delete(key)
	return nil
}

// Load returns the transcript for a session: the cached copy when
// present, otherwise the backend history, which is then stored. Backend
// failure degrades to an empty transcript; Load never fails the caller.
func (s *Store) Load(ctx context.Context, sessionID string, backend HistoryFetcher) transcript.Transcript {
	tr, ok, err := s.Get(sessionID)
	if err != nil {
		s.logger.Warn("failed to read cached transcript", "session_id", sessionID, "error", err)
	} else if ok {
		return tr
	}

	turns, err := backend.History(ctx, sessionID)
	if err != nil {
		s.logger.Warn("failed to fetch history", "session_id", sessionID, "error", err)
		return transcript.Transcript{}
	}

	tr = transcript.Transcript(turns)
	if tr == nil {
		tr = transcript.Transcript{}
	}
	if err := s.Put(sessionID, tr); err != nil {
		s.logger.Warn("failed to store fetched history", "session_id", sessionID, "error", err)
	}
	return tr
}
