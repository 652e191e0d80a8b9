// Package cache holds the in-memory transcript layer sitting in front
// of the durable store.
package cache

import (
	"sync"
	"time"

	"DatopiaChat/internal/transcript"
)

// Key returns the store key for a session.
func Key(sessionID string) string {
	return "chat_" + sessionID
}

// Snapshot is one cached transcript with its storage time.
type Snapshot struct {
	Transcript transcript.Transcript
	StoredAt   time.Time
}

// Transcripts caches hydrated transcripts by store key.
type Transcripts struct {
	m sync.Map
}

// Get returns the cached transcript for a key.
func (c *Transcripts) Get(key string) (transcript.Transcript, bool) {
	if val, ok := c.m.Load(key); ok {
		return val.(Snapshot).Transcript, true
	}
	return nil, false
}

// Put stores a transcript under key.
func (c *Transcripts) Put(key string, tr transcript.Transcript) {
	c.m.Store(key, Snapshot{Transcript: tr, StoredAt: time.Now()})
}

// Delete drops a cached transcript.
func (c *Transcripts) Delete(key string) {
	c.m.Delete(key)
}
