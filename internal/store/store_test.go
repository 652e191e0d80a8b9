package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"DatopiaChat/internal/transcript"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeBackend struct {
	turns []transcript.Turn
	err   error
	calls int
}

func (f *fakeBackend) History(ctx context.Context, sessionID string) ([]transcript.Turn, error) {
	f.calls++
	return f.turns, f.err
}

func TestPutGetRoundtrip(t *testing.T) {
	s := openTestStore(t)

	tr := transcript.Transcript{
		transcript.User("سلام"),
		transcript.AssistantText("درود"),
	}
	if err := s.Put("s1", tr); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := s.Get("s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("transcript should exist")
	}
	if len(got) != 2 || got[0].Content != "سلام" {
		t.Errorf("got %+v", got)
	}
}

func TestTranscriptSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	tr := transcript.Transcript{
		transcript.User("سلام"),
		transcript.AssistantText("درود"),
	}
	if err := s.Put("s1", tr); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A fresh store has a cold memory cache, so this read hits SQLite.
	s2, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	got, ok, err := s2.Get("s1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if len(got) != 2 || got[1].Envelope().ModelResponse != "درود" {
		t.Errorf("got %+v", got)
	}
}

func TestGetMissingSession(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.Get("nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("missing session should report !ok")
	}
}

func TestPutNilStoresEmptyTranscript(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("s1", nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok, err := s.Get("s1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %+v, want empty transcript", got)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("s1", transcript.Transcript{transcript.User("x")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Delete("s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := s.Get("s1"); ok {
		t.Error("deleted session still present")
	}
}

func TestLoadPrefersCachedCopy(t *testing.T) {
	s := openTestStore(t)

	cached := transcript.Transcript{transcript.User("cached")}
	if err := s.Put("s1", cached); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	backend := &fakeBackend{turns: []transcript.Turn{transcript.User("remote")}}
	got := s.Load(context.Background(), "s1", backend)

	if backend.calls != 0 {
		t.Error("cached session should not hit the backend")
	}
	if len(got) != 1 || got[0].Content != "cached" {
		t.Errorf("got %+v", got)
	}
}

func TestLoadFillsFromBackend(t *testing.T) {
	s := openTestStore(t)

	backend := &fakeBackend{turns: []transcript.Turn{
		transcript.User("سلام"),
		transcript.AssistantText("درود"),
	}}
	got := s.Load(context.Background(), "s1", backend)

	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want 1", backend.calls)
	}
	if len(got) != 2 {
		t.Fatalf("got %d turns, want 2", len(got))
	}

	// Fetched history should now be stored locally.
	stored, ok, err := s.Get("s1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if len(stored) != 2 {
		t.Errorf("stored %d turns, want 2", len(stored))
	}
}

func TestLoadDegradesToEmptyOnBackendFailure(t *testing.T) {
	s := openTestStore(t)

	backend := &fakeBackend{err: errors.New("connection refused")}
	got := s.Load(context.Background(), "s1", backend)

	if got == nil {
		t.Fatal("Load should never return nil")
	}
	if len(got) != 0 {
		t.Errorf("got %d turns, want 0", len(got))
	}
}

func TestPutOverwrites(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("s1", transcript.Transcript{transcript.User("old")}); err != nil {
		t.Fatal(err)
	}
	replacement := transcript.Transcript{
		transcript.User("new"),
		transcript.AssistantText("reply"),
	}
	if err := s.Put("s1", replacement); err != nil {
		t.Fatal(err)
	}

	got, _, _ := s.Get("s1")
	if len(got) != 2 || got[0].Content != "new" {
		t.Errorf("got %+v", got)
	}
}
