package stream

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"DatopiaChat/internal/transcript"
)

// collect runs a job to completion and returns every snapshot plus the
// final transcript.
func collect(t *testing.T, base transcript.Transcript, raw string) ([]transcript.Transcript, transcript.Transcript) {
	t.Helper()

	var mu sync.Mutex
	var snapshots []transcript.Transcript
	var final transcript.Transcript
	committed := make(chan struct{})

	job := Start(base, json.RawMessage(raw),
		func(snapshot transcript.Transcript) {
			mu.Lock()
			snapshots = append(snapshots, snapshot)
			mu.Unlock()
		},
		func(tr transcript.Transcript) {
			mu.Lock()
			final = tr
			mu.Unlock()
			close(committed)
		},
	)

	select {
	case <-committed:
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish")
	}
	if !job.Finished() {
		t.Fatal("job should report finished")
	}

	mu.Lock()
	defer mu.Unlock()
	return snapshots, final
}

func TestRevealsWordByWord(t *testing.T) {
	base := transcript.Transcript{transcript.User("سلام")}
	raw := `{"model_response":"سلام دوست من"}`

	snapshots, final := collect(t, base, raw)

	if len(snapshots) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(snapshots))
	}

	want := []string{"سلام", "سلام دوست", "سلام دوست من"}
	for i, snapshot := range snapshots {
		if len(snapshot) != 2 {
			t.Fatalf("snapshot %d has %d turns, want 2", i, len(snapshot))
		}
		last, _ := snapshot.Last()
		if got := last.Envelope().ModelResponse; got != want[i] {
			t.Errorf("snapshot %d text = %q, want %q", i, got, want[i])
		}
	}

	last, _ := final.Last()
	if last.Content != raw {
		t.Errorf("final content = %q, want the body verbatim", last.Content)
	}
}

func TestFinalUsesRawBodyNotAccumulator(t *testing.T) {
	// Double spaces collapse during the split/join; the commit must
	// carry the original bytes anyway.
	raw := `{"model_response":"a  b"}`

	_, final := collect(t, transcript.Transcript{}, raw)

	last, ok := final.Last()
	if !ok {
		t.Fatal("final transcript is empty")
	}
	if last.Content != raw {
		t.Errorf("final content = %q, want %q", last.Content, raw)
	}
}

func TestSnapshotsKeepAttachments(t *testing.T) {
	raw := `{"model_response":"یک دو","generated_code":"print(1)"}`

	snapshots, _ := collect(t, transcript.Transcript{}, raw)

	if len(snapshots) == 0 {
		t.Fatal("no snapshots")
	}
	first, _ := snapshots[0].Last()
	if first.Envelope().GeneratedCode != "print(1)" {
		t.Error("generated code missing from the first snapshot")
	}
}

func TestPlainTextBody(t *testing.T) {
	// A non-envelope body streams its raw text.
	snapshots, final := collect(t, transcript.Transcript{}, `پاسخ ساده`)

	if len(snapshots) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snapshots))
	}
	last, _ := final.Last()
	if last.Content != "پاسخ ساده" {
		t.Errorf("final content = %q", last.Content)
	}
}

func TestCancelFreezesLastSnapshot(t *testing.T) {
	var mu sync.Mutex
	var count int
	doneCalled := false

	job := Start(transcript.Transcript{}, json.RawMessage(`{"model_response":"یک دو سه چهار پنج شش هفت هشت"}`),
		func(snapshot transcript.Transcript) {
			mu.Lock()
			count++
			mu.Unlock()
		},
		func(tr transcript.Transcript) {
			mu.Lock()
			doneCalled = true
			mu.Unlock()
		},
	)

	// Let a couple of ticks land, then stop.
	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := count
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no snapshots arrived")
		case <-time.After(10 * time.Millisecond):
		}
	}

	frozen := job.Cancel()

	mu.Lock()
	seen := count
	mu.Unlock()

	last, ok := frozen.Last()
	if !ok {
		t.Fatal("frozen transcript is empty")
	}
	text := last.Envelope().ModelResponse
	if text == "" {
		t.Error("frozen snapshot has no text")
	}
	// The frozen text is a word-boundary prefix of the full response.
	full := "یک دو سه چهار پنج شش هفت هشت"
	if !strings.HasPrefix(full, text) {
		t.Errorf("frozen text %q is not a prefix of %q", text, full)
	}

	// No further snapshots and no terminal commit after a cancel.
	time.Sleep(400 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count > seen+1 {
		t.Errorf("snapshots kept arriving after cancel: %d -> %d", seen, count)
	}
	if doneCalled {
		t.Error("done must not fire after cancel")
	}
	if job.Finished() {
		t.Error("cancelled job must not report finished")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	job := Start(transcript.Transcript{}, json.RawMessage(`{"model_response":"یک دو"}`), nil, nil)

	first := job.Cancel()
	second := job.Cancel()

	if len(first) != len(second) {
		t.Error("repeated cancels should return the same snapshot")
	}
	select {
	case <-job.Done():
	default:
		t.Error("Done should be closed after cancel")
	}
}

func TestEmptyResponseCommitsImmediately(t *testing.T) {
	snapshots, final := collect(t, transcript.Transcript{transcript.User("q")}, `{"model_response":""}`)

	// An empty display text still produces its single empty-word tick.
	if len(snapshots) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snapshots))
	}
	if len(final) != 2 {
		t.Errorf("final has %d turns, want 2", len(final))
	}
}

func TestBaseIsNotMutated(t *testing.T) {
	base := transcript.Transcript{transcript.User("سلام")}

	_, final := collect(t, base, `{"model_response":"درود"}`)

	if len(base) != 1 {
		t.Errorf("base transcript was mutated: %d turns", len(base))
	}
	if len(final) != 2 {
		t.Errorf("final has %d turns, want 2", len(final))
	}
}
