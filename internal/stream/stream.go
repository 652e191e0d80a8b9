// Package stream reveals an already-received response word by word on a
// jittered timer, producing intermediate transcript snapshots. It is
// not a network stream: the full payload is in hand before the first
// tick fires.
package stream

import (
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"time"

	"DatopiaChat/internal/transcript"
)

// Tick cadence bounds. Each tick re-randomizes within the window so the
// reveal does not feel mechanical.
const (
	minTick    = 100 * time.Millisecond
	tickJitter = 50 * time.Millisecond
)

// Sink receives each intermediate transcript snapshot.
type Sink func(snapshot transcript.Transcript)

// DoneFunc receives the final committed transcript.
type DoneFunc func(final transcript.Transcript)

// Job is one in-flight reveal animation over a response body. At most
// one job should be live per session; the owner cancels the previous
// job before starting a new one.
type Job struct {
	base  transcript.Transcript
	raw   json.RawMessage
	words []string

	sink Sink
	done DoneFunc

	mu        sync.Mutex
	timer     *time.Timer
	idx       int
	acc       strings.Builder
	last      transcript.Transcript
	cancelled bool
	finished  bool
	doneCh    chan struct{}
	rng       *rand.Rand
}

// Start begins revealing the display text of raw over base. sink is
// invoked with every intermediate snapshot in order; done receives the
// final transcript carrying the untouched body, so no whitespace drift
// from the split/rejoin survives the commit.
func Start(base transcript.Transcript, raw json.RawMessage, sink Sink, done DoneFunc) *Job {
	env := transcript.ParseEnvelope(string(raw))
	j := &Job{
		base:   base.Clone(),
		raw:    raw,
		words:  strings.Split(env.ModelResponse, " "),
		sink:   sink,
		done:   done,
		last:   base.Clone(),
		doneCh: make(chan struct{}),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	j.mu.Lock()
	j.timer = time.AfterFunc(j.interval(), j.tick)
	j.mu.Unlock()
	return j
}

func (j *Job) interval() time.Duration {
	return minTick + time.Duration(j.rng.Int63n(int64(tickJitter)))
}

func (j *Job) tick() {
	j.mu.Lock()
	if j.cancelled || j.finished {
		j.mu.Unlock()
		return
	}

	if j.idx >= len(j.words) {
		// Cursor exhausted: the true payload replaces the accumulator.
		final := append(j.base.Clone(), transcript.AssistantEnvelope(j.raw))
		j.last = final
		j.finished = true
		done := j.done
		close(j.doneCh)
		j.mu.Unlock()
		if done != nil {
			done(final)
		}
		return
	}

	if j.idx > 0 {
		j.acc.WriteString(" ")
	}
	j.acc.WriteString(j.words[j.idx])
	j.idx++

	content := transcript.PartialContent(j.raw, j.acc.String())
	snapshot := append(j.base.Clone(), transcript.AssistantEnvelope(json.RawMessage(content)))
	j.last = snapshot
	sink := j.sink
	j.mu.Unlock()

	// Deliver before scheduling the next tick; snapshots must land in
	// order even when the sink is slow.
	if sink != nil {
		sink(snapshot)
	}

	j.mu.Lock()
	if !j.cancelled && !j.finished {
		j.timer = time.AfterFunc(j.interval(), j.tick)
	}
	j.mu.Unlock()
}

// Cancel stops the reveal and returns the last rendered snapshot. Late
// timer fires after a cancel are discarded. Safe to call repeatedly.
func (j *Job) Cancel() transcript.Transcript {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished || j.cancelled {
		return j.last
	}
	j.cancelled = true
	if j.timer != nil {
		j.timer.Stop()
	}
	close(j.doneCh)
	return j.last
}

// Done is closed once the job finishes or is cancelled.
func (j *Job) Done() <-chan struct{} {
	return j.doneCh
}

// Finished reports whether the job ran through to the terminal commit.
func (j *Job) Finished() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finished
}
