// Package chat orchestrates request/response cycles for one session:
// it owns the transcript, drives the reveal animation and reconciles
// terminal state into the durable store.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"DatopiaChat/internal/auth"
	"DatopiaChat/internal/credit"
	"DatopiaChat/internal/store"
	"DatopiaChat/internal/stream"
	"DatopiaChat/internal/transcript"
)

// State is the controller's position in the response cycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// User-visible notices, matching the product's Persian UI.
const (
	authFailureNotice = "لطفاً دوباره وارد حساب کاربری شوید."
	sendFailureNotice = "خطا در دریافت پاسخ از سرور! (احتمالاً مشکل احراز هویت)"
	editFailureNotice = "خطا در ویرایش پیام و دریافت پاسخ! (احتمالاً مشکل احراز هویت)"
)

// Submission errors. Backend failures are not among them: those are
// absorbed into a synthetic transcript turn and never reach the caller.
var (
	ErrEmptyInput     = errors.New("message is empty")
	ErrQuotaExhausted = errors.New("credit exhausted")
	ErrCycleActive    = errors.New("a response cycle is already active")
)

// Backend is the slice of the API surface the controller drives.
type Backend interface {
	SendMessage(ctx context.Context, sessionID, content string) (json.RawMessage, error)
	History(ctx context.Context, sessionID string) ([]transcript.Turn, error)
	EditMessage(ctx context.Context, sessionID string, index int, newContent string) ([]transcript.Turn, error)
}

// Persister is the durable store slice the controller writes at cycle
// checkpoints.
type Persister interface {
	Load(ctx context.Context, sessionID string, backend store.HistoryFetcher) transcript.Transcript
	Put(sessionID string, tr transcript.Transcript) error
}

// Options configures a Controller.
type Options struct {
	SessionID string
	Backend   Backend
	Store     Persister
	// Gate may be nil; submissions are then never credit-blocked.
	Gate   *credit.Gate
	Logger *slog.Logger
	// Tracer and Meter default to the global providers when nil.
	Tracer trace.Tracer
	Meter  metric.Meter
	// OnSnapshot observes every externally visible transcript write,
	// including intermediate streaming snapshots. It must not call back
	// into the controller.
	OnSnapshot func(tr transcript.Transcript)
}

// Controller runs at most one response cycle at a time for one session.
// It is the only writer of the session transcript besides the user
// actions it exposes.
type Controller struct {
	sessionID  string
	backend    Backend
	store      Persister
	gate       *credit.Gate
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	onSnapshot func(transcript.Transcript)

	mu    sync.Mutex
	cond  *sync.Cond
	state State
	turns transcript.Transcript
	job   *stream.Job
	// gen identifies the active cycle. Continuations of a superseded
	// cycle check it before committing anything.
	gen uint64
}

// NewController hydrates the session transcript and returns the
// controller. A hydrated transcript that ends in an unanswered user
// turn immediately gets a response cycle: that is the only place the
// auto-trigger fires, so a cycle can never re-trigger itself.
func NewController(ctx context.Context, opts Options) (*Controller, error) {
	if opts.SessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	gate := opts.Gate
	if gate == nil {
		gate = credit.NewGate(nil, nil, opts.Logger)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("chat")
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter("chat")
	}

	c := &Controller{
		sessionID:  opts.SessionID,
		backend:    opts.Backend,
		store:      opts.Store,
		gate:       gate,
		logger:     opts.Logger,
		tracer:     tracer,
		meter:      meter,
		onSnapshot: opts.OnSnapshot,
		state:      StateIdle,
	}
	c.cond = sync.NewCond(&c.mu)

	c.turns = opts.Store.Load(ctx, opts.SessionID, opts.Backend)
	c.notify(c.turns)

	if last, ok := c.turns.Last(); ok && last.Role == transcript.RoleUser {
		c.logger.Info("transcript ends in a pending user turn, answering it",
			"session_id", c.sessionID)
		if err := c.run(ctx, last.Content, nil); err != nil {
			c.logger.Warn("auto response failed", "session_id", c.sessionID, "error", err)
		}
	}
	return c, nil
}

// SessionID returns the session this controller owns.
func (c *Controller) SessionID() string { return c.sessionID }

// State returns the current cycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns a copy of the current transcript.
func (c *Controller) Transcript() transcript.Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turns.Clone()
}

// Submit runs one request/response cycle for content typed by the
// user. Empty input and an exhausted credit gate reject before any
// transcript mutation or network call.
func (c *Controller) Submit(ctx context.Context, content string) error {
	if !c.gate.Open() {
		c.logger.Warn("submission blocked, credit exhausted", "session_id", c.sessionID)
		return ErrQuotaExhausted
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ErrEmptyInput
	}
	return c.run(ctx, trimmed, nil)
}

// Regenerate discards the assistant turn at index and everything after
// it, then re-runs a cycle for the user turn just before it. Unlike
// Submit it may supersede an active cycle.
func (c *Controller) Regenerate(ctx context.Context, index int) error {
	c.mu.Lock()
	if index <= 0 || index >= len(c.turns) || c.turns[index-1].Role != transcript.RoleUser {
		c.mu.Unlock()
		return fmt.Errorf("turn %d has no preceding user turn to regenerate from", index)
	}
	content := c.turns[index-1].Content
	c.mu.Unlock()

	return c.run(ctx, content, &index)
}

// run executes one request/response cycle. A non-nil baseIndex carries
// regenerate-from-here semantics: it truncates the transcript there
// instead of appending a user turn, and supersedes an active cycle
// where a plain submit would be rejected.
func (c *Controller) run(ctx context.Context, content string, baseIndex *int) error {
	c.mu.Lock()
	if baseIndex == nil && (c.state == StateAwaitingResponse || c.state == StateStreaming) {
		c.mu.Unlock()
		return ErrCycleActive
	}
	// Starting a cycle supersedes whatever was running: cancel the old
	// timer before any new mutation is scheduled.
	if c.job != nil {
		c.job.Cancel()
		c.job = nil
	}
	c.gen++
	cycle := c.gen

	var base transcript.Transcript
	if baseIndex != nil {
		base = c.turns.ReplaceFrom(*baseIndex)
	} else {
		base, _ = c.turns.Append(transcript.User(content))
	}
	c.turns = base
	c.setStateLocked(StateAwaitingResponse)
	c.mu.Unlock()
	c.notify(base)

	ctx, span := c.tracer.Start(ctx, "response_cycle")
	defer span.End()

	raw, err := c.backend.SendMessage(ctx, c.sessionID, content)

	c.mu.Lock()
	if c.gen != cycle {
		// A stop or a newer cycle took over while the call was in
		// flight; its result is discarded.
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err != nil {
		c.fail(cycle, err, sendFailureNotice)
		return nil
	}

	c.startJob(cycle, base, raw)
	return nil
}

// EditTurn rewrites the user turn at index and replaces the whole
// transcript with the backend's recomputed history. When the new
// trailing turn is an assistant turn, its display text streams in
// again. Like Regenerate it supersedes an active cycle.
func (c *Controller) EditTurn(ctx context.Context, index int, newContent string) error {
	trimmed := strings.TrimSpace(newContent)
	if trimmed == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	if index < 0 || index >= len(c.turns) || c.turns[index].Role != transcript.RoleUser {
		c.mu.Unlock()
		return fmt.Errorf("turn %d is not an editable user turn", index)
	}
	if c.job != nil {
		c.job.Cancel()
		c.job = nil
	}
	c.gen++
	cycle := c.gen
	c.setStateLocked(StateAwaitingResponse)
	c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "edit_cycle")
	defer span.End()

	turns, err := c.backend.EditMessage(ctx, c.sessionID, index, trimmed)

	c.mu.Lock()
	if c.gen != cycle {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err != nil {
		c.fail(cycle, err, editFailureNotice)
		return nil
	}

	// The pre-edit transcript is discarded outright, never merged.
	replacement := transcript.Transcript(turns)
	if replacement == nil {
		replacement = transcript.Transcript{}
	}

	c.mu.Lock()
	c.turns = replacement
	c.mu.Unlock()
	c.notify(replacement)
	c.persist(replacement)

	last, ok := replacement.Last()
	if !ok || last.Role != transcript.RoleAssistant {
		c.mu.Lock()
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		return nil
	}

	c.startJob(cycle, replacement.ReplaceFrom(len(replacement)-1), json.RawMessage(last.Content))
	return nil
}

// Stop cancels the active stream, freezes the transcript at its last
// rendered snapshot, and persists that frozen state. It is an explicit
// user action, not an error path.
func (c *Controller) Stop() {
	c.mu.Lock()
	job := c.job
	c.job = nil
	c.gen++ // discard any continuation still in flight
	c.setStateLocked(StateStopped)
	c.mu.Unlock()

	var frozen transcript.Transcript
	if job != nil {
		frozen = job.Cancel()
		c.mu.Lock()
		c.turns = frozen
		c.mu.Unlock()
		c.notify(frozen)
	} else {
		c.mu.Lock()
		frozen = c.turns
		c.mu.Unlock()
	}

	c.logger.Info("generation stopped", "session_id", c.sessionID, "turns", len(frozen))
	c.persist(frozen)
}

// WaitQuiescent blocks until no cycle is active. Useful for callers
// that want the prompt back only after the terminal commit.
func (c *Controller) WaitQuiescent() {
	c.mu.Lock()
	for c.state == StateAwaitingResponse || c.state == StateStreaming {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

// startJob begins streaming raw over base. The previous job, if any,
// was already cancelled when the cycle took over.
func (c *Controller) startJob(cycle uint64, base transcript.Transcript, raw json.RawMessage) {
	c.mu.Lock()
	if c.gen != cycle {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateStreaming)
	c.job = stream.Start(base, raw,
		func(snapshot transcript.Transcript) { c.applySnapshot(cycle, snapshot) },
		func(final transcript.Transcript) { c.commit(cycle, final) },
	)
	c.mu.Unlock()
}

// applySnapshot writes one intermediate streaming snapshot, dropping
// writes from a superseded job.
func (c *Controller) applySnapshot(cycle uint64, snapshot transcript.Transcript) {
	c.mu.Lock()
	if c.gen != cycle {
		c.mu.Unlock()
		return
	}
	c.turns = snapshot
	c.mu.Unlock()
	c.notify(snapshot)
}

// commit ends the cycle: the final transcript carries the backend body
// verbatim and reaches the durable store. The idle transition comes
// last, so anyone released by WaitQuiescent observes the checkpoint
// already written.
func (c *Controller) commit(cycle uint64, final transcript.Transcript) {
	c.mu.Lock()
	if c.gen != cycle {
		c.mu.Unlock()
		return
	}
	c.turns = final
	c.job = nil
	c.mu.Unlock()

	c.notify(final)
	c.persist(final)
	c.recordCycle(len(final))

	c.mu.Lock()
	if c.gen == cycle {
		c.setStateLocked(StateIdle)
	}
	c.mu.Unlock()
}

// fail converts a backend or parse failure into a single synthetic
// assistant turn and ends the cycle. The optimistic user turn stays,
// so a manual retry resends the same content; retrying is the user's
// call, never automatic.
func (c *Controller) fail(cycle uint64, err error, notice string) {
	if errors.Is(err, auth.ErrNoToken) {
		notice = authFailureNotice
	}
	c.logger.Error("response cycle failed", "session_id", c.sessionID, "error", err)

	c.mu.Lock()
	if c.gen != cycle {
		c.mu.Unlock()
		return
	}
	c.turns, _ = c.turns.Append(transcript.AssistantText(notice))
	snapshot := c.turns
	c.mu.Unlock()

	c.notify(snapshot)

	c.mu.Lock()
	if c.gen == cycle {
		c.setStateLocked(StateIdle)
	}
	c.mu.Unlock()
}

// setStateLocked changes state and wakes waiters. Caller holds mu.
func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.cond.Broadcast()
}

// notify hands a snapshot to the rendering observer outside the lock.
func (c *Controller) notify(snapshot transcript.Transcript) {
	if c.onSnapshot != nil {
		c.onSnapshot(snapshot)
	}
}

func (c *Controller) persist(tr transcript.Transcript) {
	if err := c.store.Put(c.sessionID, tr); err != nil {
		c.logger.Error("failed to persist transcript", "session_id", c.sessionID, "error", err)
	}
}

func (c *Controller) recordCycle(turns int) {
	counter, err := c.meter.Int64Counter(
		"chat.cycles.completed",
		metric.WithDescription("Completed response cycles"),
	)
	if err != nil {
		return
	}
	counter.Add(context.Background(), 1)
	c.logger.Info("response cycle completed", "session_id", c.sessionID, "turns", turns)
}
