package credit

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Feed observes the credit counter over a WebSocket notification
// stream. It implements Provider and doubles as the gate's change
// subscription; it never writes the counter.
type Feed struct {
	url    string
	conn   *websocket.Conn
	logger *slog.Logger

	mu     sync.Mutex
	value  int64
	known  bool
	closed bool

	changes   chan struct{}
	closeOnce sync.Once
}

// creditUpdate is one message on the feed.
type creditUpdate struct {
	Credit *int64 `json:"credit"`
}

// subscribeRequest opens the stream for one client.
type subscribeRequest struct {
	ClientID string `json:"client_id"`
	Channel  string `json:"channel"`
}

// DialFeed connects to the credit feed and starts reading updates.
func DialFeed(url string, logger *slog.Logger) (*Feed, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to credit feed: %w", err)
	}

	f := &Feed{
		url:     url,
		conn:    conn,
		logger:  logger,
		changes: make(chan struct{}, 1),
	}

	sub := subscribeRequest{ClientID: uuid.NewString(), Channel: "credit"}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	go f.readLoop()
	logger.Info("subscribed to credit feed", "url", url, "client_id", sub.ClientID)
	return f, nil
}

func (f *Feed) readLoop() {
	defer f.closeOnce.Do(func() { close(f.changes) })
	for {
		var update creditUpdate
		if err := f.conn.ReadJSON(&update); err != nil {
			f.mu.Lock()
			closed := f.closed
			f.mu.Unlock()
			if !closed {
				f.logger.Warn("credit feed closed", "error", err)
			}
			return
		}
		if update.Credit == nil {
			continue
		}

		f.mu.Lock()
		f.value = *update.Credit
		f.known = true
		f.mu.Unlock()

		// Coalesce: one pending notification is enough.
		select {
		case f.changes <- struct{}{}:
		default:
		}
	}
}

// Credit implements Provider.
func (f *Feed) Credit() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.known
}

// Changes signals whenever a new counter value arrives. The channel
// closes when the feed disconnects.
func (f *Feed) Changes() <-chan struct{} {
	return f.changes
}

// Close disconnects from the feed.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	return f.conn.Close()
}
