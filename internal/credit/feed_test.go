package credit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// feedServer upgrades one connection, checks the subscribe request and
// pushes the given credit values.
func feedServer(t *testing.T, values []int64) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		var sub subscribeRequest
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("failed to read subscribe request: %v", err)
			return
		}
		if sub.Channel != "credit" {
			t.Errorf("channel = %q, want credit", sub.Channel)
		}
		if sub.ClientID == "" {
			t.Error("client id should not be empty")
		}

		for _, v := range values {
			value := v
			if err := conn.WriteJSON(creditUpdate{Credit: &value}); err != nil {
				return
			}
		}
		// Hold the connection open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFeedReceivesUpdates(t *testing.T) {
	srv := feedServer(t, []int64{42})
	defer srv.Close()

	feed, err := DialFeed(wsURL(srv), testLogger())
	if err != nil {
		t.Fatalf("DialFeed failed: %v", err)
	}
	defer feed.Close()

	select {
	case <-feed.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification arrived")
	}

	value, known := feed.Credit()
	if !known {
		t.Fatal("counter should be known after an update")
	}
	if value != 42 {
		t.Errorf("Credit() = %d, want 42", value)
	}
}

func TestFeedStartsUnknown(t *testing.T) {
	srv := feedServer(t, nil)
	defer srv.Close()

	feed, err := DialFeed(wsURL(srv), testLogger())
	if err != nil {
		t.Fatalf("DialFeed failed: %v", err)
	}
	defer feed.Close()

	if _, known := feed.Credit(); known {
		t.Error("counter should be unknown before the first update")
	}
}

func TestFeedDrivesGate(t *testing.T) {
	srv := feedServer(t, []int64{3, 0})
	defer srv.Close()

	feed, err := DialFeed(wsURL(srv), testLogger())
	if err != nil {
		t.Fatalf("DialFeed failed: %v", err)
	}
	defer feed.Close()

	gate := NewGate(feed, feed.Changes(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go gate.Watch(ctx)

	deadline := time.After(2 * time.Second)
	for gate.Open() {
		select {
		case <-deadline:
			t.Fatalf("gate still open, remainder = %d", gate.Remainder())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestFeedChangesCloseOnDisconnect(t *testing.T) {
	srv := feedServer(t, nil)

	feed, err := DialFeed(wsURL(srv), testLogger())
	if err != nil {
		t.Fatalf("DialFeed failed: %v", err)
	}
	defer feed.Close()

	srv.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-feed.Changes():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("changes channel did not close on disconnect")
		}
	}
}

func TestDialFeedFailure(t *testing.T) {
	if _, err := DialFeed("ws://127.0.0.1:1", testLogger()); err == nil {
		t.Error("dialing a dead endpoint should fail")
	}
}
