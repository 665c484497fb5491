package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"QuoteFlow/internal/domain/models"
	"QuoteFlow/pkg/logger"
)

func feedServer(t *testing.T, frames []string, gotSub chan<- string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if gotSub != nil {
			_, b, err := conn.ReadMessage()
			if err == nil {
				gotSub <- string(b)
			}
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string { return "ws" + strings.TrimPrefix(s.URL, "http") }

func TestClientStreamsEventsAndSurfacesDisconnect(t *testing.T) {
	sub := make(chan string, 1)
	srv := feedServer(t, []string{
		`{"type":"book","ts":1000,"bids":[[99,1]],"asks":[[101,1]]}`,
		`garbage`,
		`{"type":"trade","ts":2000,"px":100,"sz":1,"side":"buy"}`,
	}, sub)
	defer srv.Close()

	c := New(Config{URL: wsURL(srv), Subscribe: `{"op":"subscribe"}`, PingInterval: time.Second}, logger.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !c.IsConnected() {
		t.Fatalf("expected connected")
	}
	if got := <-sub; got != `{"op":"subscribe"}` {
		t.Fatalf("unexpected subscribe frame %q", got)
	}

	evCh, errCh := c.Read(ctx)
	var kinds []models.EventKind
	for ev := range evCh {
		kinds = append(kinds, ev.Kind())
	}
	if len(kinds) != 2 || kinds[0] != models.EventBook || kinds[1] != models.EventTrade {
		t.Fatalf("unexpected events %v", kinds)
	}
	err := <-errCh
	if !errors.Is(err, models.ErrDisconnected) {
		t.Fatalf("expected disconnect error, got %v", err)
	}
	if c.IsConnected() {
		t.Fatalf("expected disconnected state")
	}
	if c.Malformed() != 1 {
		t.Fatalf("expected 1 malformed frame, got %d", c.Malformed())
	}
}

func TestClientConnectFailure(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/feed"}, logger.Nop())
	err := c.Connect(context.Background())
	if !errors.Is(err, models.ErrDisconnected) {
		t.Fatalf("expected disconnect error, got %v", err)
	}
}
