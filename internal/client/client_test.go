package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/snarg/wsreplay/internal/protocol"
	"github.com/snarg/wsreplay/internal/trace"
)

// silentServer upgrades and then never answers.
func silentServer(t *testing.T) string {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestCallTimesOut(t *testing.T) {
	c, err := Dial(context.Background(), Options{
		URL:     silentServer(t),
		Timeout: 100 * time.Millisecond,
		Log:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	cmd := trace.NewCommand(protocol.OpenCommand(protocol.RequestPayload{
		Service: "http",
		Payload: json.RawMessage(`{"x":1}`),
	}))
	_, err = c.Call(context.Background(), cmd)
	if !protocol.IsCode(err, protocol.CodeRequestTimeout) {
		t.Fatalf("err = %v, want request_timeout", err)
	}
}

func TestControlTimesOut(t *testing.T) {
	c, err := Dial(context.Background(), Options{
		URL:     silentServer(t),
		Timeout: 100 * time.Millisecond,
		Log:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	_, err = c.Control(context.Background(), protocol.ControlPayload{Command: protocol.CmdGetStatus})
	if !protocol.IsCode(err, protocol.CodeRequestTimeout) {
		t.Fatalf("err = %v, want request_timeout", err)
	}
}

func TestCloseCancelsOutstandingCall(t *testing.T) {
	c, err := Dial(context.Background(), Options{
		URL:     silentServer(t),
		Timeout: 10 * time.Second,
		Log:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		cmd := trace.NewCommand(protocol.OpenCommand(protocol.RequestPayload{
			Service: "http",
			Payload: json.RawMessage(`{"x":1}`),
		}))
		_, callErr := c.Call(context.Background(), cmd)
		done <- callErr
	}()

	time.Sleep(50 * time.Millisecond)
	c.Close()

	select {
	case err := <-done:
		if !protocol.IsCode(err, protocol.CodeConnectionClosed) {
			t.Fatalf("err = %v, want connection_closed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("call never resolved after close")
	}
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), Options{
		URL: "ws://127.0.0.1:1/",
		Log: zerolog.Nop(),
	})
	if !protocol.IsCode(err, protocol.CodeConnectionFailed) {
		t.Fatalf("err = %v, want connection_failed", err)
	}
}
