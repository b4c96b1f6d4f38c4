package ledger

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypernode-labs/engine/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func configForTest() config.LedgerConfig {
	return config.LedgerConfig{
		NodeRegistryProgram:    "NodeReg111",
		JobReceiptProgram:      "JobRcpt111",
		PaymentSplitterProgram: "PaySplit111",
	}
}

// fakeRPC is a minimal logsSubscribe endpoint that confirms the subscription
// and then pushes a single notification.
func fakeRPC(t *testing.T, notification string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Subscribe request
		var req map[string]any
		require.NoError(t, conn.ReadJSON(&req))
		assert.Equal(t, "logsSubscribe", req["method"])

		require.NoError(t, conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": 1, "result": 42}))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(notification)))

		// Hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestSubscribeReceivesBatches(t *testing.T) {
	notification := `{
		"jsonrpc": "2.0",
		"method": "logsNotification",
		"params": {
			"result": {
				"value": {
					"signature": "sig-abc",
					"logs": ["Program log: JobCreated"],
					"err": null
				}
			}
		}
	}`
	srv := fakeRPC(t, notification)
	defer srv.Close()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1)
	client := NewClient(wsURL, "confirmed", testLogger())

	batches := make(chan LogBatch, 1)
	sub := client.Subscribe(context.Background(), "JobRcpt111", func(ctx context.Context, b LogBatch) {
		batches <- b
	})

	select {
	case b := <-batches:
		assert.Equal(t, "sig-abc", b.Signature)
		assert.False(t, b.Failed)
		assert.Equal(t, []string{"Program log: JobCreated"}, b.Logs)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for log batch")
	}

	sub.Close()
}

func TestFailedTransactionFlag(t *testing.T) {
	notification := `{
		"jsonrpc": "2.0",
		"method": "logsNotification",
		"params": {
			"result": {
				"value": {
					"signature": "sig-fail",
					"logs": ["Program log: JobCreated"],
					"err": {"InstructionError": [0, "Custom"]}
				}
			}
		}
	}`
	srv := fakeRPC(t, notification)
	defer srv.Close()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1)
	client := NewClient(wsURL, "confirmed", testLogger())
	defer client.Close()

	batches := make(chan LogBatch, 1)
	client.Subscribe(context.Background(), "JobRcpt111", func(ctx context.Context, b LogBatch) {
		batches <- b
	})

	select {
	case b := <-batches:
		assert.True(t, b.Failed)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for log batch")
	}
}

func TestCloseReleasesAllSubscriptions(t *testing.T) {
	srv := fakeRPC(t, `{"jsonrpc":"2.0","method":"logsNotification","params":{"result":{"value":{"signature":"s","logs":[],"err":null}}}}`)
	defer srv.Close()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1)
	client := NewClient(wsURL, "confirmed", testLogger())

	client.Subscribe(context.Background(), "prog-a", func(context.Context, LogBatch) {})
	client.Subscribe(context.Background(), "prog-b", func(context.Context, LogBatch) {})

	done := make(chan struct{})
	go func() {
		client.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}
