// Package ledger maintains live subscriptions to on-chain program log streams
// and turns them into classified pipeline events.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectBase = 1 * time.Second
	reconnectMax  = 30 * time.Second
)

// LogBatch is one notification from a program log stream
type LogBatch struct {
	Signature string
	Logs      []string
	Failed    bool
}

// Handler consumes log batches for a single program. Batches for one program
// arrive in order on a single goroutine.
type Handler func(ctx context.Context, batch LogBatch)

// Client manages websocket log subscriptions against the ledger RPC endpoint.
// Each subscription owns its connection and reconnects with exponential
// backoff on transport errors.
type Client struct {
	url        string
	commitment string
	log        *slog.Logger

	mu   sync.Mutex
	subs []*Subscription
}

// NewClient creates a ledger client
func NewClient(url, commitment string, log *slog.Logger) *Client {
	return &Client{url: url, commitment: commitment, log: log}
}

// Subscription is an owned handle for one program log stream. Closing it
// unsubscribes and releases the connection.
type Subscription struct {
	program string
	cancel  context.CancelFunc
	done    chan struct{}
}

// Close unsubscribes and waits for the subscription goroutine to exit
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Subscribe opens a log subscription for the given program id and dispatches
// every batch to the handler. The returned handle must be closed on shutdown.
func (c *Client) Subscribe(ctx context.Context, program string, h Handler) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		program: program,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	go c.run(ctx, sub, h)
	return sub
}

// Close releases every subscription handle
func (c *Client) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// run owns the connection lifecycle for one subscription: dial, subscribe,
// read until error, back off, repeat. A transient stream error never
// terminates the process.
func (c *Client) run(ctx context.Context, sub *Subscription, h Handler) {
	defer close(sub.done)

	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.listen(ctx, sub.program, h)
		if ctx.Err() != nil {
			return
		}

		c.log.Warn("log stream disconnected, reconnecting",
			"program", sub.program,
			"backoff", backoff,
			"error", err)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (c *Client) listen(ctx context.Context, program string, h Handler) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the subscription is cancelled
	stop := context.AfterFunc(ctx, func() {
		deadline := time.Now().Add(2 * time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	})
	defer stop()

	subID, err := c.subscribe(conn, program)
	if err != nil {
		return err
	}
	c.log.Info("log subscription active", "program", program, "subscription", subID)

	defer c.unsubscribe(conn, subID)

	for {
		var msg notification
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read log stream: %w", err)
		}
		if msg.Method != "logsNotification" {
			continue
		}

		value := msg.Params.Result.Value
		h(ctx, LogBatch{
			Signature: value.Signature,
			Logs:      value.Logs,
			// the stream always carries an err field; null means success
			Failed:    len(value.Err) > 0 && string(value.Err) != "null",
		})
	}
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type notification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Value struct {
				Signature string          `json:"signature"`
				Logs      []string        `json:"logs"`
				Err       json.RawMessage `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func (c *Client) subscribe(conn *websocket.Conn, program string) (int64, error) {
	req := request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "logsSubscribe",
		Params: []any{
			map[string]any{"mentions": []string{program}},
			map[string]any{"commitment": c.commitment},
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		return 0, fmt.Errorf("send subscribe: %w", err)
	}

	var resp response
	if err := conn.ReadJSON(&resp); err != nil {
		return 0, fmt.Errorf("read subscribe response: %w", err)
	}
	if resp.Error != nil {
		return 0, fmt.Errorf("subscribe rejected: %s", resp.Error.Message)
	}

	var subID int64
	if err := json.Unmarshal(resp.Result, &subID); err != nil {
		return 0, fmt.Errorf("parse subscription id: %w", err)
	}
	return subID, nil
}

func (c *Client) unsubscribe(conn *websocket.Conn, subID int64) {
	req := request{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "logsUnsubscribe",
		Params:  []any{subID},
	}
	if err := conn.WriteJSON(req); err != nil {
		c.log.Debug("unsubscribe failed", "subscription", subID, "error", err)
	}
}
