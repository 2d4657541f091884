// ABOUTME: Line-protocol client for the MCP gateway, used by the CLI and tests
// ABOUTME: Correlates responses by request id and exposes pushed envelopes on a channel

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/2389/ble-gateway/internal/protocol"
	"github.com/2389/ble-gateway/internal/tools"
)

// ErrClosed is returned for calls on a closed client.
var ErrClosed = errors.New("client closed")

// ResponseError is an mcp/error answer.
type ResponseError struct {
	Code    string
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Client is one connection to a gateway.
type Client struct {
	conn      net.Conn
	handshake protocol.HandshakePayload
	nextID    atomic.Uint64

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *protocol.Envelope
	err     error

	events chan *protocol.Envelope
	done   chan struct{}
}

// Dial connects to addr and waits for the handshake.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	c, err := New(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an established connection and waits for the handshake.
func New(ctx context.Context, conn net.Conn) (*Client, error) {
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan *protocol.Envelope),
		events:  make(chan *protocol.Envelope, 1024),
		done:    make(chan struct{}),
	}

	lr := protocol.NewLineReader(conn)
	first := make(chan error, 1)
	go func() {
		line, err := lr.Next()
		if err != nil {
			first <- fmt.Errorf("reading handshake: %w", err)
			return
		}
		env, err := protocol.Decode(line)
		if err != nil {
			first <- fmt.Errorf("decoding handshake: %w", err)
			return
		}
		if env.Type != protocol.TypeHandshake {
			first <- fmt.Errorf("expected %s, got %s", protocol.TypeHandshake, env.Type)
			return
		}
		if err := env.Bind(&c.handshake); err != nil {
			first <- err
			return
		}
		first <- nil
		c.readLoop(lr)
	}()

	select {
	case err := <-first:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	}
	return c, nil
}

// Handshake returns the server's greeting.
func (c *Client) Handshake() protocol.HandshakePayload {
	return c.handshake
}

// Events delivers envelopes that answer no request: tool events and BLE
// notifications. It is closed when the connection ends.
func (c *Client) Events() <-chan *protocol.Envelope {
	return c.events
}

func (c *Client) readLoop(lr *protocol.LineReader) {
	defer close(c.events)
	for {
		line, err := lr.Next()
		if err != nil {
			c.fail(err)
			return
		}
		env, err := protocol.Decode(line)
		if err != nil {
			continue
		}

		if env.HasID() {
			id := idString(env.ID)
			c.mu.Lock()
			ch, ok := c.pending[id]
			delete(c.pending, id)
			c.mu.Unlock()
			if ok {
				ch <- env
				continue
			}
		}

		select {
		case c.events <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func idString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Write sends one raw record. A newline is appended when missing.
func (c *Client) Write(record []byte) error {
	if len(record) == 0 || record[len(record)-1] != '\n' {
		record = append(append([]byte(nil), record...), '\n')
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(record)
	return err
}

// Call sends a request and waits for its answer. An mcp/error answer is
// returned as *ResponseError.
func (c *Client) Call(ctx context.Context, t protocol.MessageType, payload any) (*protocol.Envelope, error) {
	id := "c" + strconv.FormatUint(c.nextID.Add(1), 10)
	rawID, _ := json.Marshal(id)

	env, err := protocol.NewEnvelope(t, rawID, payload)
	if err != nil {
		return nil, err
	}
	record, err := protocol.Encode(env)
	if err != nil {
		return nil, err
	}

	ch := make(chan *protocol.Envelope, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.Write(record); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("writing %s: %w", t, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if resp.Type == protocol.TypeError {
			var p protocol.ErrorPayload
			_ = resp.Bind(&p)
			return resp, &ResponseError{Code: p.Code, Message: p.Message}
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// CallInto calls and binds the response payload into out.
func (c *Client) CallInto(ctx context.Context, t protocol.MessageType, payload, out any) error {
	resp, err := c.Call(ctx, t, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Bind(out)
}

// Authenticate sends mcp/auth and returns the principal the server recorded.
func (c *Client) Authenticate(ctx context.Context, token string) (string, error) {
	var resp struct {
		Principal string `json:"principal"`
	}
	if err := c.CallInto(ctx, protocol.TypeAuth, map[string]string{"token": token}, &resp); err != nil {
		return "", err
	}
	return resp.Principal, nil
}

// Discover lists the gateway's tools.
func (c *Client) Discover(ctx context.Context) ([]tools.Info, error) {
	var resp struct {
		Tools []tools.Info `json:"tools"`
	}
	if err := c.CallInto(ctx, protocol.TypeToolsDiscover, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// Execute starts a tool and returns its execution id.
func (c *Client) Execute(ctx context.Context, toolID string, input any) (string, error) {
	req := map[string]any{"toolId": toolID}
	if input != nil {
		req["input"] = input
	}
	var resp struct {
		ExecID string `json:"execId"`
	}
	if err := c.CallInto(ctx, protocol.TypeToolExecute, req, &resp); err != nil {
		return "", err
	}
	return resp.ExecID, nil
}

// NextEvent waits for the next pushed envelope.
func (c *Client) NextEvent(ctx context.Context) (*protocol.Envelope, error) {
	select {
	case env, ok := <-c.events:
		if !ok {
			return nil, ErrClosed
		}
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	return c.conn.Close()
}
