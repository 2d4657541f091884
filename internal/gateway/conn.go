// ABOUTME: One accepted client connection: handshake, read loop, writer, and teardown
// ABOUTME: Implements fanout.Subscriber so executions can push events to it

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/ble-gateway/internal/auth"
	"github.com/2389/ble-gateway/internal/ble"
	"github.com/2389/ble-gateway/internal/protocol"
)

// bleSubscription is one characteristic subscription owned by a connection.
type bleSubscription struct {
	deviceID string
	charUUID string
	listener *ble.Listener
}

// Conn is one client connection. Requests are handled one at a time in
// receipt order; everything written goes through the outbox.
type Conn struct {
	id      string
	gw      *Gateway
	netConn net.Conn
	session *auth.Session
	logger  *slog.Logger
	out     *outbox

	done      chan struct{}
	closeOnce sync.Once

	bleMu   sync.Mutex
	bleSubs map[string]*bleSubscription // deviceId:characteristicUuid
}

func newConn(gw *Gateway, nc net.Conn) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:      id,
		gw:      gw,
		netConn: nc,
		session: auth.NewSession(gw.gate),
		logger:  gw.logger.With("conn_id", id, "remote_addr", nc.RemoteAddr().String()),
		out:     newOutbox(),
		done:    make(chan struct{}),
		bleSubs: make(map[string]*bleSubscription),
	}
}

// ID implements fanout.Subscriber.
func (c *Conn) ID() string {
	return c.id
}

// Send queues env for writing. It never blocks; after close it fails.
func (c *Conn) Send(env *protocol.Envelope) error {
	record, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return c.out.push(record)
}

// Close ends the connection. Teardown runs in the connection's own goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if n := c.out.pending(); n > 0 {
			c.logger.Debug("dropping unsent records", "count", n)
		}
		c.out.close()
		_ = c.netConn.Close()
	})
}

// serve runs the connection until the peer disconnects or ctx ends.
func (c *Conn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.logger.Info("client connected")
	defer c.teardown()

	go c.writeLoop()

	if err := c.Send(protocol.Handshake(c.gw.config.Server.Name, Version)); err != nil {
		return
	}

	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	lr := protocol.NewLineReader(c.netConn)
	for {
		line, err := lr.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}

		env, err := protocol.Decode(line)
		if err != nil {
			c.logger.Debug("rejecting malformed record", "error", err)
			_ = c.Send(protocol.ErrorEnvelope(nil, protocol.CodeInvalidJSON, err.Error()))
			continue
		}
		c.gw.router.dispatch(ctx, c, env)
	}
}

// writeLoop drains the outbox in order. A write failure closes the connection.
func (c *Conn) writeLoop() {
	timeout := c.gw.config.Server.WriteTimeout
	for {
		select {
		case <-c.done:
			return
		case <-c.out.ready:
		}

		for _, record := range c.out.take() {
			if timeout > 0 {
				_ = c.netConn.SetWriteDeadline(time.Now().Add(timeout))
			}
			if _, err := c.netConn.Write(record); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.Close()
				return
			}
		}
	}
}

// teardown removes every trace of the connection from shared state.
func (c *Conn) teardown() {
	c.Close()

	removed := c.gw.hub.RemoveSubscriber(c)
	released := c.releaseBLE()
	c.gw.removeConn(c)

	c.logger.Info("client disconnected",
		"subscriptions_removed", removed,
		"ble_listeners_released", released)
}

// releaseBLE unregisters every BLE listener. Failures are logged and skipped.
func (c *Conn) releaseBLE() int {
	c.bleMu.Lock()
	subs := c.bleSubs
	c.bleSubs = make(map[string]*bleSubscription)
	c.bleMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for key, sub := range subs {
		if err := c.gw.ble.Unsubscribe(ctx, sub.deviceID, sub.charUUID, sub.listener); err != nil {
			c.logger.Warn("failed to release BLE listener", "key", key, "error", err)
		}
	}
	return len(subs)
}
