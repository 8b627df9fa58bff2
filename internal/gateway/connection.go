package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/leadstream/leadstream/internal/metrics"
)

const (
	writeDeadline      = 5 * time.Second
	pingInterval       = 30 * time.Second
	pongDeadline       = 75 * time.Second
	outboundBufferSize = 64
)

// Connection is one admitted WebSocket client. Owned exclusively by the
// gateway; other components hold its ID, never the struct.
type Connection struct {
	ID            uuid.UUID
	ClientIP      string
	UserID        string
	TenantID      string
	Authenticated bool
	CreatedAt     time.Time

	lastActivity atomic.Int64 // unix nanos
	messageCount atomic.Int64

	ws     *websocket.Conn
	clock  clockwork.Clock
	sendCh chan []byte
	done   chan struct{}

	stopOnce sync.Once
	wg       sync.WaitGroup

	// onDead fires once when the writer goroutine exits on a transport
	// error, so the gateway can run the disconnect transaction.
	onDead func()
}

func newConnection(ws *websocket.Conn, clientIP string, clock clockwork.Clock) *Connection {
	now := clock.Now()
	c := &Connection{
		ID:        uuid.New(),
		ClientIP:  clientIP,
		CreatedAt: now,
		ws:        ws,
		clock:     clock,
		sendCh:    make(chan []byte, outboundBufferSize),
		done:      make(chan struct{}),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Connection) start(onDead func()) {
	c.onDead = onDead
	_ = c.ws.SetReadDeadline(c.clock.Now().Add(pongDeadline))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(c.clock.Now().Add(pongDeadline))
		return nil
	})
	c.wg.Add(1)
	go c.writeLoop()
}

// Enqueue queues an outbound frame. Slow consumers never block the
// caller: on a full buffer the oldest pending frame is dropped first.
// Returns false once the connection is stopped.
func (c *Connection) Enqueue(payload []byte) bool {
	for {
		select {
		case <-c.done:
			return false
		case c.sendCh <- payload:
			return true
		default:
		}
		select {
		case <-c.sendCh:
			metrics.OutboundDroppedTotal.Inc()
		default:
		}
	}
}

// Touch records inbound activity and returns the new message count.
func (c *Connection) Touch() int64 {
	c.lastActivity.Store(c.clock.Now().UnixNano())
	return c.messageCount.Add(1)
}

// MessageCount returns the accepted inbound message count.
func (c *Connection) MessageCount() int64 {
	return c.messageCount.Load()
}

// LastActivity returns the time of the last accepted inbound message.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// ReadMessage blocks on the transport until one frame arrives.
func (c *Connection) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *Connection) writeLoop() {
	defer c.wg.Done()
	ticker := c.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.notifyDead()
				return
			}
		case <-ticker.Chan():
			_ = c.ws.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.WriterPingFailures.Inc()
				c.notifyDead()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) notifyDead() {
	if c.onDead != nil {
		go c.onDead()
	}
}

// stop terminates the writer, optionally sending a close frame first.
// Safe to call twice or concurrently with the writer's own error path.
func (c *Connection) stop(code int, reason string) {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		if code != 0 {
			msg := websocket.FormatCloseMessage(code, reason)
			_ = c.ws.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
			_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
		}
		_ = c.ws.Close()
	})
}
