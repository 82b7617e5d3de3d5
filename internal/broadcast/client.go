package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
	pongDeadline  = 60 * time.Second

	// DefaultQueueSize bounds the number of pending batches per client.
	DefaultQueueSize = 64

	// CloseUnauthorized is sent to producers that fail authentication.
	CloseUnauthorized = 4001
)

// Role separates the two kinds of connected clients.
type Role int

const (
	RoleSubscriber Role = iota
	RoleProducer
)

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	default:
		return "subscriber"
	}
}

// Client is a single WebSocket connection with its own writer goroutine.
// Frames are queued in batches; a batch is always written back to back.
type Client struct {
	id          string
	role        Role
	connection  *websocket.Conn
	clock       clockwork.Clock
	sendChannel chan [][]byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// While a replay is in flight live batches wait in pending and are
	// queued after the replay batch.
	holdMu  sync.Mutex
	holds   int
	pending [][][]byte
}

// NewClient takes ownership of the connection and starts its writer.
func NewClient(id string, role Role, connection *websocket.Conn, clock clockwork.Clock, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	c := &Client{
		id:          id,
		role:        role,
		connection:  connection,
		clock:       clock,
		sendChannel: make(chan [][]byte, queueSize),
		doneChannel: make(chan struct{}),
	}
	c.configurePongHandler()
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Client) ID() string { return c.id }

func (c *Client) Role() Role { return c.role }

// Conn exposes the underlying connection for the reader loop.
// Writes must go through Enqueue.
func (c *Client) Conn() *websocket.Conn { return c.connection }

// Done is closed once the client stops writing.
func (c *Client) Done() <-chan struct{} { return c.doneChannel }

// Enqueue queues frames as one batch without blocking. It returns false when
// the queue is full or the client has stopped.
func (c *Client) Enqueue(frames ...[]byte) bool {
	if len(frames) == 0 {
		return true
	}
	c.holdMu.Lock()
	defer c.holdMu.Unlock()
	if c.holds > 0 {
		if len(c.pending) >= cap(c.sendChannel) {
			return false
		}
		c.pending = append(c.pending, frames)
		return true
	}
	return c.send(frames)
}

func (c *Client) send(frames [][]byte) bool {
	select {
	case <-c.doneChannel:
		return false
	default:
	}
	select {
	case c.sendChannel <- frames:
		return true
	default:
		return false
	}
}

// holdLive starts holding live batches back until the matching releaseLive.
func (c *Client) holdLive() {
	c.holdMu.Lock()
	c.holds++
	c.holdMu.Unlock()
}

// releaseLive queues the replay batch and then, once no replay is left in
// flight, every batch held since holdLive. A nil replay only flushes.
func (c *Client) releaseLive(replay [][]byte) bool {
	c.holdMu.Lock()
	defer c.holdMu.Unlock()
	c.holds--
	if len(replay) > 0 && !c.send(replay) {
		c.pending = nil
		return false
	}
	if c.holds > 0 {
		return true
	}
	held := c.pending
	c.pending = nil
	for _, batch := range held {
		if !c.send(batch) {
			return false
		}
	}
	return true
}

// Touch extends the read deadline after inbound traffic.
func (c *Client) Touch() {
	c.updateReadDeadline()
}

func (c *Client) run() {
	ticker := c.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.wg.Done()

	for {
		select {
		case batch := <-c.sendChannel:
			for _, frame := range batch {
				c.updateWriteDeadline()
				if err := c.connection.WriteMessage(websocket.TextMessage, frame); err != nil {
					c.evict()
					return
				}
			}
		case <-ticker.Chan():
			c.updateWriteDeadline()
			if err := c.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.evict()
				return
			}
		case <-c.doneChannel:
			return
		}
	}
}

// evict stops the client without waiting for the writer. Closing the
// connection unblocks both a pending write and the reader loop.
func (c *Client) evict() {
	c.stopOnce.Do(func() {
		close(c.doneChannel)
		_ = c.connection.Close()
	})
}

// Close stops the writer and closes the connection.
func (c *Client) Close() {
	c.evict()
	c.wg.Wait()
}

// CloseWithReason stops the writer, then sends a close frame before closing
// the connection. Queued frames that were not yet written are dropped.
func (c *Client) CloseWithReason(code int, reason string) {
	c.stopOnce.Do(func() {
		close(c.doneChannel)

		// The close frame must not race the writer goroutine.
		c.wg.Wait()

		c.updateWriteDeadline()
		_ = c.connection.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		_ = c.connection.Close()
	})
	c.wg.Wait()
}

func (c *Client) configurePongHandler() {
	c.updateReadDeadline()
	c.connection.SetPongHandler(func(string) error {
		c.updateReadDeadline()
		return nil
	})
}

func (c *Client) updateWriteDeadline() {
	_ = c.connection.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
}

func (c *Client) updateReadDeadline() {
	_ = c.connection.SetReadDeadline(c.clock.Now().Add(pongDeadline))
}

// RejectConnection writes a close frame on a connection that never became a
// Client and closes it.
func RejectConnection(connection *websocket.Conn, clock clockwork.Clock, code int, reason string) {
	_ = connection.SetWriteDeadline(clock.Now().Add(writeDeadline))
	_ = connection.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = connection.Close()
}
