package livereload

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings with this period to keep intermediaries from closing the
	// connection.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from the peer.
	maxMessageSize = 4096

	// Per-connection outbound queue. Delivery order within the queue is
	// the ordering guarantee; a full queue marks the client desynced.
	sendBuffer = 64
)

// Client is one connected browser. It is owned exclusively by the broker.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan Message

	mu         sync.Mutex
	state      State
	subscribed map[string]bool
	lastAcked  map[string]string // entry -> hash
	pending    *pendingPatch
}

type pendingPatch struct {
	entry string
	hash  string
	timer *time.Timer
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:         uuid.NewString(),
		conn:       conn,
		send:       make(chan Message, sendBuffer),
		state:      StateConnected,
		subscribed: make(map[string]bool),
		lastAcked:  make(map[string]string),
	}
}

// State returns the connection's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastAcked returns the last acknowledged hash for an entry.
func (c *Client) LastAcked(entry string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.lastAcked[entry]
	return h, ok
}

// subscribe records the entries this client wants updates for.
func (c *Client) subscribe(entries []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.subscribed[e] = true
	}
	if c.state == StateConnected {
		c.state = StateSubscribed
	}
}

// enqueue appends a message to the outbound queue in arrival order. Returns
// false when the queue is full, which the broker treats as a desync.
func (c *Client) enqueue(msg Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// beginPatch transitions to pushing and arms the ack deadline. onTimeout
// runs if the ack does not arrive in time.
func (c *Client) beginPatch(entry, hash string, timeout time.Duration, onTimeout func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		c.pending.timer.Stop()
	}
	c.state = StatePushing
	c.pending = &pendingPatch{
		entry: entry,
		hash:  hash,
		timer: time.AfterFunc(timeout, onTimeout),
	}
}

// ack handles an acknowledgment from the peer. Stale acks for superseded
// patches are ignored.
func (c *Client) ack(entry, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil || c.pending.entry != entry || c.pending.hash != hash {
		return
	}
	c.pending.timer.Stop()
	c.pending = nil
	c.lastAcked[entry] = hash
	if c.state == StatePushing {
		c.state = StateSubscribed
	}
}

// markDesynced flags the connection for a forced reload on the next event.
func (c *Client) markDesynced() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		c.pending.timer.Stop()
		c.pending = nil
	}
	c.state = StateDesynced
}

// resync is called after a reload instruction has been queued; the client
// will rejoin with fresh state once the page reloads.
func (c *Client) resync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAcked = make(map[string]string)
	c.state = StateSubscribed
}

func (c *Client) close() {
	c.mu.Lock()
	if c.pending != nil {
		c.pending.timer.Stop()
		c.pending = nil
	}
	c.mu.Unlock()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// writePump drains the outbound queue onto the wire in FIFO order and keeps
// the connection alive with pings. One writer per connection preserves the
// ordering guarantee.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err = c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
