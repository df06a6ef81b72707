package livereload

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	tavoerrors "github.com/TechWithDunamix/tavo/internal/errors"
	"github.com/TechWithDunamix/tavo/internal/logging"
)

// Broker manages live-update connections and fans build completions out to
// them. It exclusively owns all Client records.
type Broker struct {
	ackTimeout time.Duration
	logger     logging.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewBroker creates a broker with the given ack deadline.
func NewBroker(ackTimeout time.Duration, logger logging.Logger) *Broker {
	return &Broker{
		ackTimeout: ackTimeout,
		logger:     logger.WithComponent("livereload"),
		clients:    make(map[string]*Client),
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleWebSocket upgrades the request and runs the connection until the
// peer disconnects.
func (b *Broker) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The dev server binds to localhost; cross-origin pages cannot
		// reach it, so the origin check stays default-strict.
	})
	if err != nil {
		b.logger.Warn(r.Context(), err, "websocket upgrade failed")
		return
	}

	client := newClient(conn)
	conn.SetReadLimit(maxMessageSize)

	b.mu.Lock()
	b.clients[client.ID] = client
	total := len(b.clients)
	b.mu.Unlock()
	b.logger.Debug(r.Context(), "client connected", "client", client.ID, "total", total)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go client.writePump(ctx)

	b.readLoop(ctx, client)

	b.mu.Lock()
	delete(b.clients, client.ID)
	total = len(b.clients)
	b.mu.Unlock()
	client.close()
	b.logger.Debug(r.Context(), "client disconnected", "client", client.ID, "total", total)
}

// readLoop consumes subscribe and ack frames from the peer.
func (b *Broker) readLoop(ctx context.Context, client *Client) {
	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway && ctx.Err() == nil {
				b.logger.Debug(ctx, "websocket read ended", "client", client.ID, "error", err.Error())
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			client.enqueue(Message{Kind: KindError, Diagnostic: &tavoerrors.Diagnostic{
				Severity: "error",
				Message:  "malformed message",
			}})
			continue
		}

		switch msg.Kind {
		case KindSubscribe:
			client.subscribe(msg.Entries)
			b.logger.Debug(ctx, "client subscribed", "client", client.ID, "entries", msg.Entries)
		case KindAck:
			client.ack(msg.Entry, msg.Hash)
		default:
			// Patch, reload, and error frames only flow server to client.
		}
	}
}

// Publish delivers one build completion to every connection. Per
// connection it decides between a targeted patch and a full reload:
// desynced connections and forced updates reload, subscribed connections
// get a patch with the new hash. Delivery per connection is strictly in
// Publish order and nothing is dropped silently; an overflowing connection
// is marked desynced and told to reload on the next event.
func (b *Broker) Publish(update Update) {
	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, client := range clients {
		b.publishTo(client, update)
	}
}

func (b *Broker) publishTo(client *Client, update Update) {
	if client.State() == StateDesynced {
		// Exactly one reload after a missed ack deadline, before any
		// further patch.
		if client.enqueue(Message{Kind: KindReload}) {
			client.resync()
		}
		return
	}

	if update.ForceReload {
		if !client.enqueue(Message{Kind: KindReload}) {
			client.markDesynced()
		}
		return
	}

	client.mu.Lock()
	wants := client.subscribed[update.Entry]
	client.mu.Unlock()
	if !wants {
		return
	}

	msg := Message{
		Kind:    KindPatch,
		Entry:   update.Entry,
		Hash:    update.Hash,
		Payload: update.Payload,
	}
	if !client.enqueue(msg) {
		client.markDesynced()
		return
	}

	clientID := client.ID
	client.beginPatch(update.Entry, update.Hash, b.ackTimeout, func() {
		err := tavoerrors.NewDesyncTimeout(clientID, update.Entry)
		b.logger.Warn(context.Background(), err, "ack deadline missed", "client", clientID)
		client.markDesynced()
	})
}

// BroadcastError pushes a diagnostic to every connection, shown as an
// overlay by the dev client.
func (b *Broker) BroadcastError(diag tavoerrors.Diagnostic) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, client := range b.clients {
		client.enqueue(Message{Kind: KindError, Diagnostic: &diag})
	}
}

// CloseAll disconnects every client. Used during shutdown.
func (b *Broker) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, client := range b.clients {
		client.close()
		delete(b.clients, id)
	}
}
