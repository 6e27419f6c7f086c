// Package websocket mirrors a running program's host tree to browsers and
// feeds their events back into it.
//
// Each browser first receives a snapshot of the mounted tree, then one
// patch frame per rendered frame. Events a browser reports are addressed
// by child-index path and handed to the program.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/net/html"

	"github.com/conneroisu/tally/internal/decode"
	"github.com/conneroisu/tally/internal/logging"
	"github.com/conneroisu/tally/internal/monitoring"
	"github.com/conneroisu/tally/internal/renderer"
)

// Client is one connected browser.
type Client struct {
	conn         *websocket.Conn
	send         chan []byte
	since        uint64
	lastActivity time.Time
	limiter      RateLimiter
}

type broadcast struct {
	seq  uint64
	data []byte
}

// Options configures a Manager.
type Options struct {
	Source  Source
	Origins OriginValidator
	// NewLimiter creates the per-client event limiter. nil means no limit.
	NewLimiter func() RateLimiter
	Logger     logging.Logger
	Metrics    *monitoring.RuntimeMetrics
}

// Manager accepts browser connections and broadcasts frames to them. A
// hub goroutine owns registration and broadcasting, so a client never
// sees a patch older than its snapshot.
type Manager struct {
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex

	broadcast  chan broadcast
	register   chan *Client
	unregister chan *websocket.Conn
	// stale is set when a patch frame could not be queued; every client
	// then needs a fresh snapshot.
	stale  atomic.Bool
	resync chan struct{}

	source     Source
	origins    OriginValidator
	newLimiter func() RateLimiter
	logger     logging.Logger
	metrics    *monitoring.RuntimeMetrics

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	done         chan struct{}
}

// NewManager creates a Manager and starts its hub.
func NewManager(opts Options) *Manager {
	if opts.Source == nil {
		panic("websocket: Manager needs a Source")
	}
	if opts.Origins == nil {
		opts.Origins = OriginList{"*"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan broadcast, 256),
		register:   make(chan *Client, 32),
		unregister: make(chan *websocket.Conn, 32),
		resync:     make(chan struct{}, 1),
		source:     opts.Source,
		origins:    opts.Origins,
		newLimiter: opts.NewLimiter,
		logger:     logger.WithComponent("websocket"),
		metrics:    opts.Metrics,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go m.runHub()
	return m
}

// HandleWebSocket upgrades a request and serves the browser until it
// disconnects.
func (m *Manager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if m.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	if origin := r.Header.Get("Origin"); origin != "" && !m.origins.IsAllowedOrigin(origin) {
		m.logger.Warn(r.Context(), nil, "websocket origin rejected", "origin", origin, "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origins were checked above.
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		m.logger.Warn(r.Context(), err, "websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	client := &Client{
		conn:         conn,
		send:         make(chan []byte, 256),
		lastActivity: time.Now(),
	}
	if m.newLimiter != nil {
		client.limiter = m.newLimiter()
	}

	select {
	case m.register <- client:
	case <-m.ctx.Done():
		conn.Close(websocket.StatusServiceRestart, "server shutting down")
		return
	}

	m.handleClient(client)
}

func (m *Manager) runHub() {
	defer close(m.done)
	for {
		select {
		case client := <-m.register:
			m.registerClient(client)
		case conn := <-m.unregister:
			m.unregisterClient(conn)
		case <-m.resync:
			m.resyncIfStale()
		case b := <-m.broadcast:
			m.resyncIfStale()
			m.broadcastToClients(b)
		case <-m.ctx.Done():
			return
		}
	}
}

// registerClient queues the snapshot before the client can see any
// broadcast, and records which frame the snapshot includes.
func (m *Manager) registerClient(client *Client) {
	snapshot, seq, err := m.source.SnapshotFrame()
	frame := Frame{Type: FrameSnapshot, Seq: seq, HTML: snapshot}
	if err != nil {
		frame = Frame{Type: FrameError, Error: err.Error()}
	}
	data, _ := json.Marshal(frame)
	client.since = seq
	client.send <- data
	m.metrics.WebSocketMessage("out", frame.Type)

	m.clientsMutex.Lock()
	m.clients[client.conn] = client
	count := len(m.clients)
	m.clientsMutex.Unlock()

	m.metrics.WebSocketConnection("connect")
	m.logger.Info(m.ctx, "websocket client connected", "clients", count)
}

func (m *Manager) unregisterClient(conn *websocket.Conn) {
	m.clientsMutex.Lock()
	client, exists := m.clients[conn]
	if exists {
		delete(m.clients, conn)
		close(client.send)
	}
	count := len(m.clients)
	m.clientsMutex.Unlock()

	if exists {
		conn.Close(websocket.StatusNormalClosure, "")
		m.metrics.WebSocketConnection("disconnect")
		m.logger.Info(m.ctx, "websocket client disconnected", "clients", count)
	}
}

func (m *Manager) broadcastToClients(b broadcast) {
	m.clientsMutex.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clientsMutex.RUnlock()

	for _, client := range clients {
		if b.seq <= client.since {
			continue
		}
		select {
		case client.send <- b.data:
			m.metrics.WebSocketMessage("out", FramePatch)
		default:
			// A client that cannot keep up is dropped; it reconnects and
			// starts again from a snapshot.
			m.dropClient(client)
		}
	}
}

// resyncIfStale sends every client a fresh snapshot after a patch frame
// was lost. Patches the snapshot already includes are skipped afterwards.
func (m *Manager) resyncIfStale() {
	if !m.stale.Swap(false) {
		return
	}
	m.clientsMutex.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clientsMutex.RUnlock()
	if len(clients) == 0 {
		return
	}

	snapshot, seq, err := m.source.SnapshotFrame()
	if err != nil {
		m.logger.Warn(m.ctx, err, "cannot resync websocket clients, disconnecting them")
		for _, client := range clients {
			m.dropClient(client)
		}
		return
	}
	data, _ := json.Marshal(Frame{Type: FrameSnapshot, Seq: seq, HTML: snapshot})
	for _, client := range clients {
		client.since = seq
		select {
		case client.send <- data:
			m.metrics.WebSocketMessage("out", FrameSnapshot)
		default:
			m.dropClient(client)
		}
	}
	m.logger.Info(m.ctx, "websocket clients resynced", "clients", len(clients), "seq", seq)
}

func (m *Manager) dropClient(client *Client) {
	go func() {
		select {
		case m.unregister <- client.conn:
		case <-m.ctx.Done():
		}
	}()
}

func (m *Manager) handleClient(client *Client) {
	defer func() {
		select {
		case m.unregister <- client.conn:
		case <-m.ctx.Done():
		}
	}()

	go m.writeToClient(client)
	m.readFromClient(client)
}

func (m *Manager) readFromClient(client *Client) {
	for {
		_, message, err := client.conn.Read(m.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && m.ctx.Err() == nil {
				m.logger.Debug(m.ctx, "websocket read ended", "error", err.Error())
			}
			return
		}
		client.lastActivity = time.Now()
		m.metrics.WebSocketMessage("in", "event")

		if client.limiter != nil && !client.limiter.Allow() {
			m.logger.Warn(m.ctx, nil, "websocket client exceeded its event rate")
			client.conn.Close(websocket.StatusPolicyViolation, "too many events")
			return
		}
		m.processClientMessage(client, message)
	}
}

func (m *Manager) writeToClient(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				m.logger.Debug(m.ctx, "websocket write failed", "error", err.Error())
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}

		case <-m.ctx.Done():
			return
		}
	}
}

// processClientMessage decodes one browser event and hands it to the
// source. Malformed events are answered with an error frame.
func (m *Manager) processClientMessage(client *Client, message []byte) {
	ev, err := decode.DecodeJSON(ClientEventDecoder, message)
	if err != nil {
		m.logger.Debug(m.ctx, "malformed client event", "error", err.Error())
		m.reply(client, Frame{Type: FrameError, Error: err.Error()})
		return
	}
	if _, err := m.source.HandleEvent(m.ctx, ev.Path, ev.Type, ev.Payload); err != nil {
		m.logger.Warn(m.ctx, err, "client event failed", "event", ev.Type)
	}
}

func (m *Manager) reply(client *Client, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	if _, ok := m.clients[client.conn]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// Publish broadcasts the changes of one frame. It has the shape of a
// program observer: nodes are serialized before it returns.
func (m *Manager) Publish(seq uint64, changes []renderer.Change) {
	frame := Frame{Type: FramePatch, Seq: seq, Changes: make([]FrameChange, 0, len(changes))}
	for _, c := range changes {
		fc := FrameChange{Path: c.Path}
		if c.Node.Type == html.TextNode {
			fc.Kind = "text"
			fc.Text = c.Node.Data
		} else {
			s, err := renderer.RenderString(c.Node)
			if err != nil {
				m.logger.Warn(m.ctx, err, "cannot serialize changed node", "path", c.Path)
				continue
			}
			fc.Kind = "element"
			fc.HTML = s
		}
		frame.Changes = append(frame.Changes, fc)
	}

	data, err := json.Marshal(frame)
	if err != nil {
		m.logger.Error(m.ctx, err, "cannot encode patch frame")
		return
	}
	select {
	case m.broadcast <- broadcast{seq: seq, data: data}:
	case <-m.ctx.Done():
	default:
		m.stale.Store(true)
		select {
		case m.resync <- struct{}{}:
		default:
		}
		m.logger.Warn(m.ctx, nil, "broadcast queue full, clients will resync", "seq", seq)
	}
}

// ConnectedClients returns the number of connected browsers.
func (m *Manager) ConnectedClients() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.clients)
}

// Shutdown disconnects every browser and stops the hub.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.cancel()

		m.clientsMutex.Lock()
		for conn := range m.clients {
			conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
		m.clients = make(map[*websocket.Conn]*Client)
		m.clientsMutex.Unlock()
	})

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
