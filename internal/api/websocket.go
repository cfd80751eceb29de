package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lumisync-core/internal/infrastructure/config"
	"github.com/nerrad567/lumisync-core/internal/infrastructure/logging"
)

// WildcardChannel subscribes a client to every event. A channel ending in
// ".*" subscribes to a whole family, e.g. "session.*".
const WildcardChannel = "*"

// Event stream message types.
const (
	StreamSubscribe   = "subscribe"
	StreamUnsubscribe = "unsubscribe"
	StreamPing        = "ping"
	StreamPong        = "pong"
	StreamEvent       = "event"
	StreamAck         = "ack"
	StreamError       = "error"
)

const (
	// streamBufferSize is the per-client outbound queue.
	streamBufferSize = 256

	// maxConsecutiveDrops disconnects a client that has stopped reading.
	maxConsecutiveDrops = 64
)

// StreamMessage is one frame written to a client.
type StreamMessage struct {
	Type     string    `json:"type"`
	ID       string    `json:"id,omitempty"`
	Channel  string    `json:"channel,omitempty"`
	DeviceID string    `json:"device_id,omitempty"`
	Seq      uint64    `json:"seq,omitempty"`
	Time     time.Time `json:"time,omitzero"`
	Data     any       `json:"data,omitempty"`
}

// StreamRequest is one frame read from a client. Devices narrows a
// subscription to the listed device IDs; empty means every device.
type StreamRequest struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Devices  []string `json:"devices,omitempty"`
}

// filter decides which events a client receives.
type filter struct {
	channels map[string]struct{}
	devices  map[string]struct{}
}

func newFilter() filter {
	return filter{
		channels: make(map[string]struct{}),
		devices:  make(map[string]struct{}),
	}
}

func (f filter) matches(channel, deviceID string) bool {
	if !f.matchesChannel(channel) {
		return false
	}
	if len(f.devices) == 0 || deviceID == "" {
		return true
	}
	_, ok := f.devices[deviceID]
	return ok
}

func (f filter) matchesChannel(channel string) bool {
	if _, ok := f.channels[WildcardChannel]; ok {
		return true
	}
	if _, ok := f.channels[channel]; ok {
		return true
	}
	if family, _, found := strings.Cut(channel, "."); found {
		_, ok := f.channels[family+".*"]
		return ok
	}
	return false
}

// Hub fans registry and session events out to WebSocket clients.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger
	seq    atomic.Uint64

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

// streamClient is one connected WebSocket consumer.
type streamClient struct {
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	filter filter
	send   chan []byte
	closed bool
	drops  int
}

func newStreamClient(hub *Hub, conn *websocket.Conn) *streamClient {
	return &streamClient{
		hub:    hub,
		conn:   conn,
		filter: newFilter(),
		send:   make(chan []byte, streamBufferSize),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// The API is LAN-local; origin policy lives in the CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
	}
}

func (h *Hub) register(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.shutdown()
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Publish sends an event to every client whose filter matches channel and
// deviceID. Each event carries a hub-wide sequence number so clients can
// detect frames lost to a full buffer.
func (h *Hub) Publish(channel, deviceID string, data any) {
	msg := StreamMessage{
		Type:     StreamEvent,
		Channel:  channel,
		DeviceID: deviceID,
		Seq:      h.seq.Add(1),
		Time:     time.Now().UTC(),
		Data:     data,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal stream event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.wants(channel, deviceID) {
			continue
		}
		if !c.enqueue(payload) {
			h.logger.Warn("websocket client not reading, disconnecting")
			h.unregister(c)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket upgrades the connection and subscribes the client to
// the comma separated channels and devices query parameters.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newStreamClient(s.hub, conn)
	q := r.URL.Query()
	c.subscribe(splitList(q.Get("channels")), splitList(q.Get("devices")))

	s.hub.register(c)
	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *streamClient) wants(channel, deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter.matches(channel, deviceID)
}

func (c *streamClient) subscribe(channels, devices []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		c.filter.channels[ch] = struct{}{}
	}
	for _, id := range devices {
		c.filter.devices[id] = struct{}{}
	}
}

func (c *streamClient) unsubscribe(channels, devices []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		delete(c.filter.channels, ch)
	}
	for _, id := range devices {
		delete(c.filter.devices, id)
	}
}

// enqueue queues payload without blocking. It reports false once the
// client has missed maxConsecutiveDrops frames in a row.
func (c *streamClient) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		c.drops = 0
	default:
		c.drops++
	}
	return c.drops < maxConsecutiveDrops
}

// shutdown closes the send queue once, which ends writePump.
func (c *streamClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *streamClient) reply(msg StreamMessage) {
	msg.Time = time.Now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(payload)
}

func (c *streamClient) replyError(id, message string) {
	c.reply(StreamMessage{Type: StreamError, ID: id, Data: map[string]string{"message": message}})
}

func (c *streamClient) readPump(cfg config.WebSocketConfig) {
	defer c.hub.unregister(c)

	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	extend := func() {
		//nolint:errcheck // a missed deadline surfaces as a read error
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend()
	c.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings, so any frame counts.
		extend()
		c.handle(data)
	}
}

func (c *streamClient) writePump(cfg config.WebSocketConfig) {
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			//nolint:errcheck // write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // connection is going away
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) handle(data []byte) {
	var req StreamRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case StreamSubscribe:
		if len(req.Channels) == 0 && len(req.Devices) == 0 {
			c.replyError(req.ID, "subscribe needs channels or devices")
			return
		}
		c.subscribe(req.Channels, req.Devices)
		c.hub.logger.Debug("websocket client subscribed", "channels", req.Channels, "devices", req.Devices)
		c.reply(StreamMessage{Type: StreamAck, ID: req.ID, Data: map[string]any{
			"subscribed": req.Channels,
			"devices":    req.Devices,
		}})
	case StreamUnsubscribe:
		c.unsubscribe(req.Channels, req.Devices)
		c.reply(StreamMessage{Type: StreamAck, ID: req.ID, Data: map[string]any{
			"unsubscribed": req.Channels,
			"devices":      req.Devices,
		}})
	case StreamPing:
		c.reply(StreamMessage{Type: StreamPong, ID: req.ID})
	default:
		c.replyError(req.ID, "unknown message type: "+req.Type)
	}
}
