package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/calebrow/notifyd/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	defaultBufferSize = 64
)

type controlMessage struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

type wsMessage struct {
	Channel string `json:"channel"`
	Event   *Event `json:"payload,omitempty"`
	Kind    string `json:"event,omitempty"`
}

// Hub bridges broker channels to WebSocket clients. Each connection holds one
// broker subscription per channel and may add or drop channels with control
// messages while connected.
type Hub struct {
	broker   *Broker
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a websocket hub on top of the supplied broker. A nil
// broker is accepted; connected clients then simply receive no events.
func NewHub(broker *Broker) *Hub {
	return &Hub{
		broker: broker,
		log:    logger.WithModule("realtime.hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// Serve upgrades the HTTP connection to a WebSocket and subscribes it to the
// provided notification channels.
func (h *Hub) Serve(channels []string, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newConnection(h, conn)
	client.subscribe(channels)

	go client.writeLoop()
	client.readLoop()
}

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	send   chan wsMessage
	once   sync.Once

	mu     sync.Mutex
	closed bool
	unsubs map[string]func()
}

func newConnection(hub *Hub, conn *websocket.Conn) *connection {
	return &connection{
		hub:    hub,
		socket: conn,
		send:   make(chan wsMessage, defaultBufferSize),
		unsubs: make(map[string]func()),
	}
}

func (c *connection) subscribe(channels []string) {
	for _, channel := range uniqueChannels(channels) {
		c.mu.Lock()
		if _, exists := c.unsubs[channel]; exists {
			c.mu.Unlock()
			continue
		}
		c.mu.Unlock()

		ch := channel
		unsub := c.hub.broker.Subscribe(ch, func(event Event) {
			c.enqueue(wsMessage{Channel: ch, Kind: event.Kind, Event: &event})
		})

		c.mu.Lock()
		c.unsubs[ch] = unsub
		c.mu.Unlock()
	}
}

func (c *connection) unsubscribe(channels []string) {
	for _, channel := range uniqueChannels(channels) {
		c.mu.Lock()
		unsub, ok := c.unsubs[channel]
		if ok {
			delete(c.unsubs, channel)
		}
		c.mu.Unlock()
		if ok {
			unsub()
		}
	}
}

// enqueue holds c.mu across the send attempt so an in-flight broker publish
// can never hit the queue after close() has closed it.
func (c *connection) enqueue(message wsMessage) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- message:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.hub.log.Warn("dropping backpressure client", zap.String("channel", message.Channel))
		c.close()
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("unexpected websocket close", zap.Error(err))
			}
			break
		}

		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.hub.log.Warn("invalid control payload", zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "subscribe":
			c.subscribe(ctrl.Channels)
		case "unsubscribe":
			c.unsubscribe(ctrl.Channels)
		case "ping":
			c.enqueue(wsMessage{Kind: "pong"})
		default:
			c.hub.log.Warn("unsupported control action", zap.String("action", ctrl.Action))
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		unsubs := make([]func(), 0, len(c.unsubs))
		for _, unsub := range c.unsubs {
			unsubs = append(unsubs, unsub)
		}
		c.unsubs = map[string]func(){}
		close(c.send)
		c.mu.Unlock()

		for _, unsub := range unsubs {
			unsub()
		}

		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func uniqueChannels(channels []string) []string {
	unique := make(map[string]struct{}, len(channels))
	var result []string
	for _, channel := range channels {
		if channel = strings.TrimSpace(channel); channel != "" {
			if _, exists := unique[channel]; !exists {
				unique[channel] = struct{}{}
				result = append(result, channel)
			}
		}
	}
	return result
}
