package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"streamgate/internal/domain"
	"streamgate/internal/metrics"
)

const (
	wsSendBuffer    = 256
	wsPublishBuffer = 256
	wsWriteWait     = 10 * time.Second
	wsPongWait      = 60 * time.Second
	wsPingPeriod    = 30 * time.Second
)

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type helloData struct {
	Subscriber domain.SubscriberID `json:"subscriber"`
}

type wsClient struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	subscriber domain.SubscriberID
}

type directedMessage struct {
	subscriber domain.SubscriberID
	payload    []byte
}

// Hub routes push messages to the WebSocket connections of one subscriber.
// Messages for subscribers without a connection are dropped.
type Hub struct {
	clients    map[domain.SubscriberID]map[*wsClient]struct{}
	publish    chan directedMessage
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	closeOnce  sync.Once
	connected  atomic.Int64
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[domain.SubscriberID]map[*wsClient]struct{}),
		publish:    make(chan directedMessage, wsPublishBuffer),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves the hub until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for _, set := range h.clients {
				for client := range set {
					if client.conn != nil {
						_ = client.conn.WriteControl(
							websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
							time.Now().Add(2*time.Second),
						)
					}
					close(client.send)
				}
			}
			h.clients = make(map[domain.SubscriberID]map[*wsClient]struct{})
			h.setConnected(0)
			h.logger.Debug("ws hub stopped, all clients disconnected")
			return
		case client := <-h.register:
			set, ok := h.clients[client.subscriber]
			if !ok {
				set = make(map[*wsClient]struct{})
				h.clients[client.subscriber] = set
			}
			set[client] = struct{}{}
			h.setConnected(h.connected.Load() + 1)
			h.logger.Debug("ws client connected",
				slog.String("subscriber", string(client.subscriber)),
				slog.Int64("total", h.connected.Load()),
			)
		case client := <-h.unregister:
			h.remove(client)
		case msg := <-h.publish:
			set := h.clients[msg.subscriber]
			if len(set) == 0 {
				metrics.WSMessagesDroppedTotal.Inc()
				continue
			}
			for client := range set {
				select {
				case client.send <- msg.payload:
				default:
					metrics.WSMessagesDroppedTotal.Inc()
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *wsClient) {
	set, ok := h.clients[client.subscriber]
	if !ok {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.subscriber)
	}
	close(client.send)
	h.setConnected(h.connected.Load() - 1)
	h.logger.Debug("ws client disconnected",
		slog.String("subscriber", string(client.subscriber)),
		slog.Int64("total", h.connected.Load()),
	)
}

func (h *Hub) setConnected(n int64) {
	h.connected.Store(n)
	metrics.WSConnections.Set(float64(n))
}

// Close stops the hub and disconnects every client. Safe to call twice.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) clientCount() int {
	return int(h.connected.Load())
}

// Publish sends a typed JSON message to every connection of subscriber.
// It never blocks; a full queue drops the message.
func (h *Hub) Publish(subscriber domain.SubscriberID, msgType string, data any) {
	if subscriber == "" {
		return
	}
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return
	}
	select {
	case <-h.done:
	case h.publish <- directedMessage{subscriber: subscriber, payload: payload}:
	default:
		metrics.WSMessagesDroppedTotal.Inc()
	}
}

func (h *Hub) add(client *wsClient) bool {
	select {
	case <-h.done:
		return false
	case h.register <- client:
		return true
	}
}

func (h *Hub) drop(client *wsClient) {
	select {
	case <-h.done:
	case h.unregister <- client:
	}
}

// ServeWS upgrades the request and attaches the connection to a subscriber.
// Without a subscriber query parameter a fresh id is assigned and announced
// in the hello message.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader) {
	sub := domain.SubscriberID(strings.TrimSpace(r.URL.Query().Get("subscriber")))
	if sub == "" {
		sub = domain.SubscriberID(uuid.NewString())
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, wsSendBuffer),
		subscriber: sub,
	}
	if hello, err := json.Marshal(wsMessage{Type: "hello", Data: helloData{Subscriber: sub}}); err == nil {
		client.send <- hello
	}
	if !h.add(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || isOriginAllowed(allowedOrigins, origin)
		},
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
