package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wsacademy/ledger-engine/internal/metrics"
)

// WebSocket message types.
const (
	MsgTradeSettled       = "trade_settled"
	MsgAchievementAwarded = "achievement_awarded"
	MsgAchievementIssued  = "achievement_issued"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WSMessage is a JSON message sent to WebSocket clients. Clients subscribe
// to these instead of polling after an order or award.
type WSMessage struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Symbol    string `json:"symbol,omitempty"`
	TradeType string `json:"trade_type,omitempty"`
	Quantity  string `json:"quantity,omitempty"`
	Price     string `json:"price,omitempty"`
	Cash      string `json:"cash,omitempty"`
	Sequence  int64  `json:"sequence,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Ref       string `json:"ref,omitempty"`
}

type subscription struct {
	conn   *websocket.Conn
	userID string // empty receives every user's events
}

type event struct {
	userID string
	data   []byte
}

// WSHub fans ledger events out to WebSocket subscribers. A subscriber that
// connects with ?user_id=X only receives events for X.
type WSHub struct {
	clients    map[*websocket.Conn]string
	events     chan event
	register   chan subscription
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.Mutex // guards clients and serializes writes per connection
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]string),
		events:     make(chan event, 256),
		register:   make(chan subscription),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It closes every connection when ctx ends.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.clients[sub.conn] = sub.userID
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "user_id", sub.userID, "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

func (h *WSHub) deliver(ev event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, userID := range h.clients {
		if userID != "" && userID != ev.userID {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, ev.data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

// Broadcast queues msg for the subscribers of msg.UserID. A nil hub is a
// no-op, and a full queue drops the message rather than block settlement.
func (h *WSHub) Broadcast(msg WSMessage) {
	if h == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.events <- event{userID: msg.UserID, data: data}:
	default:
		slog.Warn("ws event dropped", "type", msg.Type, "user_id", msg.UserID)
	}
}

func (h *WSHub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS upgrades GET /api/v1/ws[?user_id=X].
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- subscription{conn: conn, userID: r.URL.Query().Get("user_id")}:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: clients never send anything useful, this only detects disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.Lock()
			_, ok := h.clients[conn]
			var err error
			if ok {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			}
			h.mu.Unlock()
			if !ok || err != nil {
				return
			}
		}
	}()
}
