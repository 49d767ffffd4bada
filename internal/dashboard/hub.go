package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"serumflow/engine"
	"serumflow/internal/metrics"
	"serumflow/logger"
	"serumflow/models"
	"serumflow/processor"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
	pingPeriod   = 30 * time.Second
)

// streamMessage is one frame of the /ws live stream.
type streamMessage struct {
	Type   string      `json:"type"`
	Market string      `json:"market"`
	Data   interface{} `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// hub fans engine updates out to websocket clients. A client that cannot keep
// up loses messages instead of slowing the engine down.
type hub struct {
	manager   *engine.Manager
	bookDepth int
	log       *logger.Log
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	subs    []*engine.Subscription
}

func newHub(manager *engine.Manager, bookDepth int, log *logger.Log) *hub {
	return &hub{
		manager:   manager,
		bookDepth: bookDepth,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// start subscribes to every live market.
func (h *hub) start(ctx context.Context) error {
	if h.manager == nil {
		return nil
	}
	for _, st := range h.manager.Markets() {
		if st.State() != engine.StateLive {
			continue
		}
		bookSub, err := st.SubscribeOrderBook(ctx, h.onBook)
		if err != nil {
			h.stop()
			return err
		}
		tradeSub, err := st.SubscribeTrades(ctx, h.onTrades)
		if err != nil {
			bookSub.Unsubscribe()
			h.stop()
			return err
		}
		h.mu.Lock()
		h.subs = append(h.subs, bookSub, tradeSub)
		h.mu.Unlock()
	}
	return nil
}

func (h *hub) stop() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	for c := range clients {
		close(c.send)
	}
}

func (h *hub) onBook(u engine.BookUpdate) {
	snap := processor.BuildSnapshot(models.RawBookMessage{
		Market:    u.Market.String(),
		Name:      u.Name,
		Slot:      u.Slot,
		Version:   u.Version,
		Book:      u.Book,
		Timestamp: time.Now(),
	}, h.bookDepth)
	h.broadcast(streamMessage{Type: "book", Market: u.Name, Data: snap})
}

func (h *hub) onTrades(u engine.TradeUpdate) {
	if len(u.Trades) == 0 {
		return
	}
	trades := processor.NormalizeTrades(models.RawTradeMessage{
		Market:    u.Market.String(),
		Name:      u.Name,
		Slot:      u.Slot,
		Trades:    u.Trades,
		Timestamp: time.Now(),
	})
	h.broadcast(streamMessage{Type: "trades", Market: u.Name, Data: trades})
}

func (h *hub) broadcast(msg streamMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithComponent("dashboard").WithError(err).Warn("failed to marshal stream message")
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			metrics.EmitDropMetric(h.log, metrics.DropMetricDashboard, msg.Market, msg.Type)
		}
	}
}

func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithComponent("dashboard").WithError(err).Debug("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client frames and unregisters the client once the
// connection fails.
func (h *hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
