package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	monitorConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulator_ws_connections",
		Help: "Monitores WebSocket conectados",
	})
	webhooksSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simulator_webhooks_sent_total",
		Help: "Webhooks disparados por evento e resultado",
	}, []string{"event", "result"})
)

// Collectors devolve as métricas do simulador para registro no main
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{monitorConnections, webhooksSent}
}

type monitorConn struct {
	id   string
	conn *websocket.Conn
}

// Hub mantém os monitores conectados em /ws e replica cada webhook disparado
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[string]*monitorConn
	log      *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*monitorConn),
		log:     log,
	}
}

func (h *Hub) add(c *monitorConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	monitorConnections.Inc()
	h.log.Info("ws monitor connected", zap.String("client_id", c.id))
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[id]; ok {
		delete(h.clients, id)
		monitorConnections.Dec()
		h.log.Info("ws monitor disconnected", zap.String("client_id", id))
	}
}

// Len devolve quantos monitores estão conectados
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(v any) {
	msg, _ := json.Marshal(v)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Warn("ws write failed", zap.String("client_id", id), zap.Error(err))
			_ = c.conn.Close()
		}
	}
}

// ServeWS promove a conexão e descarta o que o monitor enviar até ele sair
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	c := &monitorConn{id: uuid.NewString(), conn: conn}
	h.add(c)

	go func() {
		defer func() {
			h.remove(c.id)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
