package realtime

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/httpx"
)

// TokenVerifier devolve a conta dona do token (auth.Verifier.Subject)
type TokenVerifier func(token string) (string, error)

// conn serializa escritas: o gorilla aceita um único escritor por conexão
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(msgType int, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return c.ws.WriteMessage(msgType, b)
}

// Hub entrega as notificações em tempo real para as conexões de cada conta
type Hub struct {
	upgrader websocket.Upgrader
	verify   TokenVerifier
	log      *zap.Logger

	mu   sync.RWMutex
	subs map[string]map[*conn]struct{}
}

func NewHub(log *zap.Logger, verify TokenVerifier, allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		verify:   verify,
		log:      log,
		subs:     make(map[string]map[*conn]struct{}),
	}
}

// HandleWS autentica pelo ?token= (ou Bearer) antes do upgrade e mantém a conexão até o cliente sair
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	accountID, err := h.verify(token)
	if token == "" || err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	c := &conn{ws: ws}
	h.add(accountID, c)
	defer func() {
		h.remove(accountID, c)
		_ = ws.Close()
	}()

	for {
		var msg ClientMsg
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == "ping" {
			_ = c.write(websocket.TextMessage, []byte(`{"type":"pong"}`))
		}
	}
}

func (h *Hub) add(accountID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[accountID]; !ok {
		h.subs[accountID] = make(map[*conn]struct{})
	}
	h.subs[accountID][c] = struct{}{}
	h.log.Debug("ws client connected", zap.String("account_id", accountID))
}

func (h *Hub) remove(accountID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[accountID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, accountID)
		}
	}
}

// Connections conta as conexões abertas da conta
func (h *Hub) Connections(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[accountID])
}

// Deliver repassa o payload para todas as conexões abertas da conta
func (h *Hub) Deliver(accountID string, payload []byte) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.subs[accountID]))
	for c := range h.subs[accountID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(websocket.TextMessage, payload); err != nil {
			h.log.Warn("ws write failed", zap.String("account_id", accountID), zap.Error(err))
			_ = c.ws.Close()
		}
	}
}
