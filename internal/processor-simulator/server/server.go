package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/cashier-service/processor"
	pdto "github.com/Nasci15k/nasci15kbet-416b2457/internal/payment-webhook/dto"
	sdto "github.com/Nasci15k/nasci15kbet-416b2457/internal/processor-simulator/dto"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/logger"
)

var (
	errNotFound       = errors.New("transaction not found")
	errAlreadySettled = errors.New("transaction already settled")
	errBadOutcome     = errors.New("invalid outcome")
)

// record é uma cobrança (cash_in) ou um saque (cash_out) mantido em memória
type record struct {
	id        string
	kind      string
	status    string
	amount    decimal.Decimal
	metadata  map[string]string
	createdAt time.Time
	expiresAt time.Time
}

func (r *record) open() bool {
	return r.status == processor.PaymentPending || r.status == sdto.WithdrawalProcessing
}

// Server imita a API REST da S6XPay e dispara os webhooks assinados
type Server struct {
	log          *zap.Logger
	clientID     string
	clientSecret string
	notifier     *Notifier
	hub          *Hub
	now          func() time.Time

	mu   sync.Mutex
	recs map[string]*record
}

// New cria o simulador; credenciais vazias aceitam qualquer cliente
func New(log *zap.Logger, clientID, clientSecret string, n *Notifier, hub *Hub) *Server {
	return &Server{
		log:          log,
		clientID:     clientID,
		clientSecret: clientSecret,
		notifier:     n,
		hub:          hub,
		now:          func() time.Time { return time.Now().UTC() },
		recs:         make(map[string]*record),
	}
}

// Handler monta as rotas públicas: API do processador, gatilhos de simulação e /ws
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /payments", s.withClient(s.createPayment))
	mux.HandleFunc("GET /payments/{id}", s.withClient(s.getPayment))
	mux.HandleFunc("POST /withdrawals", s.withClient(s.createWithdrawal))
	mux.HandleFunc("GET /balance", s.withClient(s.balance))
	mux.HandleFunc("POST /simulate/payments/{id}/{outcome}", s.simulate)
	mux.HandleFunc("POST /simulate/withdrawals/{id}/{outcome}", s.simulate)
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.ServeWS)
	}
	return mux
}

func (s *Server) withClient(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.clientID != "" || s.clientSecret != "" {
			id := r.Header.Get("X-Client-Id")
			secret := r.Header.Get("X-Client-Secret")
			if subtle.ConstantTimeCompare([]byte(id), []byte(s.clientID)) != 1 ||
				subtle.ConstantTimeCompare([]byte(secret), []byte(s.clientSecret)) != 1 {
				writeEnvelope(w, http.StatusUnauthorized, sdto.Envelope{Error: "invalid client credentials"})
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) createPayment(w http.ResponseWriter, r *http.Request) {
	var req processor.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, sdto.Envelope{Error: "invalid json"})
		return
	}
	amount, err := decimal.NewFromString(string(req.Amount))
	if err != nil || !amount.IsPositive() {
		writeEnvelope(w, http.StatusBadRequest, sdto.Envelope{Error: "invalid amount"})
		return
	}
	now := s.now()
	rec := &record{
		id:        "sim_pay_" + uuid.NewString(),
		kind:      pdto.TypeCashIn,
		status:    processor.PaymentPending,
		amount:    amount.Round(2),
		metadata:  req.Metadata,
		createdAt: now,
		expiresAt: now.Add(30 * time.Minute),
	}
	s.mu.Lock()
	s.recs[rec.id] = rec
	s.mu.Unlock()

	s.log.Info("payment created", zap.String("transaction_id", rec.id), zap.String("amount", rec.amount.String()))
	writeEnvelope(w, http.StatusOK, sdto.Envelope{Success: true, Data: paymentView(rec)})
}

func (s *Server) getPayment(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rec, ok := s.recs[r.PathValue("id")]
	var view processor.Payment
	if ok && rec.kind == pdto.TypeCashIn {
		view = paymentView(rec)
	}
	s.mu.Unlock()
	if !ok || rec.kind != pdto.TypeCashIn {
		writeEnvelope(w, http.StatusNotFound, sdto.Envelope{Error: "payment not found"})
		return
	}
	writeEnvelope(w, http.StatusOK, sdto.Envelope{Success: true, Data: view})
}

func (s *Server) createWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req processor.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, sdto.Envelope{Error: "invalid json"})
		return
	}
	amount, err := decimal.NewFromString(string(req.Amount))
	if err != nil || !amount.IsPositive() {
		writeEnvelope(w, http.StatusBadRequest, sdto.Envelope{Error: "invalid amount"})
		return
	}
	if strings.TrimSpace(req.PixKey) == "" {
		writeEnvelope(w, http.StatusBadRequest, sdto.Envelope{Error: "pix_key is required"})
		return
	}
	rec := &record{
		id:        "sim_wd_" + uuid.NewString(),
		kind:      pdto.TypeCashOut,
		status:    sdto.WithdrawalProcessing,
		amount:    amount.Round(2),
		metadata:  req.Metadata,
		createdAt: s.now(),
	}
	s.mu.Lock()
	s.recs[rec.id] = rec
	s.mu.Unlock()

	s.log.Info("withdrawal created", zap.String("transaction_id", rec.id), zap.String("pix_key_type", req.PixKeyType), logger.Masked("pix_key", req.PixKey))
	writeEnvelope(w, http.StatusOK, sdto.Envelope{Success: true, Data: processor.Withdrawal{TransactionID: rec.id, Status: rec.status}})
}

// balance soma cobranças pagas menos saques concluídos; pendentes ficam à parte
func (s *Server) balance(w http.ResponseWriter, _ *http.Request) {
	var b processor.Balance
	s.mu.Lock()
	for _, rec := range s.recs {
		switch {
		case rec.kind == pdto.TypeCashIn && rec.status == processor.PaymentPaid:
			b.Available = b.Available.Add(rec.amount)
		case rec.kind == pdto.TypeCashIn && rec.status == processor.PaymentPending:
			b.Pending = b.Pending.Add(rec.amount)
		case rec.kind == pdto.TypeCashOut && rec.status != sdto.WithdrawalFailed:
			b.Available = b.Available.Sub(rec.amount)
		}
	}
	s.mu.Unlock()
	writeEnvelope(w, http.StatusOK, sdto.Envelope{Success: true, Data: b})
}

func (s *Server) simulate(w http.ResponseWriter, r *http.Request) {
	ev, err := s.Settle(r.Context(), r.PathValue("id"), r.PathValue("outcome"))
	switch {
	case errors.Is(err, errNotFound):
		writeEnvelope(w, http.StatusNotFound, sdto.Envelope{Error: err.Error()})
	case errors.Is(err, errBadOutcome):
		writeEnvelope(w, http.StatusBadRequest, sdto.Envelope{Error: err.Error()})
	case errors.Is(err, errAlreadySettled):
		writeEnvelope(w, http.StatusConflict, sdto.Envelope{Error: err.Error()})
	case err != nil:
		// o status já mudou; a conciliação do caixa ainda enxerga via GET /payments
		writeEnvelope(w, http.StatusBadGateway, sdto.Envelope{Error: "webhook delivery failed: " + err.Error(), Data: ev})
	default:
		writeEnvelope(w, http.StatusOK, sdto.Envelope{Success: true, Data: ev})
	}
}

// Settle fecha a transação com o desfecho informado e dispara o webhook
// Cobranças aceitam paid|expired, saques aceitam completed|failed
func (s *Server) Settle(ctx context.Context, id, outcome string) (pdto.Event, error) {
	s.mu.Lock()
	rec, ok := s.recs[id]
	if !ok {
		s.mu.Unlock()
		return pdto.Event{}, errNotFound
	}
	ev, err := transition(rec, outcome)
	if err != nil {
		s.mu.Unlock()
		return pdto.Event{}, err
	}
	s.mu.Unlock()

	return ev, s.dispatch(ctx, ev)
}

// transition aplica o desfecho no registro; chamado com s.mu travado
func transition(rec *record, outcome string) (pdto.Event, error) {
	if !rec.open() {
		return pdto.Event{}, errAlreadySettled
	}
	ev := pdto.Event{
		TransactionID: rec.id,
		Type:          rec.kind,
		Amount:        rec.amount,
		Metadata:      make(map[string]any, len(rec.metadata)),
	}
	for k, v := range rec.metadata {
		ev.Metadata[k] = v
	}
	switch {
	case rec.kind == pdto.TypeCashIn && outcome == sdto.OutcomePaid:
		ev.Event, ev.Status = pdto.EventPaymentConfirmed, processor.PaymentPaid
		ev.PixData = map[string]any{"end_to_end_id": "E" + strings.ReplaceAll(uuid.NewString(), "-", "")[:31]}
	case rec.kind == pdto.TypeCashIn && outcome == sdto.OutcomeExpired:
		ev.Event, ev.Status = pdto.EventPaymentExpired, processor.PaymentExpired
	case rec.kind == pdto.TypeCashOut && outcome == sdto.OutcomeCompleted:
		ev.Event, ev.Status = pdto.EventWithdrawalCompleted, sdto.WithdrawalCompleted
	case rec.kind == pdto.TypeCashOut && outcome == sdto.OutcomeFailed:
		ev.Event, ev.Status = pdto.EventWithdrawalFailed, sdto.WithdrawalFailed
		ev.Error = "simulated payout failure"
	default:
		return pdto.Event{}, errBadOutcome
	}
	rec.status = ev.Status
	return ev, nil
}

func (s *Server) dispatch(ctx context.Context, ev pdto.Event) error {
	msg := sdto.MonitorMsg{Event: ev, Ts: s.now()}
	err := s.notifier.Send(ctx, ev)
	if err != nil {
		s.log.Warn("webhook delivery failed", zap.String("event", ev.Event), zap.String("transaction_id", ev.TransactionID), zap.Error(err))
		webhooksSent.WithLabelValues(ev.Event, "error").Inc()
		msg.Error = err.Error()
	} else {
		s.log.Info("webhook delivered", zap.String("event", ev.Event), zap.String("transaction_id", ev.TransactionID))
		webhooksSent.WithLabelValues(ev.Event, "ok").Inc()
		msg.Delivered = true
	}
	if s.hub != nil {
		s.hub.broadcast(msg)
	}
	return err
}

// AutoSettle fecha periodicamente o que está aberto há mais de delay
// approve decide o desfecho: true paga/conclui, false expira/falha
func (s *Server) AutoSettle(ctx context.Context, every, delay time.Duration, approve func() bool) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.settleDue(ctx, delay, approve)
		}
	}
}

func (s *Server) settleDue(ctx context.Context, delay time.Duration, approve func() bool) {
	cutoff := s.now().Add(-delay)
	s.mu.Lock()
	var due []*record
	for _, rec := range s.recs {
		if rec.open() && !rec.createdAt.After(cutoff) {
			due = append(due, rec)
		}
	}
	s.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].createdAt.Before(due[j].createdAt) })

	for _, rec := range due {
		ok := approve()
		var outcome string
		switch {
		case rec.kind == pdto.TypeCashIn && ok:
			outcome = sdto.OutcomePaid
		case rec.kind == pdto.TypeCashIn:
			outcome = sdto.OutcomeExpired
		case ok:
			outcome = sdto.OutcomeCompleted
		default:
			outcome = sdto.OutcomeFailed
		}
		if _, err := s.Settle(ctx, rec.id, outcome); err != nil && !errors.Is(err, errAlreadySettled) {
			s.log.Warn("auto settle failed", zap.String("transaction_id", rec.id), zap.Error(err))
		}
	}
}

func paymentView(rec *record) processor.Payment {
	expires := rec.expiresAt
	p := processor.Payment{
		TransactionID: rec.id,
		Status:        rec.status,
		Fee:           decimal.Zero,
		ExpiresAt:     &expires,
	}
	p.Pix.CopyPaste = "00020126580014br.gov.bcb.pix0136" + rec.id + "5204000053039865802BR6009SAO PAULO"
	p.Pix.QRCodeBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="
	return p
}

func writeEnvelope(w http.ResponseWriter, status int, env sdto.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
