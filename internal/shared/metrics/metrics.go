package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics agrupa os contadores de negócio expostos em /metrics
// Os métodos aceitam receiver nil para simplificar os testes
type Metrics struct {
	webhookRequests  *prometheus.CounterVec
	ledgerMutations  *prometheus.CounterVec
	ledgerDuplicates *prometheus.CounterVec
	processorCalls   *prometheus.CounterVec
	reconcileRuns    *prometheus.CounterVec
	notifications    *prometheus.CounterVec
}

// New cria e registra os contadores no registry informado
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "webhooks recebidos por endpoint e resultado",
		}, []string{"endpoint", "outcome"}),
		ledgerMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_mutations_total",
			Help: "mutações de saldo por tipo e resultado",
		}, []string{"type", "result"}),
		ledgerDuplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_duplicates_total",
			Help: "referências externas repetidas absorvidas",
		}, []string{"source"}),
		processorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cashier_processor_calls_total",
			Help: "chamadas ao processador de pagamentos",
		}, []string{"op", "result"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_runs_total",
			Help: "depósitos conciliados pelo poller",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_consumed_total",
			Help: "notificações consumidas pelo worker",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.webhookRequests,
		m.ledgerMutations,
		m.ledgerDuplicates,
		m.processorCalls,
		m.reconcileRuns,
		m.notifications,
	)
	return m
}

func (m *Metrics) Webhook(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.webhookRequests.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) Mutation(txType, result string) {
	if m == nil {
		return
	}
	m.ledgerMutations.WithLabelValues(txType, result).Inc()
}

func (m *Metrics) Duplicate(source string) {
	if m == nil {
		return
	}
	m.ledgerDuplicates.WithLabelValues(source).Inc()
}

func (m *Metrics) ProcessorCall(op, result string) {
	if m == nil {
		return
	}
	m.processorCalls.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Reconcile(result string) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}
