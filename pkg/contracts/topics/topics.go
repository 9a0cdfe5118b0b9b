package topics

const (
	// Ledger
	LedgerTransactions = "ledger_transactions"

	// Notificações ao usuário
	UserNotifications = "user_notifications"

	// DLQs
	UserNotificationsDLQ = "user_notifications_dlq"
)
