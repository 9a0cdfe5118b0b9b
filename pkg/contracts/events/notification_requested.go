package events

import "time"

// Tipos de notificação exibidos ao usuário
const (
	NotificationSuccess = "success"
	NotificationError   = "error"
	NotificationInfo    = "info"
)

// NotificationRequested pede ao notification-worker que grave e transmita um aviso
type NotificationRequested struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Ts        time.Time `json:"ts"`
}
