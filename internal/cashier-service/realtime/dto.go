package realtime

// ClientMsg é o que o navegador pode mandar pelo socket (hoje só ping)
type ClientMsg struct {
	Type string `json:"type"`
}
