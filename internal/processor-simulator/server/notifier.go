package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	pdto "github.com/Nasci15k/nasci15kbet-416b2457/internal/payment-webhook/dto"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/payment-webhook/signature"
)

// Notifier entrega os eventos assinados no endpoint de webhook configurado
type Notifier struct {
	URL    string
	Secret string
	HTTP   *http.Client
}

func NewNotifier(url, secret string) *Notifier {
	return &Notifier{URL: url, Secret: secret, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

func (n *Notifier) Send(ctx context.Context, ev pdto.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode webhook: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.Header, signature.Sign(n.Secret, body))

	res, err := n.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	if res.StatusCode >= 300 {
		return fmt.Errorf("webhook target returned %d", res.StatusCode)
	}
	return nil
}
