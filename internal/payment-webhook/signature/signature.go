package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
)

const Header = "X-Webhook-Signature"

// maxBody limita o corpo lido antes da verificação
const maxBody = 1 << 20

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign devolve o HMAC-SHA256 do corpo em hex minúsculo
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify confere a assinatura em tempo constante
// Segredo vazio nunca valida
func Verify(secret string, body []byte, sig string) error {
	if secret == "" || sig == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(sig))
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// RequireSignature lê o corpo cru, valida o header e repõe o corpo para o handler
func RequireSignature(secret string, reject http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
			if err != nil {
				reject(w, r)
				return
			}
			if err := Verify(secret, body, r.Header.Get(Header)); err != nil {
				reject(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
