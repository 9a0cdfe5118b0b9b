package signature

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestVerify(t *testing.T) {
	body := []byte(`{"event":"payment.confirmed"}`)
	sig := Sign("k", body)

	if err := Verify("k", body, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := Verify("k", body, strings.ToUpper(sig)); err != nil {
		t.Fatalf("hex case must not matter: %v", err)
	}

	cases := map[string]struct {
		secret, sig string
		body        []byte
	}{
		"tampered body": {"k", sig, []byte(`{"event":"payment.expired"}`)},
		"wrong secret":  {"other", sig, body},
		"missing":       {"k", "", body},
		"not hex":       {"k", "zz", body},
		"empty secret":  {"", Sign("", body), body},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if err := Verify(tc.secret, tc.body, tc.sig); !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("want ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestRequireSignatureRestoresBody(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusOK)
	})
	reject := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusUnauthorized) }
	h := RequireSignature("k", reject)(next)

	body := `{"event":"x"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(Header, Sign("k", []byte(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != body {
		t.Fatalf("code=%d body=%q", rec.Code, seen)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec = httptest.NewRecorder()
	seen = ""
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || seen != "" {
		t.Fatalf("unsigned request reached handler: code=%d", rec.Code)
	}
}
