package processor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCreatePayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/payments" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Client-Id") != "id" || r.Header.Get("X-Client-Secret") != "sec" {
			t.Errorf("missing credentials headers")
		}
		var in PaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
		}
		if in.Amount != "50.00" || in.Metadata["deposit_id"] != "d-1" {
			t.Errorf("unexpected body: %+v", in)
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"transaction_id":"s6x-1","status":"pending","fee":0.5,"expires_at":"2026-01-01T10:00:00Z","pix":{"copy_paste":"000201","qr_code_base64":"iVBOR"}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "id", "sec")
	p, err := c.CreatePayment(context.Background(), PaymentRequest{
		Amount:   Amount(decimal.NewFromInt(50)),
		Metadata: map[string]string{"deposit_id": "d-1"},
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if p.TransactionID != "s6x-1" || p.Pix.CopyPaste != "000201" || p.Pix.QRCodeBase64 != "iVBOR" || p.ExpiresAt == nil {
		t.Fatalf("unexpected payment: %+v", p)
	}
	if !p.Fee.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("fee: %s", p.Fee)
	}
}

func TestProcessorErrors(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		msg    string
	}{
		"http error":    {http.StatusBadRequest, `{"success":false,"message":"amount too low"}`, "amount too low"},
		"success false": {http.StatusOK, `{"success":false,"error":"blocked"}`, "blocked"},
		"not json":      {http.StatusBadGateway, `<html>`, "invalid response body"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, "id", "sec").GetPayment(context.Background(), "s6x-1")
			if !errors.Is(err, ErrExternalProcessor) {
				t.Fatalf("want ErrExternalProcessor, got %v", err)
			}
			var perr *Error
			if !errors.As(err, &perr) || perr.Message != tc.msg || perr.Op != "get_payment" {
				t.Fatalf("unexpected error: %#v", perr)
			}
		})
	}
}

func TestUnreachableProcessor(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, "id", "sec").GetBalance(context.Background())
	if !errors.Is(err, ErrExternalProcessor) {
		t.Fatalf("want ErrExternalProcessor, got %v", err)
	}
}

func TestMapPixKeyType(t *testing.T) {
	cases := map[string]string{
		"cpf": "CPF", "CNPJ": "CNPJ", "email": "EMAIL", "phone": "PHONE",
		"random": "EVP", "evp": "EVP", " Email ": "EMAIL", "unknown": "CPF",
	}
	for in, want := range cases {
		if got := MapPixKeyType(in); got != want {
			t.Errorf("MapPixKeyType(%q) = %q, want %q", in, got, want)
		}
	}
}
