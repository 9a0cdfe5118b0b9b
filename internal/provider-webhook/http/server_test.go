package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/provider-webhook/dto"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/provider-webhook/service"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/cache"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/ledger"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	store := repo.NewMemory()
	store.PutAccount(repo.Account{ID: "user-1", Balance: decimal.NewFromInt(100)})
	log := zap.NewNop()
	svc := service.New(service.Config{SecretKey: "k"}, store, cache.NewGameResolver(nil, 0, store, log), ledger.NewMutator(store, log, nil), log)
	return NewServer(log, svc, nil, time.Second).Router()
}

func post(t *testing.T, h http.Handler, body string) (int, dto.ProviderResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp dto.ProviderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return rec.Code, resp
}

func TestProviderWebhookFlow(t *testing.T) {
	h := newTestServer(t)

	code, resp := post(t, h, `{"action":"bet","user_code":"user-1","game_code":"g","round_id":"1","amount":30,"transaction_id":"r1","secret_key":"k"}`)
	if code != http.StatusOK || resp.Status != "success" || resp.Msg != "Transaction processed" {
		t.Fatalf("bet: %d %+v", code, resp)
	}
	if resp.Balance == nil || *resp.Balance != 70 {
		t.Fatalf("bet balance: %v", resp.Balance)
	}

	code, resp = post(t, h, `{"action":"bet","user_code":"user-1","game_code":"g","round_id":"1","amount":30,"transaction_id":"r1","secret_key":"k"}`)
	if code != http.StatusOK || resp.Msg != "Duplicate transaction" || *resp.Balance != 70 {
		t.Fatalf("replay: %d %+v", code, resp)
	}
}

func TestProviderWebhookErrors(t *testing.T) {
	h := newTestServer(t)

	cases := []struct {
		name    string
		body    string
		code    int
		msg     string
		withBal bool
	}{
		{"bad json", `{`, http.StatusBadRequest, "Invalid JSON", false},
		{"missing fields", `{"action":"bet"}`, http.StatusBadRequest, "Missing required fields", false},
		{"bad secret", `{"action":"bet","user_code":"user-1","amount":1,"transaction_id":"a","secret_key":"x"}`, http.StatusUnauthorized, "Invalid credentials", false},
		{"unknown user", `{"action":"bet","user_code":"nobody","amount":1,"transaction_id":"a","secret_key":"k"}`, http.StatusNotFound, "User not found", false},
		{"negative", `{"action":"win","user_code":"user-1","amount":-5,"transaction_id":"a","secret_key":"k"}`, http.StatusBadRequest, "Invalid amount", true},
		{"unknown action", `{"action":"jackpot","user_code":"user-1","amount":5,"transaction_id":"a","secret_key":"k"}`, http.StatusBadRequest, "Unknown action", true},
		{"insufficient", `{"action":"bet","user_code":"user-1","amount":500,"transaction_id":"a","secret_key":"k"}`, http.StatusBadRequest, "Insufficient balance", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := post(t, h, tc.body)
			if code != tc.code || resp.Msg != tc.msg || resp.Status != "error" {
				t.Fatalf("got %d %+v", code, resp)
			}
			if tc.withBal && (resp.Balance == nil || *resp.Balance != 100) {
				t.Fatalf("want balance 100, got %v", resp.Balance)
			}
		})
	}
}

func TestProviderWebhookPreflight(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/webhooks/provider", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("want 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

func TestProviderWebhookReferenceOfAnotherUser(t *testing.T) {
	store := repo.NewMemory()
	store.PutAccount(repo.Account{ID: "user-1", Balance: decimal.NewFromInt(100)})
	store.PutAccount(repo.Account{ID: "user-2", Balance: decimal.NewFromInt(5)})
	log := zap.NewNop()
	svc := service.New(service.Config{SecretKey: "k"}, store, cache.NewGameResolver(nil, 0, store, log), ledger.NewMutator(store, log, nil), log)
	h := NewServer(log, svc, nil, time.Second).Router()

	if code, resp := post(t, h, `{"action":"bet","user_code":"user-1","amount":30,"transaction_id":"r1","secret_key":"k"}`); code != http.StatusOK {
		t.Fatalf("bet: %d %+v", code, resp)
	}
	code, resp := post(t, h, `{"action":"win","user_code":"user-2","amount":40,"transaction_id":"r1","secret_key":"k"}`)
	if code != http.StatusConflict || resp.Status != "error" {
		t.Fatalf("want 409 error, got %d %+v", code, resp)
	}
	if resp.Balance == nil || *resp.Balance != 5 {
		t.Fatalf("balance must be user-2's own, got %v", resp.Balance)
	}
}
