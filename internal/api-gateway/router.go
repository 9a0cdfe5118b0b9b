package apigateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/httpx"
)

func rp(to string) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(to)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", to)
	}
	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ModifyResponse = stripCORS
	return proxy, nil
}

// stripCORS remove os cabeçalhos CORS do upstream; quem responde o navegador é o gateway
func stripCORS(res *http.Response) error {
	for _, h := range []string{
		"Access-Control-Allow-Origin",
		"Access-Control-Allow-Headers",
		"Access-Control-Allow-Methods",
	} {
		res.Header.Del(h)
	}
	return nil
}

// NewRouter encaminha /webhooks/* para o webhook-gateway e /v1/*, /ws/* para o cashier-service
// Os caminhos seguem intactos: cada serviço já expõe as rotas com o prefixo
func NewRouter(webhookURL, cashierURL string) (http.Handler, error) {
	webhooks, err := rp(webhookURL)
	if err != nil {
		return nil, err
	}
	cashier, err := rp(cashierURL)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/webhooks/", webhooks)
	mux.Handle("/v1/", cashier)
	mux.Handle("/ws/", cashier)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return httpx.WithCORS(mux), nil
}
