package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// NewServer creates an HTTP server with all routes configured.
// Wallet mutations require adminAPIKey as a bearer token when it is set.
func NewServer(port string, handler *Handler, adminAPIKey string) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      NewMux(handler, adminAPIKey),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewMux registers all routes on a new ServeMux.
func NewMux(handler *Handler, adminAPIKey string) *http.ServeMux {
	protect := func(h http.HandlerFunc) http.Handler {
		if adminAPIKey == "" {
			return h
		}
		return requireAuth(adminAPIKey, h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/wallet", handler.GetWallet)
	mux.HandleFunc("GET /api/v1/wallet/valuation", handler.GetValuation)
	mux.Handle("POST /api/v1/wallet/holdings", protect(handler.AddHolding))
	mux.Handle("POST /api/v1/wallet/holdings/{id}/remove", protect(handler.RemoveHolding))

	mux.HandleFunc("GET /api/v1/assets", handler.ListAssets)
	mux.HandleFunc("GET /api/v1/assets/{id}", handler.GetAsset)
	mux.HandleFunc("GET /api/v1/assets/{id}/history", handler.GetHistory)
	mux.HandleFunc("GET /api/v1/assets/{id}/markets", handler.GetMarkets)

	return mux
}

func requireAuth(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if !strings.HasPrefix(auth, "Bearer ") || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
