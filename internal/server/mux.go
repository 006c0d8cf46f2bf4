// Package server provides HTTP server construction for the medsync
// inspection endpoint.
package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	// APIKeyHash is the bcrypt hash of the key clients send as a Bearer token.
	APIKeyHash string
	MCPHandler http.Handler
	Logger     *slog.Logger
}

// NewMux builds the HTTP mux: an unauthenticated health check and the MCP
// endpoint behind API key middleware.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.Handle("/mcp", APIKeyMiddleware(cfg.APIKeyHash, cfg.Logger)(cfg.MCPHandler))

	return mux
}

// APIKeyMiddleware returns HTTP middleware that accepts requests whose
// Bearer token matches the bcrypt hash. A verified key is remembered by
// its SHA-256 digest so bcrypt runs once per distinct key, not per request.
func APIKeyMiddleware(hash string, logger *slog.Logger) func(http.Handler) http.Handler {
	var (
		mu       sync.Mutex
		verified [][sha256.Size]byte
	)

	check := func(key string) bool {
		digest := sha256.Sum256([]byte(key))

		mu.Lock()
		for _, d := range verified {
			if subtle.ConstantTimeCompare(d[:], digest[:]) == 1 {
				mu.Unlock()
				return true
			}
		}
		mu.Unlock()

		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
			return false
		}

		mu.Lock()
		verified = append(verified, digest)
		mu.Unlock()

		return true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Debug("middleware: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="medsync"`)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			if !check(strings.TrimPrefix(authHeader, "Bearer ")) {
				logger.Debug("middleware: invalid API key",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="medsync", error="invalid_token"`)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			ctx := context.WithValue(r.Context(), ctxRemoteIP, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type contextKey int

const ctxRemoteIP contextKey = iota

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}
