// Package http exposes the ledger service as a JSON REST API.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"divvy/internal/ledger"
)

type Server struct {
	http.Server
	svc *ledger.Service
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, svc *ledger.Service) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		svc: svc,
	}

	mux.HandleFunc("POST /api/ledgers", s.withSecurityHeaders(s.handleCreateLedger))
	mux.HandleFunc("GET /api/ledgers/{id}", s.withSecurityHeaders(s.handleGetLedger))
	mux.HandleFunc("PUT /api/ledgers/{id}/currency", s.withSecurityHeaders(s.handleSetBaseCurrency))
	mux.HandleFunc("POST /api/ledgers/{id}/participants", s.withSecurityHeaders(s.handleAddParticipant))
	mux.HandleFunc("GET /api/ledgers/{id}/participants", s.withSecurityHeaders(s.handleListParticipants))
	mux.HandleFunc("POST /api/ledgers/{id}/expenses", s.withSecurityHeaders(s.handleCreateExpense))
	mux.HandleFunc("GET /api/ledgers/{id}/expenses", s.withSecurityHeaders(s.handleListExpenses))
	mux.HandleFunc("DELETE /api/ledgers/{id}/expenses/{expenseID}", s.withSecurityHeaders(s.handleVoidExpense))
	mux.HandleFunc("GET /api/ledgers/{id}/balances", s.withSecurityHeaders(s.handleBalances))
	mux.HandleFunc("GET /api/ledgers/{id}/settlement", s.withSecurityHeaders(s.handleSettlement))
	mux.HandleFunc("GET /api/ledgers/{id}/stats", s.withSecurityHeaders(s.handleStats))
	mux.HandleFunc("GET /api/ledgers/{id}/export.csv", s.withSecurityHeaders(s.handleExportCSV))

	// Probes stay unwrapped so they do not flood the request log.
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	return s
}

type ctxKey string

const ctxKeyRequestID ctxKey = "request_id"

// withSecurityHeaders adds security headers and request logging to
// responses.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Extract client IP (considering proxies)
		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP,
			"user_agent", r.Header.Get("User-Agent"))

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"client_ip", clientIP)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp if random fails
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
