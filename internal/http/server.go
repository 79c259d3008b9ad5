package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"billfold/internal/identity"
	"billfold/internal/ocr"
	"billfold/internal/storage"
)

// SyncPublisher enqueues an expense for the export worker. Nil means
// messaging is disabled and rows stay pending until the worker sweeps.
type SyncPublisher interface {
	PublishExpenseSync(ctx context.Context, id, version int64) error
}

type Server struct {
	http.Server

	repo       *storage.Repository
	sessions   *identity.Store
	registry   *ocr.Registry
	dispatcher *ocr.Dispatcher
	ingestor   *ocr.Ingestor
	sync       SyncPublisher

	maxUploadBytes int64
	rateLimiter    *rateLimiter
	shutdownOnce   sync.Once
}

// Deps carries everything the server wires together.
type Deps struct {
	Repo       *storage.Repository
	Sessions   *identity.Store
	Registry   *ocr.Registry
	Dispatcher *ocr.Dispatcher
	Ingestor   *ocr.Ingestor
	Sync       SyncPublisher

	MaxUploadBytes int64
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps) *Server {
	mux := http.NewServeMux()

	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 5 * 1024 * 1024
	}

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		repo:           deps.Repo,
		sessions:       deps.Sessions,
		registry:       deps.Registry,
		dispatcher:     deps.Dispatcher,
		ingestor:       deps.Ingestor,
		sync:           deps.Sync,
		maxUploadBytes: maxUpload,
		rateLimiter:    newRateLimiter(),
	}

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("POST /api/session", s.withSecurityHeaders(s.handleCreateSession))
	mux.HandleFunc("GET /api/session", s.withSecurityHeaders(s.handleGetSession))
	mux.HandleFunc("DELETE /api/session", s.withSecurityHeaders(s.handleDeleteSession))

	mux.HandleFunc("GET /api/expenses", s.withSecurityHeaders(s.handleListExpenses))
	mux.HandleFunc("POST /api/expenses", s.withSecurityHeaders(s.handleCreateExpense))
	mux.HandleFunc("GET /api/expenses/{id}", s.withSecurityHeaders(s.handleGetExpense))
	mux.HandleFunc("PUT /api/expenses/{id}", s.withSecurityHeaders(s.handleUpdateExpense))
	mux.HandleFunc("DELETE /api/expenses/{id}", s.withSecurityHeaders(s.handleDeleteExpense))
	mux.HandleFunc("GET /api/summary", s.withSecurityHeaders(s.handleMonthSummary))

	mux.HandleFunc("POST /api/ocr/upload", s.withSecurityHeaders(s.handleReceiptUpload))
	mux.HandleFunc("POST /api/webhook/ocr-result", s.withCallbackHeaders(s.handleOCRWebhook))
	mux.HandleFunc("GET /api/ocr/events", s.withSecurityHeaders(s.handleReceiptEvents))

	return s
}

// Shutdown stops the listener and the rate limiter cleanup goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting, and request logging.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return s.instrument(next, true)
}

// withCallbackHeaders is withSecurityHeaders without the per-IP rate
// limit. The OCR engine posts every result from a single address and a
// callback must only ever fail on a malformed body, never on volume.
func (s *Server) withCallbackHeaders(next http.HandlerFunc) http.HandlerFunc {
	return s.instrument(next, false)
}

func (s *Server) instrument(next http.HandlerFunc, rateLimited bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP,
			"user_agent", r.Header.Get("User-Agent"))

		if rateLimited && r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
// Flush is forwarded so streaming handlers keep working through the
// middleware.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Simple in-memory rate limiter, keyed by client IP.
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes client entries older than 10 minutes.
func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// allow permits up to 60 requests per client per minute.
func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]
	if !exists {
		rl.clients[clientIP] = &clientInfo{lastRequest: now, requests: 1}
		return true
	}

	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	client.requests++
	client.lastRequest = now
	return client.requests <= 60
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
