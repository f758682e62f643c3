package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cashtrack/internal/services"
	"cashtrack/internal/storage"
)

// Server exposes the JSON API over a chi router. All ledger routes are
// owner-scoped through the JWT middleware.
type Server struct {
	http.Server

	store     *storage.SQLiteRepository
	txService *services.TransactionService
	clock     services.Clock

	jwtSecret string
	tokenTTL  time.Duration
}

type Options struct {
	Addr      string
	JWTSecret string
	TokenTTL  time.Duration
	Clock     services.Clock
}

func NewServer(store *storage.SQLiteRepository, txService *services.TransactionService, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = services.RealClock()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 7 * 24 * time.Hour
	}

	s := &Server{
		store:     store,
		txService: txService,
		clock:     opts.Clock,
		jwtSecret: opts.JWTSecret,
		tokenTTL:  opts.TokenTTL,
	}

	r := chi.NewRouter()
	r.Use(s.withRequestLogging)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.jwtAuth)

			r.Post("/change-password", s.handleChangePassword)

			r.Get("/transactions", s.handleListTransactions)
			r.Post("/transactions", s.handleCreateTransaction)
			r.Put("/transactions/{id}", s.handleUpdateTransaction)
			r.Delete("/transactions/{id}", s.handleDeleteTransaction)
			r.Get("/search/transactions", s.handleSearchTransactions)
			r.Get("/export/transactions", s.handleExportTransactions)

			r.Get("/balance", s.handleBalance)
			r.Get("/trends", s.handleTrends)
			r.Get("/stats", s.handleStats)
			r.Get("/stats/overview", s.handleStatsOverview)
			r.Get("/summary/monthly", s.handleMonthlySummary)
			r.Get("/categories", s.handleCategories)

			r.Get("/schedules", s.handleListSchedules)
			r.Post("/schedules", s.handleCreateSchedule)
			r.Delete("/schedules/{id}", s.handleDeleteSchedule)
		})
	})

	s.Server = http.Server{
		Addr:    opts.Addr,
		Handler: r,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.Server.Handler
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}

// withRequestLogging logs every request with its status and duration, and
// sets baseline security headers.
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		slog.InfoContext(r.Context(), "Request completed",
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
