/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     One slog line per request
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for a frontend
  5. Requester:  X-User-ID on every /api route

ROUTE GROUPS:
  /api/groups/*     Groups, members, expenses, balances, settlements
  /api/expenses/*   Expense lookup by ID
  /metrics          Prometheus metrics
  /healthz          Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/group-ledger/ledger"
)

// UserIDHeader names the requesting user.
const UserIDHeader = "X-User-ID"

// RouterOptions configures NewRouter.
type RouterOptions struct {
	CORSOrigins []string
	// Gatherer backs /metrics; nil omits the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserIDHeader},
			AllowCredentials: true,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", h.ListGroups)
			r.Post("/", h.CreateGroup)
			r.Post("/join", h.JoinGroup)

			r.Route("/{groupID}", func(r chi.Router) {
				r.Get("/", h.GetGroup)
				r.Post("/leave", h.LeaveGroup)
				r.Post("/invite-code", h.RegenerateInviteCode)

				// Member routes
				r.Get("/members", h.ListMembers)
				r.Put("/members/{userID}/role", h.UpdateMemberRole)
				r.Delete("/members/{userID}", h.RemoveMember)

				// Expense routes
				r.Get("/expenses", h.ListExpenses)
				r.Post("/expenses", h.CreateExpense)

				// Balance and settlement routes
				r.Get("/balances", h.GetBalances)
				r.Get("/settlements", h.SettlementHistory)
				r.Post("/settlements/preview", h.PreviewSettlement)
				r.Post("/settlements/execute", h.ExecuteSettlement)
				r.Post("/split-equally", h.SplitEqually)
			})
		})

		r.Get("/expenses/{expenseID}", h.GetExpense)
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type requesterKey struct{}

// requireUser rejects requests without X-User-ID and stores the user in
// the request context.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if user == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+UserIDHeader+" header", nil)
			return
		}
		ctx := context.WithValue(r.Context(), requesterKey{}, ledger.UserID(user))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requester(r *http.Request) ledger.UserID {
	user, _ := r.Context().Value(requesterKey{}).(ledger.UserID)
	return user
}

// requestLogger logs each request after it completes.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			} else if status >= http.StatusBadRequest {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"user_id", r.Header.Get(UserIDHeader),
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
