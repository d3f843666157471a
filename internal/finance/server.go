package finance

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// ImpersonationHeader carries an impersonation token on admin requests
const ImpersonationHeader = "X-Impersonation-Token"

const defaultMaxUploadSize = int64(50 << 20)

// Server handles HTTP requests for the finance API
type Server struct {
	service       *Service
	mux           *http.ServeMux
	maxUploadSize int64
}

type actorKey struct{}

// NewServer creates a new Server with default mux
func NewServer(service *Service) *Server {
	return NewServerWithMux(service, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, mux *http.ServeMux) *Server {
	s := &Server{
		service:       service,
		mux:           mux,
		maxUploadSize: defaultMaxUploadSize,
	}
	s.registerRoutes()
	return s
}

// SetMaxUploadSize limits statement uploads to n bytes
func (s *Server) SetMaxUploadSize(n int64) {
	if n > 0 {
		s.maxUploadSize = n
	}
}

func actorFrom(r *http.Request) *Actor {
	actor, _ := r.Context().Value(actorKey{}).(*Actor)
	return actor
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+ImpersonationHeader)
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// corsMiddleware adds CORS headers and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth resolves the caller from Basic credentials and the optional
// impersonation header
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Household Finance"`)
			writeError(w, ErrUnauthorized)
			return
		}

		actor, err := s.service.ResolveActor(username, password, r.Header.Get(ImpersonationHeader))
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				w.Header().Set("WWW-Authenticate", `Basic realm="Household Finance"`)
			}
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	}
}

// requireAdmin rejects callers that are not acting as an admin
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !actorFrom(r).IsAdmin() {
			writeError(w, ErrForbidden)
			return
		}
		next(w, r)
	})
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/me", s.requireAuth(s.handleMe))
	s.mux.HandleFunc("GET /api/banks", s.requireAuth(s.handleBanks))
	s.mux.HandleFunc("GET /api/categories", s.requireAuth(s.handleCategories))
	s.mux.HandleFunc("GET /api/dashboard", s.requireAuth(s.handleDashboard))

	s.mux.HandleFunc("POST /api/invoices/parse", s.requireAuth(s.handleParseInvoice))
	s.mux.HandleFunc("GET /api/invoices/{id}/file", s.requireAuth(s.handleGetInvoiceFile))
	s.mux.HandleFunc("GET /api/invoices/{id}", s.requireAuth(s.handleGetInvoice))
	s.mux.HandleFunc("DELETE /api/invoices/{id}", s.requireAuth(s.handleDeleteInvoice))
	s.mux.HandleFunc("GET /api/invoices", s.requireAuth(s.handleListInvoices))
	s.mux.HandleFunc("POST /api/invoices", s.requireAuth(s.handleImportInvoice))

	s.mux.HandleFunc("GET /api/transactions/{id}", s.requireAuth(s.handleGetTransaction))
	s.mux.HandleFunc("PUT /api/transactions/{id}", s.requireAuth(s.handleUpdateTransaction))
	s.mux.HandleFunc("DELETE /api/transactions/{id}", s.requireAuth(s.handleDeleteTransaction))
	s.mux.HandleFunc("GET /api/transactions", s.requireAuth(s.handleListTransactions))
	s.mux.HandleFunc("POST /api/transactions", s.requireAuth(s.handleCreateTransaction))

	s.mux.HandleFunc("GET /api/admin/users/{id}", s.requireAdmin(s.handleGetUser))
	s.mux.HandleFunc("PUT /api/admin/users/{id}", s.requireAdmin(s.handleUpdateUser))
	s.mux.HandleFunc("DELETE /api/admin/users/{id}", s.requireAdmin(s.handleDeleteUser))
	s.mux.HandleFunc("GET /api/admin/users", s.requireAdmin(s.handleListUsers))
	s.mux.HandleFunc("POST /api/admin/users", s.requireAdmin(s.handleCreateUser))
	s.mux.HandleFunc("GET /api/admin/households", s.requireAdmin(s.handleListHouseholds))
	s.mux.HandleFunc("POST /api/admin/households", s.requireAdmin(s.handleCreateHousehold))
	s.mux.HandleFunc("POST /api/admin/impersonations", s.requireAdmin(s.handleStartImpersonation))
	// Reachable while impersonating so the admin can end the session it is using
	s.mux.HandleFunc("DELETE /api/admin/impersonations/{token}", s.requireAuth(s.handleEndImpersonation))
	s.mux.HandleFunc("GET /api/admin/metrics", s.requireAdmin(s.handleMetrics))
	s.mux.HandleFunc("GET /api/admin/audit", s.requireAdmin(s.handleAudit))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	corsMiddleware(s.mux).ServeHTTP(w, r)
}
