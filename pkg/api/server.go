// Package api exposes exploration sessions over HTTP. Each client session
// owns one explore.Explorer; the snapshot loader and the session key-value
// store are shared.
package api

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/rmax-ai/mhive/pkg/category"
	"github.com/rmax-ai/mhive/pkg/data"
	"github.com/rmax-ai/mhive/pkg/explore"
	"github.com/rmax-ai/mhive/pkg/graph"
	"github.com/rmax-ai/mhive/pkg/logging"
	"github.com/rmax-ai/mhive/pkg/metrics"
	"github.com/rmax-ai/mhive/pkg/session"
)

// Session identity travels in this header or cookie.
const (
	SessionHeader = "X-Session-ID"
	SessionCookie = "mhive_session"
)

const maxBodyBytes = 1 << 20

type contextKey string

const (
	traceIDKey   contextKey = "trace_id"
	sessionIDKey contextKey = "session_id"
)

// Config holds the tunables of a Server. Zero values take defaults.
type Config struct {
	Addr          string
	Explore       explore.Options
	SessionWindow time.Duration
	// AdminToken guards /v1/admin/*. Empty disables the check.
	AdminToken string
}

// Server is the mhive HTTP API server.
type Server struct {
	loader *data.Loader
	kv     session.KV
	cfg    Config
	logger *log.Logger

	validate *validator.Validate
	starts   singleflight.Group
	server   *http.Server

	tlsCertFile string
	tlsKeyFile  string
	adminHash   string

	mu          sync.Mutex
	sessions    map[string]*liveSession
	unavailable error
	now         func() time.Time
}

// liveSession is one in-memory explorer and when a request last used it.
type liveSession struct {
	ex       *explore.Explorer
	lastUsed time.Time
}

// NewServer creates a new API server over a shared loader and session store.
func NewServer(loader *data.Loader, kv session.KV, cfg Config, logger *log.Logger) *Server {
	if kv == nil {
		kv = session.NewMemoryKV()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	s := &Server{
		loader:   loader,
		kv:       kv,
		cfg:      cfg,
		logger:   logging.OrDiscard(logger),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		sessions: make(map[string]*liveSession),
		now:      time.Now,
	}
	if cfg.AdminToken != "" {
		s.adminHash = hashToken(cfg.AdminToken)
	}

	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("/v1/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/v1/graph", s.withSession(s.handleGraph))
	mux.HandleFunc("/v1/state", s.withSession(s.handleState))
	mux.HandleFunc("/v1/select", s.withSession(s.handleSelect))
	mux.HandleFunc("/v1/filter", s.withSession(s.handleFilter))
	mux.HandleFunc("/v1/reset", s.withSession(s.handleReset))
	mux.HandleFunc("/v1/breadcrumb", s.withSession(s.handleBreadcrumb))
	mux.HandleFunc("/v1/search", s.withSession(s.handleSearch))
	mux.HandleFunc("/v1/categories", s.withSession(s.handleCategories))
	mux.HandleFunc("/v1/neighborhood/", s.withSession(s.handleNeighborhood))
	mux.HandleFunc("/v1/entities/", s.handleEntity)
	mux.HandleFunc("/v1/admin/cache/clear", s.withAdmin(s.handleCacheClear))
	mux.HandleFunc("/v1/reload", s.withAdmin(s.handleReload))

	// Middleware: Logging, Panic Recovery, Security Headers
	handler := withLogging(s.logger, withRecovery(s.logger, withSecureHeaders(mux)))

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetTLS configures TLS certificates
func (s *Server) SetTLS(certFile, keyFile string) {
	s.tlsCertFile = certFile
	s.tlsKeyFile = keyFile
}

// Start begins listening for HTTP requests (blocking)
func (s *Server) Start() error {
	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		s.logger.Info("server starting", "addr", s.server.Addr, "tls", true)
		if err := s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile); err != http.ErrServerClosed {
			return err
		}
	} else {
		s.logger.Info("server starting", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("server stopping")
	return s.server.Shutdown(ctx)
}

// Sessions returns the number of live exploration sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Reload refetches the bulk tiers and swaps the new data into every live
// session. On success the server leaves the data-unavailable state.
func (s *Server) Reload(ctx context.Context) error {
	if err := s.loader.LoadAll(ctx, nil); err != nil {
		if ctx.Err() == nil {
			s.markUnavailable(err)
		}
		return err
	}

	s.mu.Lock()
	s.unavailable = nil
	explorers := make([]*explore.Explorer, 0, len(s.sessions))
	for _, ls := range s.sessions {
		explorers = append(explorers, ls.ex)
	}
	s.mu.Unlock()

	for _, ex := range explorers {
		if !ex.Started() {
			continue
		}
		if err := ex.Start(ctx); err != nil {
			if ctx.Err() == nil {
				s.markUnavailable(err)
			}
			return err
		}
	}
	s.logger.Info("data reloaded", "sessions", len(explorers))
	return nil
}

// PruneBefore drops the in-memory explorers of sessions not used since
// cutoff. Their state stays in the session store, so a returning client
// resumes where it left off. It satisfies session.Pruner.
func (s *Server) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	var evicted int64
	for id, ls := range s.sessions {
		if ls.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	if evicted > 0 {
		s.logger.Debug("evicted idle sessions", "count", evicted)
	}
	return evicted, nil
}

func (s *Server) markUnavailable(err error) {
	s.mu.Lock()
	s.unavailable = err
	s.mu.Unlock()
	s.logger.Error("snapshot data unavailable", "error", err)
}

// explorer returns the started Explorer of a session, creating it on first
// use. While bulk data is unavailable it returns the recorded failure.
func (s *Server) explorer(ctx context.Context, id string) (*explore.Explorer, error) {
	s.mu.Lock()
	if s.unavailable != nil {
		err := s.unavailable
		s.mu.Unlock()
		return nil, err
	}
	ls, ok := s.sessions[id]
	if !ok {
		store := session.NewStore(s.kv, id,
			session.WithLogger(s.logger),
			session.WithWindow(s.cfg.SessionWindow),
		)
		ls = &liveSession{ex: explore.New(s.loader, store, s.cfg.Explore, s.logger.With("session", id))}
		s.sessions[id] = ls
		metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
	ls.lastUsed = s.now()
	ex := ls.ex
	s.mu.Unlock()

	if ex.Started() {
		return ex, nil
	}
	// The start is shared by concurrent requests of the session, so it must
	// not die with whichever request happened to begin it.
	ch := s.starts.DoChan(id, func() (interface{}, error) {
		if ex.Started() {
			return nil, nil
		}
		return nil, ex.Start(context.WithoutCancel(ctx))
	})
	var err error
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		err = res.Err
	}
	if err != nil {
		var netErr *data.NetworkError
		if errors.As(err, &netErr) && ctx.Err() == nil {
			s.markUnavailable(err)
		}
		return nil, err
	}
	return ex, nil
}

// handleHealth returns simple status
func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request, ex *explore.Explorer) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	st := ex.State()
	writeJSON(w, r, http.StatusOK, GraphResponse{
		SessionID:  getSessionID(r.Context()),
		Graph:      ex.View(),
		Focused:    st.Focused,
		SelectedID: st.SelectedID,
		Displayed:  len(st.Displayed),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, ex *explore.Explorer) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	s.writeState(w, r, ex, nil)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, ex *explore.Explorer) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	var req SelectRequest
	if !s.decode(w, r, &req) {
		return
	}

	var (
		ok  bool
		err error
	)
	if req.ID != "" {
		ok, err = ex.SelectNode(r.Context(), req.ID)
	} else {
		ok, err = ex.SelectDeepLink(r.Context(), req.Fragment)
	}
	if errors.Is(err, explore.ErrBadFragment) {
		writeError(w, r, http.StatusBadRequest, "invalid_fragment", req.Fragment)
		return
	}
	if err != nil {
		s.writeExploreError(w, r, err)
		return
	}
	s.writeState(w, r, ex, &ok)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request, ex *explore.Explorer) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	var req FilterRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := ex.SetFilter(r.Context(), explore.Filter{Categories: req.Categories, Eras: req.Eras}); err != nil {
		s.writeExploreError(w, r, err)
		return
	}
	s.writeState(w, r, ex, nil)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, ex *explore.Explorer) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	if err := ex.Reset(r.Context()); err != nil {
		s.writeExploreError(w, r, err)
		return
	}
	s.writeState(w, r, ex, nil)
}

func (s *Server) handleBreadcrumb(w http.ResponseWriter, r *http.Request, ex *explore.Explorer) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	var req BreadcrumbRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := ex.NavigateBreadcrumb(r.Context(), *req.Index)
	if errors.Is(err, explore.ErrBreadcrumbIndex) {
		writeError(w, r, http.StatusBadRequest, "invalid_breadcrumb_index", strconv.Itoa(*req.Index))
		return
	}
	if err != nil {
		s.writeExploreError(w, r, err)
		return
	}
	s.writeState(w, r, ex, nil)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, ex *explore.Explorer) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	q := r.URL.Query().Get("q")
	limit, ok := intParam(r, "limit", 20)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_limit", "")
		return
	}
	results := ex.Search(q, limit)
	if results == nil {
		results = []graph.IndexEntry{}
	}
	writeJSON(w, r, http.StatusOK, SearchResponse{Query: q, Results: results})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request, ex *explore.Explorer) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	tree := ex.Categories()
	writeJSON(w, r, http.StatusOK, CategoriesResponse{
		Tree:   tree,
		Counts: category.Counts(tree, ex.Index()),
	})
}

func (s *Server) handleNeighborhood(w http.ResponseWriter, r *http.Request, ex *explore.Explorer) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/neighborhood/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusBadRequest, "missing_id", "")
		return
	}
	depth, ok := intParam(r, "depth", 1)
	if !ok || depth < 1 || depth > 5 {
		writeError(w, r, http.StatusBadRequest, "invalid_depth", "")
		return
	}
	limit, ok := intParam(r, "limit", 50)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid_limit", "")
		return
	}
	if !ex.Index().Has(id) {
		writeError(w, r, http.StatusNotFound, "not_found", id)
		return
	}
	ids := ex.Neighborhood(id, depth, limit)
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, r, http.StatusOK, NeighborhoodResponse{ID: id, Depth: depth, IDs: ids})
}

// handleEntity serves one detail document. Detail fetches fail soft, so any
// miss is reported as not_found.
func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/entities/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusBadRequest, "missing_id", "")
		return
	}
	entity := s.loader.FetchEntityDetail(r.Context(), id)
	if entity == nil {
		writeError(w, r, http.StatusNotFound, "not_found", id)
		return
	}
	writeJSON(w, r, http.StatusOK, entity)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	tier := r.URL.Query().Get("tier")
	if tier == "" {
		tier = data.TierAll
	}
	if !s.loader.Clear(tier) {
		writeError(w, r, http.StatusBadRequest, "invalid_tier", tier)
		return
	}
	s.logger.Info("cache cleared", "tier", tier, "trace_id", getTraceID(r.Context()))
	writeJSON(w, r, http.StatusOK, CacheClearResponse{Tier: tier, Cleared: true})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	if err := s.Reload(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "data_unavailable", err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, ReloadResponse{Status: "ok", Sessions: s.Sessions()})
}

func (s *Server) writeState(w http.ResponseWriter, r *http.Request, ex *explore.Explorer, selected *bool) {
	writeJSON(w, r, http.StatusOK, StateResponse{
		SessionID: getSessionID(r.Context()),
		Selected:  selected,
		State:     ex.State(),
	})
}

func (s *Server) writeExploreError(w http.ResponseWriter, r *http.Request, err error) {
	var netErr *data.NetworkError
	if errors.As(err, &netErr) || errors.Is(err, explore.ErrNotStarted) {
		writeError(w, r, http.StatusServiceUnavailable, "data_unavailable", err.Error())
		return
	}
	log.FromContext(r.Context()).Error("exploration failed", "error", err)
	writeError(w, r, http.StatusInternalServerError, "internal_server_error", "")
}

// decode reads a JSON body into dst and validates it. It writes the error
// reply itself and reports whether the handler should continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json_body", "")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", verrs[0].Field()+":"+verrs[0].Tag())
			return false
		}
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func intParam(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// writeJSON encodes v as the reply. Encode failures go to the request's
// logger, which carries the trace and session ids.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(r.Context()).Error("failed to encode response", "path", r.URL.Path, "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, reason string) {
	writeJSON(w, r, status, ErrorResponse{Error: code, Reason: reason})
}

type sessionHandler func(http.ResponseWriter, *http.Request, *explore.Explorer)

// Middleware: Session
// Resolves the session id from header or cookie, issuing a new one when
// absent or malformed, and hands the session's started Explorer to next.
func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(SessionHeader)
		if id == "" {
			if c, err := r.Cookie(SessionCookie); err == nil {
				id = c.Value
			}
		}
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		w.Header().Set(SessionHeader, id)
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		ctx := context.WithValue(r.Context(), sessionIDKey, id)
		ctx = log.WithContext(ctx, log.FromContext(ctx).With("session", id))
		r = r.WithContext(ctx)

		ex, err := s.explorer(r.Context(), id)
		if err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "data_unavailable", err.Error())
			return
		}
		next(w, r, ex)
	}
}

// Middleware: Admin
func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminHash == "" {
			next(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing_token")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid_token_format")
			return
		}

		if subtle.ConstantTimeCompare([]byte(hashToken(parts[1])), []byte(s.adminHash)) != 1 {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid_token")
			return
		}

		next(w, r)
	}
}

// Middleware: Panic Recovery
func withRecovery(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered", "error", err, "path", r.URL.Path, "trace_id", getTraceID(r.Context()))
				writeError(w, r, http.StatusInternalServerError, "internal_server_error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Middleware: Request Logging
func withLogging(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = generateTraceID()
		}

		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		ctx = log.WithContext(ctx, logger.With("trace_id", traceID))
		r = r.WithContext(ctx)

		// Wrap writer to capture status code
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(ww, r)

		logger.Info("http request",
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func generateTraceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func getTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

func getSessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// statusWriter captures HTTP status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware: Secure Headers
func withSecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:;")
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-XSS-Protection", "1; mode=block")

		next.ServeHTTP(w, r)
	})
}
