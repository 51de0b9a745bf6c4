// Package ingest implements the loopback-bound HTTP server external sources
// (browser extension, email forwarder, task importer) use to hand raw
// content into a domain's intake queue.
package ingest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"warden/internal/bus"
	"warden/internal/config"
	"warden/internal/logging"
	"warden/internal/store"
)

const (
	rateLimitRequests = 30
	rateLimitWindow    = 60 * time.Second

	headersTimeout = 10 * time.Second
	requestTimeout = 30 * time.Second

	maxBindAttempts = 3
	bindRetryDelay  = 2 * time.Second
)

var validSourceTypes = map[string]bool{
	"web":    true,
	"gmail":  true,
	"gtasks": true,
	"manual": true,
}

// Server is the ingestion HTTP server. Constructed once by runtime.New and
// started on its own goroutine; never a package global.
type Server struct {
	cfg        config.IngestConfig
	maxPayload int
	store      *store.Store
	bus        *bus.Bus
	log        *logging.Logger
	token      string
	limiter    *slidingWindowLimiter
	router     chi.Router
	httpServer *http.Server
}

// New builds an ingestion Server bound to cfg.BindAddress, authenticating requests
// against cfg.AuthToken. If cfg.AuthToken is empty (config.Validate should
// have already rejected this), a token is generated and logged once so a
// local caller can still authenticate — the zero-config fallback for
// "process-local, regenerated on startup".
func New(cfg config.IngestConfig, limits config.RuntimeLimits, st *store.Store, b *bus.Bus, log *logging.Logger) *Server {
	token := cfg.AuthToken
	if token == "" {
		token = generateToken()
		log.Warn("ingest: no auth token configured, generated a process-local token")
	}

	s := &Server{
		cfg:        cfg,
		maxPayload: limits.IngestMaxPayloadBytes,
		store:      st,
		bus:        b,
		log:        log,
		token:      token,
		limiter:    newSlidingWindowLimiter(rateLimitRequests, rateLimitWindow),
	}
	s.router = s.buildRouter()
	return s
}

func generateToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the host RNG is broken; a predictable
		// fallback beats a server that fails to boot over a local loopback.
		return "fallback-" + fmt.Sprint(time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// No origin ever matches: AllowOriginFunc rejects every origin (an empty
	// AllowedOrigins alone would mean allow-all in go-chi/cors), so preflight
	// responses carry no Access-Control-Allow-Origin and browser JS from any
	// origin is refused by omission rather than by explicit denial.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:  []string{},
		AllowOriginFunc: func(r *http.Request, origin string) bool { return false },
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.NotFound(routeNotFound)
	r.Get("/api/ping", s.handlePing)

	r.With(s.rateLimited, s.authenticated).Get("/api/intake/check", s.handleIntakeCheck)
	r.With(s.rateLimited, s.authenticated).Post("/api/intake", s.handleIntakeCreate)

	return r
}

// Start binds the listener and serves until ctx is cancelled. On
// EADDRINUSE it retries up to maxBindAttempts times with bindRetryDelay
// between attempts; if every attempt fails, the server is disabled and
// Start returns nil rather than terminating the process.
func (s *Server) Start(ctx context.Context) error {
	var ln net.Listener
	var err error

	for attempt := 1; attempt <= maxBindAttempts; attempt++ {
		ln, err = net.Listen("tcp", s.cfg.BindAddress)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("ingest: listen %s: %w", s.cfg.BindAddress, err)
		}
		s.log.Warn("ingest: bind attempt %d/%d on %s failed: address in use", attempt, maxBindAttempts, s.cfg.BindAddress)
		if attempt == maxBindAttempts {
			s.log.Error("ingest: could not bind %s after %d attempts, ingestion server disabled", s.cfg.BindAddress, maxBindAttempts)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bindRetryDelay):
		}
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.BindAddress,
		Handler:           http.TimeoutHandler(s.router, requestTimeout, `{"error":"timeout"}`),
		ReadHeaderTimeout: headersTimeout,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutCtx)
	}()

	s.log.Info("ingest: listening on %s", s.cfg.BindAddress)
	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// rateLimited enforces the per-remote-address sliding window before the
// wrapped handler runs.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiter.Allow(host, time.Now()) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticated requires a valid bearer token on the request.
func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if !validToken(token, s.token) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleIntakeCheck(w http.ResponseWriter, r *http.Request) {
	sourceType := r.URL.Query().Get("sourceType")
	externalID := r.URL.Query().Get("externalId")
	if sourceType == "" || externalID == "" {
		writeError(w, http.StatusBadRequest, "sourceType and externalId are required")
		return
	}

	exists, err := s.store.IntakeItemExists(sourceType, externalID)
	if err != nil {
		s.log.Error("ingest: check intake existence: %v", err)
		writeError(w, http.StatusBadRequest, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exists": exists})
}

// intakeCreateRequest accepts both camelCase and snake_case field names per
// spec; whichever variant is present wins, camelCase first.
type intakeCreateRequest struct {
	SourceURL      string
	Title          string
	Content        string
	ExtractionMode string
	SourceType     string
	ExternalID     string
	Metadata       map[string]any
}

func (req *intakeCreateRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		SourceURL       string         `json:"sourceUrl"`
		SourceURLSnake  string         `json:"source_url"`
		Title           string         `json:"title"`
		Content         string         `json:"content"`
		ExtractionMode  string         `json:"extractionMode"`
		ExtractionSnake string         `json:"extraction_mode"`
		SourceType      string         `json:"sourceType"`
		SourceTypeSnake string         `json:"source_type"`
		ExternalID      string         `json:"externalId"`
		ExternalIDSnake string         `json:"external_id"`
		Metadata        map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	req.SourceURL = firstNonEmpty(raw.SourceURL, raw.SourceURLSnake)
	req.Title = raw.Title
	req.Content = raw.Content
	req.ExtractionMode = firstNonEmpty(raw.ExtractionMode, raw.ExtractionSnake)
	req.SourceType = firstNonEmpty(raw.SourceType, raw.SourceTypeSnake)
	req.ExternalID = firstNonEmpty(raw.ExternalID, raw.ExternalIDSnake)
	req.Metadata = raw.Metadata
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (s *Server) handleIntakeCreate(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxPayload)+1024)

	var req intakeCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.ExternalID == "" {
		writeError(w, http.StatusBadRequest, "externalId is required")
		return
	}
	if !validSourceTypes[req.SourceType] {
		writeError(w, http.StatusBadRequest, "sourceType must be one of web, gmail, gtasks, manual")
		return
	}

	item, err := s.store.CreateIntakeItem(store.IntakeItem{
		SourceType:     req.SourceType,
		ExternalID:     req.ExternalID,
		URL:            req.SourceURL,
		Title:          req.Title,
		Content:        req.Content,
		ExtractionMode: req.ExtractionMode,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.bus.Emit(bus.Event{
		Type: bus.EventIntakeCreated,
		Data: bus.EventData{
			Metadata: map[string]any{
				"intake_id":   item.ID,
				"source_type": item.SourceType,
				"external_id": item.ExternalID,
			},
		},
	})

	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": item.ID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// routeNotFound renders a 404 JSON body for unmatched routes, matching the
// bit-exact error code table for the ingestion API.
func routeNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "route not found")
}
