package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/chronovault/pkg/command"
	"github.com/Mindburn-Labs/chronovault/pkg/event"
	"github.com/Mindburn-Labs/chronovault/pkg/export"
	"github.com/Mindburn-Labs/chronovault/pkg/observability"
	"github.com/Mindburn-Labs/chronovault/pkg/projection"
	"github.com/Mindburn-Labs/chronovault/pkg/social"
	"github.com/Mindburn-Labs/chronovault/pkg/store"
	"github.com/Mindburn-Labs/chronovault/pkg/verifier"
)

// Query limit clamps.
const (
	defaultCapsuleLimit = 50
	maxCapsuleLimit     = 200
	defaultAuditLimit   = 100
	maxAuditLimit       = 500
	maxCommentsReturned = 200

	maxBodyBytes = 1 << 20
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Exporter produces audit bundles on demand.
type Exporter interface {
	Export(ctx context.Context, stream string) (*export.Manifest, error)
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	commands *command.Service
	events   store.Reader
	capsules projection.Store
	comments social.Store
	verify   *verifier.Verifier
	exporter Exporter
	actors   *ActorResolver
	limiter  *GlobalRateLimiter
	metrics  *observability.Provider
	logger   *slog.Logger
	version  string
	checks   map[string]HealthCheck
	mux      *http.ServeMux
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithExporter enables POST /audit/export.
func WithExporter(e Exporter) ServerOption {
	return func(s *Server) { s.exporter = e }
}

// WithHealthCheck registers a named dependency probe for /health.
func WithHealthCheck(name string, check HealthCheck) ServerOption {
	return func(s *Server) { s.checks[name] = check }
}

// WithRateLimit replaces the default per-IP limiter.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) { s.limiter = NewGlobalRateLimiter(rps, burst) }
}

// WithMetrics records request counts and latencies.
func WithMetrics(m *observability.Provider) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

func NewServer(
	commands *command.Service,
	events store.Reader,
	capsules projection.Store,
	comments social.Store,
	verify *verifier.Verifier,
	actors *ActorResolver,
	logger *slog.Logger,
	opts ...ServerOption,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		commands: commands,
		events:   events,
		capsules: capsules,
		comments: comments,
		verify:   verify,
		actors:   actors,
		limiter:  NewGlobalRateLimiter(25, 50),
		logger:   logger.With("component", "api"),
		version:  "1.0.0",
		checks:   make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux = s.routes()
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /capsules", s.handleCreateCapsule)
	mux.HandleFunc("GET /capsules", s.handleListCapsules)
	mux.HandleFunc("GET /capsules/{id}", s.handleGetCapsule)
	mux.HandleFunc("POST /capsules/{id}/seal", s.handleSealCapsule)
	mux.HandleFunc("GET /audit/events", s.handleAuditEvents)
	mux.HandleFunc("GET /audit/verify", s.handleVerifyGlobal)
	mux.HandleFunc("GET /audit/verify/{id}", s.handleVerifyCapsule)
	mux.HandleFunc("POST /audit/export", s.handleExport)
	mux.HandleFunc("POST /social/comments", s.handleAddComment)
	return mux
}

// Handler returns the full middleware stack.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withMetrics(h)
	h = s.limiter.Middleware(h)
	h = RequestID(h)
	return h
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		_, pattern := s.mux.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.metrics.RecordHTTP(r.Context(), pattern, rec.status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return nil, false
	}
	return body, true
}

func clampLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := map[string]any{
		"ok":      true,
		"service": "chronovault",
		"version": s.version,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			out["ok"] = false
			out[name] = "fail"
			s.logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
			continue
		}
		out[name] = "ok"
	}
	status := http.StatusOK
	if out["ok"] == false {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, out)
}

func (s *Server) handleCreateCapsule(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actors.Resolve(r)
	if err != nil {
		WriteUnauthorized(w, err.Error())
		return
	}
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	receipt, err := s.commands.CreateCapsule(r.Context(), actor, body)
	if err != nil {
		s.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ok":         true,
		"capsule_id": receipt.CapsuleID,
		"event_id":   receipt.EventID,
		"hash":       receipt.Hash,
	})
}

func (s *Server) handleSealCapsule(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actors.Resolve(r)
	if err != nil {
		WriteUnauthorized(w, err.Error())
		return
	}

	var body map[string]any
	if r.ContentLength != 0 {
		var ok bool
		if body, ok = decodeBody(w, r); !ok {
			return
		}
	}

	receipt, err := s.commands.SealCapsule(r.Context(), actor, r.PathValue("id"), body)
	if err != nil {
		s.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"capsule_id": receipt.CapsuleID,
		"event_id":   receipt.EventID,
		"hash":       receipt.Hash,
	})
}

func (s *Server) writeCommandError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, command.ErrMissingActor):
		WriteBadRequest(w, "Missing actor: send X-Actor or a Bearer token")
	case errors.Is(err, command.ErrValidation):
		WriteBadRequest(w, err.Error())
	case errors.Is(err, command.ErrCapsuleNotFound):
		WriteNotFound(w, "Capsule not found or not projected yet")
	case errors.Is(err, command.ErrAlreadySealed):
		WriteConflict(w, "Capsule is already sealed")
	default:
		s.logger.ErrorContext(r.Context(), "command failed",
			"path", r.URL.Path, "error", err)
		WriteInternal(w, err)
	}
}

func (s *Server) handleListCapsules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := projection.ListFilter{
		Query: q.Get("q"),
		Tag:   q.Get("tag"),
		Limit: clampLimit(q.Get("limit"), defaultCapsuleLimit, maxCapsuleLimit),
	}
	if status := q.Get("status"); status == projection.StatusOpen || status == projection.StatusSealed {
		filter.Status = status
	}

	items, err := s.capsules.List(r.Context(), filter)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if items == nil {
		items = []*projection.Capsule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": items})
}

func (s *Server) handleGetCapsule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	capsule, err := s.capsules.Get(ctx, id)
	if errors.Is(err, projection.ErrNotFound) {
		WriteNotFound(w, "Capsule not found")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}

	events, err := s.events.ListStream(ctx, event.CapsuleStream(id))
	if err != nil {
		WriteInternal(w, err)
		return
	}
	comments, err := s.comments.ListByCapsule(ctx, id, maxCommentsReturned)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if events == nil {
		events = []*event.Event{}
	}
	if comments == nil {
		comments = []*social.Comment{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"capsule": capsule,
		"events":  events,
		"social":  map[string]any{"comments": comments},
	})
}

// eventSummary omits payload and meta from audit listings; full bodies
// stay available per capsule.
type eventSummary struct {
	ID        int64     `json:"id"`
	TS        time.Time `json:"ts"`
	Stream    string    `json:"stream"`
	StreamSeq int64     `json:"stream_seq"`
	Type      string    `json:"type"`
	Actor     string    `json:"actor"`
	CapsuleID string    `json:"capsule_id,omitempty"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.QueryFilter{
		CapsuleID: q.Get("capsule_id"),
		Actor:     q.Get("actor"),
		Type:      q.Get("type"),
		Limit:     clampLimit(q.Get("limit"), defaultAuditLimit, maxAuditLimit),
	}

	events, err := s.events.ListRecent(r.Context(), filter)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	items := make([]eventSummary, 0, len(events))
	for _, e := range events {
		items = append(items, eventSummary{
			ID: e.ID, TS: e.TS, Stream: e.Stream, StreamSeq: e.StreamSeq,
			Type: e.Type, Actor: e.Actor, CapsuleID: e.CapsuleID,
			PrevHash: e.PrevHash, Hash: e.Hash,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": items})
}

func (s *Server) writeVerifyResult(w http.ResponseWriter, r *http.Request, stream string) {
	result, err := s.verify.VerifyStream(r.Context(), stream)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	status := http.StatusOK
	if !result.OK {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func (s *Server) handleVerifyGlobal(w http.ResponseWriter, r *http.Request) {
	s.writeVerifyResult(w, r, event.StreamGlobal)
}

func (s *Server) handleVerifyCapsule(w http.ResponseWriter, r *http.Request) {
	s.writeVerifyResult(w, r, event.CapsuleStream(r.PathValue("id")))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		WriteNotFound(w, "Export is not configured")
		return
	}

	stream := event.StreamGlobal
	if r.ContentLength != 0 {
		body, ok := decodeBody(w, r)
		if !ok {
			return
		}
		if v, ok := body["stream"].(string); ok && v != "" {
			stream = v
		}
	}

	manifest, err := s.exporter.Export(r.Context(), stream)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "manifest": manifest})
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actors.Resolve(r)
	if err != nil {
		WriteUnauthorized(w, err.Error())
		return
	}
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	comment, err := s.commands.AddComment(r.Context(), actor, body)
	if err != nil {
		s.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "comment": comment})
}
