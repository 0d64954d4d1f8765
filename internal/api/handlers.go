package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"safe-code-gate/internal/gate"
	"safe-code-gate/internal/monitor"
	"safe-code-gate/internal/storage"
)

// VerdictStore reads audited verdicts. *storage.DB implements it.
type VerdictStore interface {
	GetVerdict(ctx context.Context, id string) (*storage.VerdictRecord, error)
	ListVerdicts(ctx context.Context, filter storage.VerdictFilter) ([]storage.VerdictRecord, error)
}

// AuditLog queues verdict records. *storage.AuditWriter implements it.
type AuditLog interface {
	Log(rec *storage.VerdictRecord)
}

// VerdictCache shares verdicts between replicas. *cache.VerdictCache
// implements it.
type VerdictCache interface {
	Get(ctx context.Context, fingerprint, code string) (gate.Verdict, bool, error)
	Set(ctx context.Context, fingerprint, code string, v gate.Verdict) error
}

type Handlers struct {
	gate         *atomic.Pointer[gate.Gate]
	store        VerdictStore
	audit        AuditLog
	cache        VerdictCache
	metrics      *monitor.Metrics
	tracer       *monitor.Tracer
	maxBatchSize int
}

// NewHandlers builds handlers around a gate holder. store, audit and cache
// are optional and must be untyped nil when absent.
func NewHandlers(g *atomic.Pointer[gate.Gate], store VerdictStore, audit AuditLog, cache VerdictCache, metrics *monitor.Metrics, tracer *monitor.Tracer, maxBatchSize int) *Handlers {
	if tracer == nil {
		tracer = monitor.NewTracer()
	}
	if maxBatchSize < 1 {
		maxBatchSize = 100
	}
	return &Handlers{
		gate:         g,
		store:        store,
		audit:        audit,
		cache:        cache,
		metrics:      metrics,
		tracer:       tracer,
		maxBatchSize: maxBatchSize,
	}
}

func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	writeJSON(w, http.StatusOK, h.evaluate(r, req.Code, req.Sanitize))
}

func (h *Handlers) HandleValidateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if len(req.Snippets) == 0 {
		writeError(w, "snippets is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if len(req.Snippets) > h.maxBatchSize {
		writeError(w, "too many snippets, limit is "+strconv.Itoa(h.maxBatchSize), "BATCH_TOO_LARGE", http.StatusBadRequest, r)
		return
	}

	sse := NewSSEWriter(w)
	if sse == nil {
		writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
		return
	}
	sse.Start()

	start := time.Now()
	summary := BatchSummary{Total: len(req.Snippets)}
	for i, code := range req.Snippets {
		if r.Context().Err() != nil {
			log.Warn().Str("request_id", RequestIDFromContext(r.Context())).Int("sent", i).Msg("batch client went away")
			return
		}
		resp := h.evaluate(r, code, req.Sanitize)
		if resp.IsValid {
			summary.Valid++
		} else {
			summary.Rejected++
		}
		if err := sse.Send("verdict", BatchVerdict{Index: i, ValidateResponse: resp}); err != nil {
			log.Warn().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("batch stream write failed")
			return
		}
	}
	summary.Duration = Duration{time.Since(start)}
	if err := sse.Send("done", summary); err != nil {
		log.Warn().Err(err).Msg("batch stream write failed")
	}
}

// evaluate validates one snippet against the current gate, consulting the
// shared cache first, and records metrics, a span and an audit record.
func (h *Handlers) evaluate(r *http.Request, code string, sanitize bool) ValidateResponse {
	g := h.gate.Load()

	var sanitized *string
	if sanitize {
		s := gate.Sanitize(code)
		code, sanitized = s, &s
	}

	id := uuid.New().String()
	ctx, span := h.tracer.StartValidation(r.Context(), id, len(code), g.Fingerprint())

	start := time.Now()
	v, hit := h.cached(ctx, g, code)
	if !hit {
		v = g.Validate(code)
		h.remember(ctx, g, code, v)
	}
	d := time.Since(start)
	monitor.EndValidation(span, v, hit)

	if h.metrics != nil {
		h.metrics.RecordVerdict(v, len(code), d)
	}

	if !v.Valid() {
		log.Info().
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("verdict_id", id).
			Str("kind", v.Kind.String()).
			Str("rule", v.Rule).
			Msg("code rejected")
	}

	h.logAudit(r, id, code, v, g.Fingerprint(), d)

	res := v.Result()
	return ValidateResponse{
		ID:            id,
		IsValid:       res.IsValid,
		Kind:          v.Kind.String(),
		Rule:          v.Rule,
		Message:       res.Message,
		Error:         res.Error,
		SanitizedCode: sanitized,
		Duration:      Duration{d},
		Cached:        hit,
	}
}

func (h *Handlers) cached(ctx context.Context, g *gate.Gate, code string) (gate.Verdict, bool) {
	if h.cache == nil {
		return gate.Verdict{}, false
	}
	v, ok, err := h.cache.Get(ctx, g.Fingerprint(), code)
	if err != nil {
		log.Warn().Err(err).Msg("verdict cache read failed")
		ok = false
	}
	if h.metrics != nil {
		h.metrics.RecordCacheLookup(ok)
	}
	return v, ok
}

func (h *Handlers) remember(ctx context.Context, g *gate.Gate, code string, v gate.Verdict) {
	if h.cache == nil || v.Rule == gate.RuleInternal {
		return
	}
	if err := h.cache.Set(ctx, g.Fingerprint(), code, v); err != nil {
		log.Warn().Err(err).Msg("verdict cache write failed")
	}
}

func (h *Handlers) logAudit(r *http.Request, id, code string, v gate.Verdict, fingerprint string, d time.Duration) {
	if h.audit == nil {
		return
	}
	rec := storage.NewRecord(id, code, v, fingerprint, d)
	rec.RequestIP = clientIP(r)
	if key := APIKeyFromContext(r.Context()); key != "" {
		rec.APIKeyHash = storage.HashString(key)
	}
	h.audit.Log(rec)
}

func (h *Handlers) HandleGetVerdict(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "verdict ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if h.store == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	rec, err := h.store.GetVerdict(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, "verdict not found", "NOT_FOUND", http.StatusNotFound, r)
			return
		}
		log.Error().Err(err).Str("verdict_id", id).Msg("verdict lookup failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) HandleListVerdicts(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	filter, err := parseVerdictFilter(r)
	if err != nil {
		writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	recs, err := h.store.ListVerdicts(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("verdict list failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	if recs == nil {
		recs = []storage.VerdictRecord{}
	}

	writeJSON(w, http.StatusOK, recs)
}

func parseVerdictFilter(r *http.Request) (storage.VerdictFilter, error) {
	q := r.URL.Query()
	filter := storage.VerdictFilter{Kind: q.Get("kind"), Limit: 100}

	if filter.Kind != "" {
		if _, ok := gate.ParseKind(filter.Kind); !ok {
			return filter, errors.New("unknown kind " + strconv.Quote(filter.Kind))
		}
	}
	if s := q.Get("valid"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return filter, errors.New("valid must be true or false")
		}
		filter.Valid = &b
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return filter, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	return filter, nil
}

func (h *Handlers) HandlePolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewPolicyResponse(h.gate.Load()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
