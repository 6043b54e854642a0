package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/medassist-ai/medassist/pkg/agents"
	"github.com/medassist-ai/medassist/pkg/memory"
	"github.com/medassist-ai/medassist/pkg/ratelimit"
	"github.com/medassist-ai/medassist/pkg/retrieval"
)

type apiServer struct {
	service      *retrieval.Service
	orchestrator *agents.Orchestrator
	memory       *memory.Memory
	store        *memory.SessionStore
	limiter      *ratelimit.Limiter
	metrics      *serverMetrics
}

// serverMetrics tracks query counters and latency since startup
type serverMetrics struct {
	mu           sync.Mutex
	totalQueries int64
	totalLatency time.Duration
	agentUsage   map[agents.QueryType]int64
	startTime    time.Time
}

func newMetrics() *serverMetrics {
	return &serverMetrics{
		agentUsage: map[agents.QueryType]int64{
			agents.QueryDiagnosis: 0,
			agents.QueryQA:        0,
			agents.QueryResearch:  0,
		},
		startTime: time.Now(),
	}
}

func (m *serverMetrics) record(queryType agents.QueryType, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalQueries++
	m.totalLatency += latency
	m.agentUsage[queryType]++
}

func (m *serverMetrics) snapshot() metricsResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	avgMs := float64(0)
	if m.totalQueries > 0 {
		avgMs = float64(m.totalLatency.Milliseconds()) / float64(m.totalQueries)
	}

	agentDist := make(map[string]int64, len(m.agentUsage))
	for k, v := range m.agentUsage {
		agentDist[string(k)] = v
	}

	return metricsResponse{
		TotalQueries:      m.totalQueries,
		AvgResponseMs:     avgMs,
		AgentDistribution: agentDist,
		UptimeSeconds:     time.Since(m.startTime).Seconds(),
	}
}

type queryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

type queryResponse struct {
	Query          string `json:"query"`
	Response       string `json:"response"`
	AgentUsed      string `json:"agent_used"`
	PatientContext string `json:"patient_context"`
	LowEvidence    bool   `json:"low_evidence"`
	ResponseMs     int64  `json:"response_ms"`
	SessionID      string `json:"session_id"`
	Timestamp      string `json:"timestamp"`
}

type metricsResponse struct {
	TotalQueries      int64            `json:"total_queries"`
	AvgResponseMs     float64          `json:"avg_response_ms"`
	AgentDistribution map[string]int64 `json:"agent_distribution"`
	UptimeSeconds     float64          `json:"uptime_seconds"`
}

// queryHandler handles POST /query requests. An empty session_id gets a
// server-assigned UUID, returned in the response for follow-up turns.
func (s *apiServer) queryHandler(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if len(req.Query) < 3 {
		writeError(w, http.StatusBadRequest, "query must be at least 3 characters")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if err := s.limiter.Allow(sessionID); err != nil {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}

	start := time.Now()
	result, err := s.orchestrator.Process(r.Context(), req.Query, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Query processing failed")
		writeError(w, http.StatusInternalServerError, "query processing failed")
		return
	}
	latency := time.Since(start)

	s.metrics.record(result.QueryType, latency)

	if err := s.store.SaveSession(s.memory.ExportSession(sessionID)); err != nil {
		// Query already succeeded; stale persistence is recoverable
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to persist session")
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Query:          result.Query,
		Response:       result.Response,
		AgentUsed:      string(result.QueryType),
		PatientContext: result.PatientContext,
		LowEvidence:    result.LowEvidence,
		ResponseMs:     latency.Milliseconds(),
		SessionID:      sessionID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
}

// searchHandler handles GET /search requests
func (s *apiServer) searchHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	req := retrieval.SearchRequest{
		Query:          query.Get("q"),
		Mode:           retrieval.SearchMode(query.Get("mode")),
		Limit:          parseIntDefault(query.Get("limit"), 5),
		RrfK:           parseIntDefault(query.Get("rrf_k"), 0),
		CandidateDepth: parseIntDefault(query.Get("candidate_depth"), 0),
	}

	// Parse weights
	if wv := query.Get("w_vector"); wv != "" {
		if f, err := strconv.ParseFloat(wv, 64); err == nil {
			req.WeightVec = f
		}
	}
	if wl := query.Get("w_lexical"); wl != "" {
		if f, err := strconv.ParseFloat(wl, 64); err == nil {
			req.WeightLex = f
		}
	}

	s.runSearch(w, r, req)
}

// searchPostHandler handles POST /search requests
func (s *apiServer) searchPostHandler(w http.ResponseWriter, r *http.Request) {
	var req retrieval.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.runSearch(w, r, req)
}

func (s *apiServer) runSearch(w http.ResponseWriter, r *http.Request, req retrieval.SearchRequest) {
	req.Query = retrieval.SanitizeQuery(req.Query)
	if err := retrieval.ValidateSearchRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.service.Search(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Str("query", req.Query).Msg("Search failed")
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// statsHandler handles GET /stats requests
func (s *apiServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Stats failed")
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// healthHandler handles GET /health requests
func (s *apiServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.service.Health(r.Context())

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	// Degraded still returns 200: one working signal serves queries

	writeJSON(w, status, health)
}

// metricsHandler handles GET /metrics requests
func (s *apiServer) metricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.snapshot())
}

// listSessionsHandler handles GET /sessions requests
func (s *apiServer) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": s.memory.Sessions()})
}

// historyHandler handles GET /sessions/{id}/history requests
func (s *apiServer) historyHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	lastN := parseIntDefault(r.URL.Query().Get("last_n"), 0)

	messages := s.memory.GetConversation(sessionID, lastN)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}

// contextHandler handles GET /sessions/{id}/context requests
func (s *apiServer) contextHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"summary":    s.memory.GetContextSummary(sessionID),
	})
}

// exportHandler handles GET /sessions/{id}/export requests
func (s *apiServer) exportHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	writeJSON(w, http.StatusOK, s.memory.ExportSession(sessionID))
}

// clearSessionHandler handles DELETE /sessions/{id} requests
func (s *apiServer) clearSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	s.memory.ClearSession(sessionID)
	s.limiter.ResetSession(sessionID)
	if err := s.store.DeleteSession(sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to delete persisted session")
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": "cleared"})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// corsMiddleware adds CORS headers for development
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return def
}
