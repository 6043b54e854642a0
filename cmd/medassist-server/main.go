// medassist-server is the HTTP API server for the medical assistant.
//
// This is the authoritative backend for query processing and retrieval.
// Web UI, CLI, and future integrations should all use this API.
//
// Endpoints:
//   - POST   /query                  - Process a medical query (routed to an agent)
//   - GET    /search                 - Vector/lexical/hybrid knowledge-base search
//   - POST   /search                 - Same, for larger query payloads
//   - GET    /stats                  - Retrieval statistics
//   - GET    /health                 - Health check
//   - GET    /metrics                - Query counters and latency
//   - GET    /sessions               - List known sessions
//   - GET    /sessions/{id}/history  - Conversation log
//   - GET    /sessions/{id}/context  - Patient context summary
//   - GET    /sessions/{id}/export   - Full session export
//   - DELETE /sessions/{id}          - Clear a session
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/medassist-ai/medassist/pkg/agents"
	"github.com/medassist-ai/medassist/pkg/llm"
	"github.com/medassist-ai/medassist/pkg/medcfg"
	"github.com/medassist-ai/medassist/pkg/memory"
	"github.com/medassist-ai/medassist/pkg/pubmed"
	"github.com/medassist-ai/medassist/pkg/ratelimit"
	"github.com/medassist-ai/medassist/pkg/retrieval"
)

var (
	addr      = flag.String("addr", ":8090", "HTTP listen address")
	dbPath    = flag.String("db", "", "Path to session SQLite database (defaults to database.sqlite from config)")
	indexPath = flag.String("index", "", "Path to BM25 index file (defaults to database.bm25_index from config)")
	cfgPath   = flag.String("config", "", "Path to medassist.yaml (auto-detected if not specified)")
	debug     = flag.Bool("debug", false, "Enable debug logging")
	corsAny   = flag.Bool("cors-any", false, "Allow CORS from any origin (for development)")
)

func main() {
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Load configuration
	cfg, err := medcfg.LoadFromFlagOrDir(*cfgPath, ".")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log.Info().Str("collection", cfg.Milvus.Collection).Msg("Loaded configuration")

	// Lexical index
	bm25Path := *indexPath
	if bm25Path == "" {
		bm25Path = cfg.Database.BM25Index
	}
	bm25 := retrieval.NewBM25Index()
	if err := bm25.LoadIndex(bm25Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", bm25Path).Msg("BM25 index file not found, lexical search starts empty")
		} else {
			log.Fatal().Err(err).Str("path", bm25Path).Msg("Failed to load BM25 index")
		}
	} else {
		log.Info().Str("path", bm25Path).Int("documents", bm25.Stats().Documents).Msg("Loaded BM25 index")
	}

	// Retrieval service
	ctx := context.Background()

	vectors, err := retrieval.NewMilvusVectorStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Milvus")
	}
	// Note: vectors.Close() is called by service.Close(), don't defer here
	log.Info().Str("address", cfg.Milvus.Address).Msg("Connected to Milvus")

	embedder := retrieval.NewEmbeddingClientAdapter(cfg)
	service := retrieval.NewService(cfg, vectors, bm25, embedder)
	defer service.Close()

	// Collaborators
	completer, err := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      os.Getenv(cfg.LLM.APIKeyEnv),
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		log.Fatal().Err(err).Str("env", cfg.LLM.APIKeyEnv).Msg("Failed to create LLM client")
	}

	literature := pubmed.NewClient(pubmed.Config{
		BaseURL: cfg.PubMed.BaseURL,
		Email:   cfg.PubMed.Email,
	})

	// Conversation memory, restored from the session store
	mem := memory.New()

	sessionPath := *dbPath
	if sessionPath == "" {
		sessionPath = cfg.Database.SQLite
	}
	store, err := memory.NewSessionStore(sessionPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", sessionPath).Msg("Failed to open session store")
	}
	defer store.Close()

	restored, err := restoreSessions(mem, store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to restore sessions")
	}
	if restored > 0 {
		log.Info().Int("sessions", restored).Str("path", sessionPath).Msg("Restored persisted sessions")
	}

	// Agents
	diagnosis := agents.NewDiagnosisAgent(service, completer)
	qa := agents.NewQAAgent(service, completer)
	research := agents.NewResearchAgent(literature, completer, cfg.PubMed.MaxResults, cfg.PubMed.RecencyDays)
	orchestrator := agents.NewOrchestrator(completer, mem, diagnosis, qa, research)

	limiter := ratelimit.New(ratelimit.Limits{
		PerMinute: cfg.Limits.PerMinute,
		PerHour:   cfg.Limits.PerHour,
		PerDay:    cfg.Limits.PerDay,
	})

	api := &apiServer{
		service:      service,
		orchestrator: orchestrator,
		memory:       mem,
		store:        store,
		limiter:      limiter,
		metrics:      newMetrics(),
	}

	// Create HTTP server
	mux := http.NewServeMux()

	// Wrap handlers with CORS if enabled
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		if *corsAny {
			return corsMiddleware(h)
		}
		return h
	}

	mux.HandleFunc("POST /query", wrap(api.queryHandler))
	mux.HandleFunc("GET /search", wrap(api.searchHandler))
	mux.HandleFunc("POST /search", wrap(api.searchPostHandler))
	mux.HandleFunc("GET /stats", wrap(api.statsHandler))
	mux.HandleFunc("GET /health", wrap(api.healthHandler))
	mux.HandleFunc("GET /metrics", wrap(api.metricsHandler))
	mux.HandleFunc("GET /sessions", wrap(api.listSessionsHandler))
	mux.HandleFunc("GET /sessions/{id}/history", wrap(api.historyHandler))
	mux.HandleFunc("GET /sessions/{id}/context", wrap(api.contextHandler))
	mux.HandleFunc("GET /sessions/{id}/export", wrap(api.exportHandler))
	mux.HandleFunc("DELETE /sessions/{id}", wrap(api.clearSessionHandler))

	// Handle OPTIONS for CORS preflight (needed for browser POST requests)
	if *corsAny {
		preflight := corsMiddleware(func(w http.ResponseWriter, r *http.Request) {})
		mux.HandleFunc("OPTIONS /query", preflight)
		mux.HandleFunc("OPTIONS /search", preflight)
	}

	server := &http.Server{
		Addr:         *addr,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", *addr).Msg("Starting medassist server")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Server stopped")
}

// restoreSessions loads every persisted session back into memory so patient
// context survives restarts.
func restoreSessions(mem *memory.Memory, store *memory.SessionStore) (int, error) {
	ids, err := store.ListSessions()
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, id := range ids {
		export, err := store.LoadSession(id)
		if err != nil {
			return restored, err
		}
		if export == nil {
			continue
		}
		if err := mem.ImportSession(*export); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("Skipping unreadable session")
			continue
		}
		restored++
	}
	return restored, nil
}
