package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	fastembed "github.com/anush008/fastembed-go"
	"github.com/fyrsmithlabs/librarycore/internal/circulation"
	"github.com/fyrsmithlabs/librarycore/internal/config"
	"github.com/fyrsmithlabs/librarycore/internal/graphindex"
	"github.com/fyrsmithlabs/librarycore/internal/learning"
	"github.com/fyrsmithlabs/librarycore/internal/libcore"
	"github.com/fyrsmithlabs/librarycore/internal/librarian"
	"github.com/fyrsmithlabs/librarycore/internal/library"
	"github.com/fyrsmithlabs/librarycore/internal/libstorage"
	"github.com/fyrsmithlabs/librarycore/internal/providers"
	"github.com/fyrsmithlabs/librarycore/internal/stacks"
	"github.com/fyrsmithlabs/librarycore/internal/topiccatalog"
	"github.com/fyrsmithlabs/librarycore/internal/vectorindex"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// run loads configuration, wires a single Library instance, and serves it
// over HTTP until ctx is cancelled.
func run(ctx context.Context) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	lib, err := wireLibrary(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring library: %w", err)
	}
	defer func() {
		if err := lib.Dispose(context.Background()); err != nil {
			logger.Warn("error disposing library", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	registerRoutes(mux, lib, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("librarycored listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Observability.EnableTelemetry {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// wireLibrary constructs the embedding/text-generation providers, the
// storage backend, and every Library Core component, returning a ready
// Library.
func wireLibrary(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*library.Library, error) {
	embedder, err := buildEmbedder(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("building embedding provider: %w", err)
	}

	generator, err := buildGenerator(cfg.TextGen)
	if err != nil {
		logger.Warn("text generation provider unavailable; compendium and specialist escalation are disabled", zap.Error(err))
		generator = nil
	}

	backend, err := buildBackend(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("building storage backend: %w", err)
	}

	s, err := stacks.New(ctx,
		vectorindex.New(cfg.Storage.VectorDimension),
		topiccatalog.New(),
		graphindex.New(),
		learning.New(learning.Config{
			Decay:                  cfg.Learning.Decay,
			MinQueriesForSignal:    cfg.Learning.MinQueriesForSignal,
			DefaultVectorWeight:    cfg.Learning.DefaultVectorWeight,
			DefaultRecencyWeight:   cfg.Learning.DefaultRecencyWeight,
			DefaultFrequencyWeight: cfg.Learning.DefaultFrequencyWeight,
		}),
		backend,
		stacks.Config{
			DuplicateThreshold: cfg.Duplicate.Threshold,
			DuplicateBehavior:  stacks.DuplicateBehavior(cfg.Duplicate.Behavior),
			DebounceInterval:   cfg.Storage.DebounceInterval,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("constructing stacks: %w", err)
	}

	desk := circulation.New(circulation.Thresholds{
		TopicComplexityThreshold: cfg.Circulation.TopicComplexityThreshold,
		EscalateAtThreshold:      cfg.Circulation.EscalateAtThreshold,
		GlobalThreshold:          cfg.Circulation.GlobalThreshold,
		MaxVolumesPerTopic:       cfg.Circulation.MaxVolumesPerTopic,
		MinEntriesForCompendium:  cfg.Circulation.MinEntriesForCompendium,
	}, logger)

	registry, err := librarian.New(librarian.Config{
		DefinitionsDir:    cfg.Librarian.DefinitionsDir,
		HotReload:         cfg.Librarian.HotReload,
		SelfResolutionGap: cfg.Librarian.SelfResolutionGap,
	}, generator, logger)
	if err != nil {
		return nil, fmt.Errorf("constructing librarian registry: %w", err)
	}

	return library.New(s, desk, registry, embedder, generator, library.Config{}, logger)
}

func buildEmbedder(cfg config.EmbeddingConfig) (providers.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "fastembed":
		return providers.NewFastEmbedEmbedder(providers.FastEmbedConfig{
			ModelName: fastembed.BGESmallEN,
			CacheDir:  cfg.CacheDir,
			Dimension: 384,
		})
	case "tei", "":
		if cfg.BaseURL == "" {
			return providers.NewStubEmbedder(384), nil
		}
		return providers.NewTEIEmbedder(providers.TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: 384,
		}, nil)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", libcore.ErrValidation, cfg.Provider)
	}
}

func buildGenerator(cfg config.TextGenConfig) (providers.TextGenerationProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: no text generation API key configured", libcore.ErrNotInitialized)
	}
	return providers.NewAnthropicGenerator(providers.AnthropicConfig{
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		MaxTokens: 1024,
	})
}

func buildBackend(cfg config.StorageConfig) (libstorage.Backend, error) {
	switch cfg.Backend {
	case "chromem":
		return libstorage.NewChromemBackend(libstorage.ChromemConfig{
			PersistPath: cfg.Path,
			Collection:  "librarycore",
			SidecarPath: cfg.Path + ".sidecar",
		})
	case "file", "":
		return libstorage.NewFileBackend(libstorage.Config{
			Path:   cfg.Path,
			Gzip:   cfg.Gzip,
			Atomic: cfg.AtomicWrites,
		})
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q (qdrant requires an explicit client and is wired only via tests)", libcore.ErrValidation, cfg.Backend)
	}
}

func registerRoutes(mux *http.ServeMux, lib *library.Library, logger *zap.Logger) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "size": lib.Size()})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /volumes", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text     string            `json:"text"`
			Topic    string            `json:"topic"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		id, err := lib.Add(r.Context(), req.Text, req.Topic, req.Metadata)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	})

	mux.HandleFunc("GET /volumes/{id}", func(w http.ResponseWriter, r *http.Request) {
		vol, ok := lib.GetByID(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, libcore.ErrNotFound)
			return
		}
		writeJSON(w, http.StatusOK, vol)
	})

	mux.HandleFunc("DELETE /volumes/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := lib.Delete(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Topic         string   `json:"topic"`
			Query         string   `json:"query"`
			TopK          int      `json:"top_k"`
			MinSimilarity float64  `json:"min_similarity"`
			Advanced      bool     `json:"advanced"`
			TopicFilter   []string `json:"topic_filter"`
			GraphBoost    *struct {
				Enabled bool    `json:"enabled"`
				Weight  float64 `json:"weight"`
			} `json:"graph_boost"`
			LearningBoost *struct {
				Enabled bool    `json:"enabled"`
				Weight  float64 `json:"weight"`
			} `json:"learning_boost"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.TopK <= 0 {
			req.TopK = 10
		}
		var (
			results []libcore.ScoredVolume
			err     error
		)
		if req.Advanced {
			advReq := library.AdvancedSearchRequest{
				Query:         req.Query,
				MaxResults:    req.TopK,
				MinSimilarity: req.MinSimilarity,
				TopicFilter:   req.TopicFilter,
			}
			if req.GraphBoost != nil {
				advReq.GraphBoost = library.BoostConfig{Enabled: req.GraphBoost.Enabled, Weight: req.GraphBoost.Weight}
			}
			if req.LearningBoost != nil {
				advReq.LearningBoost = library.BoostConfig{Enabled: req.LearningBoost.Enabled, Weight: req.LearningBoost.Weight}
			}
			results, err = lib.AdvancedSearch(r.Context(), advReq)
		} else {
			results, err = lib.Search(r.Context(), req.Topic, req.Query, req.TopK, req.MinSimilarity)
		}
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, results)
	})

	mux.HandleFunc("GET /topics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, lib.GetTopics())
	})

	mux.HandleFunc("POST /compendium", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs             []string `json:"ids"`
			DeleteOriginals bool     `json:"delete_originals"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		result, err := lib.Compendium(r.Context(), req.IDs, req.DeleteOriginals)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, libcore.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, libcore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, libcore.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, libcore.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
