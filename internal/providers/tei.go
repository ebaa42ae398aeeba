package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const teiInstrumentationName = "github.com/fyrsmithlabs/librarycore/internal/providers"

// TEIEmbedder calls a HuggingFace Text Embeddings Inference server's
// /embed endpoint. Grounded on the teacher's embeddings.Service.
type TEIEmbedder struct {
	baseURL   string
	model     string
	apiKey    string
	dimension int
	client    *http.Client
	logger    *zap.Logger
	metrics   *teiMetrics
}

// TEIConfig configures a TEIEmbedder.
type TEIConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int
}

// NewTEIEmbedder constructs a TEIEmbedder. logger may be nil, in which case
// a no-op logger is used.
func NewTEIEmbedder(cfg TEIConfig, logger *zap.Logger) (*TEIEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: TEI base URL required", libcore.ErrValidation)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TEIEmbedder{
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
		metrics:   newTEIMetrics(logger),
	}, nil
}

func (e *TEIEmbedder) Dimension() int { return e.dimension }

type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

func (e *TEIEmbedder) embed(ctx context.Context, op string, inputs interface{}, batchSize int) ([][]float32, error) {
	start := time.Now()
	var opErr error
	defer func() { e.metrics.record(ctx, e.model, op, time.Since(start), batchSize, opErr) }()

	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		opErr = fmt.Errorf("marshaling TEI request: %w", err)
		return nil, opErr
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		opErr = fmt.Errorf("building TEI request: %w", err)
		return nil, opErr
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		opErr = libcore.NewProviderError("tei", err)
		return nil, opErr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		opErr = libcore.NewProviderError("tei", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
		return nil, opErr
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		opErr = fmt.Errorf("decoding TEI response: %w", err)
		return nil, opErr
	}
	return vectors, nil
}

// EmbedDocuments implements EmbeddingProvider.
func (e *TEIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", libcore.ErrValidation)
	}
	return e.embed(ctx, "embed_documents", texts, len(texts))
}

// EmbedQuery implements EmbeddingProvider.
func (e *TEIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", libcore.ErrValidation)
	}
	vectors, err := e.embed(ctx, "embed_query", text, 1)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, libcore.NewProviderError("tei", fmt.Errorf("empty response"))
	}
	return vectors[0], nil
}

type teiMetrics struct {
	logger    *zap.Logger
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

func newTEIMetrics(logger *zap.Logger) *teiMetrics {
	meter := otel.Meter(teiInstrumentationName)
	m := &teiMetrics{logger: logger}

	var err error
	m.duration, err = meter.Float64Histogram(
		"librarycore.embedding.generation_duration_seconds",
		metric.WithDescription("Duration of embedding generation calls, labeled by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create embedding duration histogram", zap.Error(err))
	}
	m.batchSize, err = meter.Int64Histogram(
		"librarycore.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding batch request"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		m.logger.Warn("failed to create embedding batch size histogram", zap.Error(err))
	}
	m.errors, err = meter.Int64Counter(
		"librarycore.embedding.errors_total",
		metric.WithDescription("Total embedding generation errors by model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create embedding errors counter", zap.Error(err))
	}
	return m
}

func (m *teiMetrics) record(ctx context.Context, model, op string, d time.Duration, batchSize int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("operation", op),
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	}
	if batchSize > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batchSize), metric.WithAttributes(attrs...))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
