package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// DefaultTextModel is the default text embedding model.
	DefaultTextModel = "text-embedding-3-small"

	// DefaultTextDimension is the vector dimension of DefaultTextModel.
	DefaultTextDimension = 1536

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute
	// rate limits. The API supports up to 2048 texts per batch, but smaller
	// batches reduce TPM pressure.
	DefaultBatchSize = 500
)

// Embedder generates dense text vectors using an OpenAI-compatible
// embeddings API. It batches requests for efficiency and retries rate
// limit errors with exponential backoff.
//
// Embedding is order-preserving: the returned slice is the same length as
// the input and vectors line up with their texts.
type Embedder struct {
	client    *Client
	model     string
	dimension int
	batchSize int
}

// NewEmbedder creates an Embedder. Zero values select the defaults.
func NewEmbedder(client *Client, model string, dimension, batchSize int) *Embedder {
	if model == "" {
		model = DefaultTextModel
	}
	if dimension <= 0 {
		dimension = DefaultTextDimension
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Embedder{
		client:    client,
		model:     model,
		dimension: dimension,
		batchSize: batchSize,
	}
}

// ModelID returns the embedding model identifier. Stored alongside the
// collection schema so a model upgrade is detected instead of silently
// mixing incompatible vector spaces.
func (e *Embedder) ModelID() string {
	return e.model
}

// Dimension returns the vector dimension the model produces.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// EmbedTexts generates embeddings for the given texts, in order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	var all [][]float32

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		batch := texts[i:end]

		embeddings, err := e.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, embeddings...)
	}

	return all, nil
}

// embedBatchWithRetry generates embeddings for a single batch.
// Rate limit and server errors are retried with exponential backoff;
// other errors fail immediately.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: e.model,
		})
		if err != nil {
			if isRetryableAPIError(err) {
				return err // Will retry with backoff
			}
			return backoff.Permanent(err)
		}

		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
		}

		embeddings = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			vec := toFloat32(data.Embedding)
			if len(vec) != e.dimension {
				return backoff.Permanent(fmt.Errorf(
					"model %s returned %d dimensions, expected %d", e.model, len(vec), e.dimension))
			}
			embeddings[i] = vec
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	return embeddings, nil
}

// isRetryableAPIError reports whether the error is worth retrying:
// rate limits (429) and server-side failures (5xx).
func isRetryableAPIError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	// Network-level errors have no status code; treat as transient.
	return true
}

// toFloat32 converts []float64 to []float32. The API returns float64 but
// the index stores float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
