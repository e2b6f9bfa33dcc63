package embedding

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// DefaultImageModel is a CLIP-style model served behind an
	// OpenAI-compatible embeddings endpoint.
	DefaultImageModel = "clip-ViT-B-32"

	// DefaultImageDimension is the vector dimension of DefaultImageModel.
	DefaultImageDimension = 512
)

// ImageEmbedder generates dense image vectors from image URLs. The serving
// endpoint resolves the URL itself, so the embedder passes URLs straight
// through as inputs.
//
// A single unreadable image never fails a batch: its slot in the result is
// nil and the caller indexes the record without an image vector.
type ImageEmbedder struct {
	client    *Client
	model     string
	dimension int
	logger    *slog.Logger
}

// NewImageEmbedder creates an ImageEmbedder. Zero values select defaults.
func NewImageEmbedder(client *Client, model string, dimension int, logger *slog.Logger) *ImageEmbedder {
	if model == "" {
		model = DefaultImageModel
	}
	if dimension <= 0 {
		dimension = DefaultImageDimension
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageEmbedder{
		client:    client,
		model:     model,
		dimension: dimension,
		logger:    logger,
	}
}

// Dimension returns the vector dimension the model produces.
func (e *ImageEmbedder) Dimension() int {
	return e.dimension
}

// EmbedImages returns one vector per URL, nil for URLs that could not be
// embedded. Empty URLs are skipped without an API call.
func (e *ImageEmbedder) EmbedImages(ctx context.Context, urls []string) [][]float32 {
	vectors := make([][]float32, len(urls))
	for i, url := range urls {
		if url == "" {
			continue
		}
		vec, err := e.embedOne(ctx, url)
		if err != nil {
			e.logger.Warn("image embedding failed, indexing without image vector",
				"url", url, "error", err)
			continue
		}
		vectors[i] = vec
	}
	return vectors
}

func (e *ImageEmbedder) embedOne(ctx context.Context, url string) ([]float32, error) {
	var vector []float32

	operation := func() error {
		resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfString: openai.String(url),
			},
			Model: e.model,
		})
		if err != nil {
			if isRetryableAPIError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(resp.Data) == 0 {
			return backoff.Permanent(ErrEmbeddingUnavailable)
		}
		vector = toFloat32(resp.Data[0].Embedding)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 15 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return vector, nil
}
