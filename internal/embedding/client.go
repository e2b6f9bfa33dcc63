package embedding

import (
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrEmbeddingUnavailable marks transient embedding-service failures.
// Callers retry the affected sub-batch; records still failing are excluded
// from the batch upsert, never the whole job.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// Client wraps the OpenAI-compatible client used for embedding generation.
type Client struct {
	client *openai.Client
}

// NewClient creates an embedding API client. It reads OPENAI_API_KEY from
// the environment and returns an error if not set. A non-empty baseURL
// points the client at an alternative OpenAI-compatible endpoint (used for
// CLIP-style image models served locally).
func NewClient(baseURL string) (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	return newClientWithKey(apiKey, baseURL), nil
}

func newClientWithKey(apiKey, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &Client{client: &client}
}

// Client returns the underlying OpenAI client.
func (c *Client) Client() *openai.Client {
	return c.client
}
