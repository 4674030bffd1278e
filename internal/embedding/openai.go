package embedding

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultModel is a small embedding model suited to short
	// keystroke-derived fragments.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimensions keeps vectors compact; the model supports
	// native dimension reduction.
	DefaultDimensions = 384
)

// OpenAIEncoder embeds text through the OpenAI embeddings API.
type OpenAIEncoder struct {
	client     openai.Client
	model      string
	dimensions int
}

// OpenAIOption configures an OpenAIEncoder.
type OpenAIOption func(*OpenAIEncoder)

// WithModel overrides the embedding model.
func WithModel(model string) OpenAIOption {
	return func(e *OpenAIEncoder) {
		if model != "" {
			e.model = model
		}
	}
}

// WithDimensions overrides the requested vector width.
func WithDimensions(n int) OpenAIOption {
	return func(e *OpenAIEncoder) {
		if n > 0 {
			e.dimensions = n
		}
	}
}

// NewOpenAIEncoder builds an encoder backed by the OpenAI API. An empty
// apiKey falls back to the OPENAI_API_KEY environment variable.
func NewOpenAIEncoder(apiKey string, opts ...OpenAIOption) (*OpenAIEncoder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("create openai encoder: %w", ErrNotConfigured)
	}

	e := &OpenAIEncoder{
		client:     openai.NewClient(option.WithAPIKey(apiKey)),
		model:      DefaultModel,
		dimensions: DefaultDimensions,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *OpenAIEncoder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: openai.Int(int64(e.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("embed texts: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embed texts: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(vectors) {
			return nil, fmt.Errorf("embed texts: vector index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		vectors[d.Index] = vec
	}
	return vectors, nil
}

func (e *OpenAIEncoder) Dimensions() int { return e.dimensions }

func (e *OpenAIEncoder) Available() (bool, string) {
	return true, ""
}
