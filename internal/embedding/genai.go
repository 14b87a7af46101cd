package embedding

import (
	"context"
	"fmt"
	"time"

	"memoria/internal/obslog"

	"google.golang.org/genai"
)

// maxBatchSize is the largest batch the GenAI EmbedContent API accepts
// in one request; larger batches are chunked transparently.
const maxBatchSize = 100

func int32Ptr(i int32) *int32 { return &i }

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
	dims     int32
	log      *obslog.Logger
}

// NewGenAIEngine constructs a GenAI-backed embedding engine.
func NewGenAIEngine(apiKey, model, taskType string, dims int, logger *obslog.Logger) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai: API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if taskType == "" {
		taskType = "SEMANTIC_SIMILARITY"
	}
	if dims <= 0 {
		dims = 768
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}

	return &GenAIEngine{
		client:   client,
		model:    model,
		taskType: taskType,
		dims:     int32(dims),
		log:      logger,
	}, nil
}

func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, TokenUsage, error) {
	timer := obslog.StartTimer(e.log, "GenAI.Embed")
	defer timer.Stop()

	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: int32Ptr(e.dims),
	})
	if err != nil {
		return nil, TokenUsage{}, fmt.Errorf("genai: embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, TokenUsage{}, fmt.Errorf("genai: no embeddings returned")
	}
	usage := TokenUsage{PromptTokens: approxTokenCount(text), TotalTokens: approxTokenCount(text)}
	return result.Embeddings[0].Values, usage, nil
}

// EmbedBatch embeds texts using GenAI's native batch support, chunking
// at maxBatchSize.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, TokenUsage, error) {
	timer := obslog.StartTimer(e.log, "GenAI.EmbedBatch")
	defer timer.Stop()

	if len(texts) == 0 {
		return nil, TokenUsage{}, nil
	}

	var usage TokenUsage
	for _, t := range texts {
		usage.PromptTokens += approxTokenCount(t)
		usage.TotalTokens += approxTokenCount(t)
	}

	if len(texts) <= maxBatchSize {
		vecs, err := e.embedChunk(ctx, texts)
		return vecs, usage, err
	}

	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		select {
		case <-ctx.Done():
			return nil, usage, ctx.Err()
		default:
		}
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, usage, fmt.Errorf("genai: batch %d-%d failed: %w", start, end, err)
		}
		all = append(all, chunk...)
	}
	return all, usage, nil
}

func (e *GenAIEngine) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	start := time.Now()
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: int32Ptr(e.dims),
	})
	e.log.Debug("GenAI embedChunk: %d texts in %v", len(texts), time.Since(start))
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

func (e *GenAIEngine) Dimensions() int { return int(e.dims) }
func (e *GenAIEngine) Name() string    { return fmt.Sprintf("genai:%s", e.model) }
