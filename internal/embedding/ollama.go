package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"memoria/internal/obslog"
)

// OllamaEngine generates embeddings using a local Ollama server.
type OllamaEngine struct {
	endpoint string
	model    string
	dims     int
	client   *http.Client
	log      *obslog.Logger
}

// NewOllamaEngine creates an Ollama-backed embedding engine. dims is the
// dimensionality the caller expects the configured model to produce;
// Ollama's embed API does not negotiate dimensionality, so this is
// informational only: Dimensions reports it, and responses are not
// checked against it.
func NewOllamaEngine(endpoint, model string, dims int, logger *obslog.Logger) (*OllamaEngine, error) {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "embeddinggemma"
	}
	if dims <= 0 {
		dims = 768
	}
	return &OllamaEngine{
		endpoint: endpoint,
		model:    model,
		dims:     dims,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      logger,
	}, nil
}

func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, TokenUsage, error) {
	timer := obslog.StartTimer(e.log, "Ollama.Embed")
	defer timer.Stop()

	req := ollamaEmbedRequest{Model: e.model, Prompt: text}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, TokenUsage{}, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, TokenUsage{}, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, TokenUsage{}, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		e.log.Error("Ollama returned status %d: %s", resp.StatusCode, string(data))
		return nil, TokenUsage{}, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, string(data))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, TokenUsage{}, fmt.Errorf("ollama: decode response: %w", err)
	}

	usage := TokenUsage{PromptTokens: approxTokenCount(text), TotalTokens: approxTokenCount(text)}
	return result.Embedding, usage, nil
}

// EmbedBatch embeds each text sequentially: Ollama's embeddings endpoint
// has no native batch mode.
func (e *OllamaEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, TokenUsage, error) {
	timer := obslog.StartTimer(e.log, "Ollama.EmbedBatch")
	defer timer.Stop()

	if len(texts) == 0 {
		return nil, TokenUsage{}, nil
	}

	embeddings := make([][]float32, len(texts))
	var usage TokenUsage
	for i, text := range texts {
		vec, u, err := e.Embed(ctx, text)
		if err != nil {
			return nil, usage, fmt.Errorf("ollama: embed item %d: %w", i, err)
		}
		embeddings[i] = vec
		usage.PromptTokens += u.PromptTokens
		usage.TotalTokens += u.TotalTokens
	}
	return embeddings, usage, nil
}

func (e *OllamaEngine) Dimensions() int { return e.dims }
func (e *OllamaEngine) Name() string    { return fmt.Sprintf("ollama:%s", e.model) }

func (e *OllamaEngine) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: health check status %d", resp.StatusCode)
	}
	return nil
}

// approxTokenCount is a rough whitespace-based estimate used only for
// back-pressure accounting; providers that return real usage figures
// should be preferred when available.
func approxTokenCount(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			count++
			inWord = true
		}
	}
	return count
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}
