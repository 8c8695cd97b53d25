package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrEmbedding marks failures of the embedding endpoint. It is the same
// class of upstream fault as ErrGeneration but hits the ingestion and
// retrieval paths rather than answer generation.
var ErrEmbedding = errors.New("embedding failed")

// EmbeddingModel binds a Client to one embedding model. It is stateless and
// deterministic for a given model version; repeated calls recompute.
type EmbeddingModel struct {
	client *Client
	model  string
}

func NewEmbeddingModel(client *Client, model string) *EmbeddingModel {
	return &EmbeddingModel{client: client, model: model}
}

// Embed returns the embedding vector for a single text.
func (m *EmbeddingModel) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds several texts in one call; the result preserves input
// order. Callers clamp the batch size to provider limits.
func (m *EmbeddingModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return m.embed(ctx, texts)
}

func (m *EmbeddingModel) embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: empty input text", ErrEmbedding)
		}
	}

	reqBody := map[string]interface{}{
		"model": m.model,
		"input": texts,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrEmbedding, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.client.baseURL+"/embeddings", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.client.apiKey)

	resp, err := m.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrEmbedding, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbedding, resp.StatusCode, string(raw))
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrEmbedding, err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrEmbedding, len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		if len(parsed.Data[i].Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrEmbedding, i)
		}
		vectors[i] = parsed.Data[i].Embedding
	}
	return vectors, nil
}
