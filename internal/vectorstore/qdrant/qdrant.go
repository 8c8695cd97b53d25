package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"pdfchat/internal/vectorstore"
)

// ErrUnavailable marks every failure to reach or use the vector store.
// Callers must not assume partial success of a failed batch.
var ErrUnavailable = errors.New("vector index unavailable")

const embedBatchSize = 10 // embedding providers commonly cap batch size

// Embedder is the text -> fixed-length vector gateway the index embeds
// chunks and queries with.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is a minimal REST client to Qdrant. It keeps one collection with
// cosine distance and a filterable integer payload field "session_id".
type Index struct {
	baseURL    string
	apiKey     string
	collection string
	dimension  int
	embedder   Embedder
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

func NewIndex(cfg Config, embedder Embedder) *Index {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = 384
	}
	return &Index{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  dimension,
		embedder:   embedder,
		client:     &http.Client{Timeout: timeout},
	}
}

// EnsureCollection creates the collection and the session_id payload index
// if absent. Losing a create race to another process is tolerated.
func (ix *Index) EnsureCollection(ctx context.Context) error {
	exists, err := ix.collectionExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     ix.dimension,
				"distance": "Cosine",
			},
		}
		status, raw, err := ix.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", ix.collection), body)
		if err != nil {
			return err
		}
		if status >= 300 {
			// Another process may have created it between the check and the PUT.
			if again, checkErr := ix.collectionExists(ctx); checkErr != nil || !again {
				return fmt.Errorf("%w: create collection status %d: %s", ErrUnavailable, status, raw)
			}
		}
	}

	// A filterable index on session_id keeps scoped search from scanning
	// the whole collection. Qdrant answers 4xx both for an index that
	// already exists and for auth/validation failures, so a rejected PUT is
	// only tolerated after confirming the index is really there.
	indexBody := map[string]any{
		"field_name":   "session_id",
		"field_schema": "integer",
	}
	status, raw, err := ix.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/index?wait=true", ix.collection), indexBody)
	if err != nil {
		return err
	}
	if status >= 300 {
		exists, checkErr := ix.payloadIndexExists(ctx)
		if checkErr != nil {
			return checkErr
		}
		if !exists {
			return fmt.Errorf("%w: create payload index status %d: %s", ErrUnavailable, status, raw)
		}
	}
	return nil
}

func (ix *Index) payloadIndexExists(ctx context.Context) (bool, error) {
	status, raw, err := ix.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", ix.collection), nil)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("%w: get collection status %d", ErrUnavailable, status)
	}

	var parsed struct {
		Result struct {
			PayloadSchema map[string]json.RawMessage `json:"payload_schema"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return false, fmt.Errorf("%w: parse collection info: %v", ErrUnavailable, err)
	}
	_, ok := parsed.Result.PayloadSchema["session_id"]
	return ok, nil
}

func (ix *Index) collectionExists(ctx context.Context) (bool, error) {
	status, _, err := ix.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", ix.collection), nil)
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusOK:
		return true, nil
	case status == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: get collection status %d", ErrUnavailable, status)
	}
}

// Upsert embeds the chunks in batches and stores them with payload
// {session_id, text}. Point ids are random; chunks are never updated in
// place, only bulk-deleted by session.
func (ix *Index) Upsert(ctx context.Context, sessionID uint, chunks []string) error {
	if len(chunks) == 0 {
		return nil
	}

	var vectors [][]float32
	for i := 0; i < len(chunks); i += embedBatchSize {
		end := i + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch, err := ix.embedder.EmbedBatch(ctx, chunks[i:end])
		if err != nil {
			return err
		}
		vectors = append(vectors, batch...)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: got %d vectors for %d chunks", ErrUnavailable, len(vectors), len(chunks))
	}

	points := make([]map[string]any, len(chunks))
	for i := range chunks {
		if len(vectors[i]) != ix.dimension {
			return fmt.Errorf("%w: embedding dimension %d, collection expects %d", ErrUnavailable, len(vectors[i]), ix.dimension)
		}
		points[i] = map[string]any{
			"id":     uuid.NewString(),
			"vector": vectors[i],
			"payload": map[string]any{
				"session_id": sessionID,
				"text":       chunks[i],
			},
		}
	}

	body := map[string]any{"points": points}
	status, raw, err := ix.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", ix.collection), body)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("%w: upsert status %d: %s", ErrUnavailable, status, raw)
	}
	return nil
}

// Search embeds the query and runs nearest-neighbor search restricted to
// the session. Results come back in Qdrant's similarity order.
func (ix *Index) Search(ctx context.Context, sessionID uint, queryText string, k int) ([]vectorstore.SearchHit, error) {
	if k <= 0 {
		k = 5
	}

	vector, err := ix.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"filter":       sessionFilter(sessionID),
	}

	status, raw, err := ix.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", ix.collection), body)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("%w: search status %d: %s", ErrUnavailable, status, raw)
	}

	var parsed struct {
		Result []struct {
			Score   float32        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse search response: %v", ErrUnavailable, err)
	}

	hits := make([]vectorstore.SearchHit, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		hit := vectorstore.SearchHit{Score: r.Score}
		if v, ok := r.Payload["text"].(string); ok {
			hit.Text = v
		}
		if v, ok := r.Payload["session_id"].(float64); ok {
			hit.SessionID = uint(v)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteSession removes every point tagged with the session id. Deleting a
// session with no points is a no-op success.
func (ix *Index) DeleteSession(ctx context.Context, sessionID uint) error {
	body := map[string]any{"filter": sessionFilter(sessionID)}
	status, raw, err := ix.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", ix.collection), body)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("%w: delete status %d: %s", ErrUnavailable, status, raw)
	}
	return nil
}

func sessionFilter(sessionID uint) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{
				"key":   "session_id",
				"match": map[string]any{"value": sessionID},
			},
		},
	}
}

func (ix *Index) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: marshal request: %v", ErrUnavailable, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, ix.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ix.apiKey != "" {
		req.Header.Set("api-key", ix.apiKey)
	}

	resp, err := ix.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	return resp.StatusCode, raw, nil
}
