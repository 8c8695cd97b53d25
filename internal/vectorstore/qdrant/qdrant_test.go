package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns a fixed-dimension vector derived from text length.
type stubEmbedder struct {
	dimension  int
	batchSizes []int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dimension)
	v[0] = float32(len(text))
	return v, nil
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batchSizes = append(e.batchSizes, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, e.dimension)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

// fakeQdrant records requests and serves canned collection/point endpoints.
type fakeQdrant struct {
	t *testing.T

	collectionExists bool
	indexExists      bool
	createCalls      int
	indexCalls       int
	indexStatus      int // forced response status for index creation, 0 = normal

	lastUpsertBody map[string]any
	lastSearchBody map[string]any
	lastDeleteBody map[string]any
}

func (f *fakeQdrant) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/test", func(w http.ResponseWriter, r *http.Request) {
		if !f.collectionExists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		schema := `{}`
		if f.indexExists {
			schema = `{"session_id":{"data_type":"integer","points":0}}`
		}
		fmt.Fprintf(w, `{"result":{"payload_schema":%s}}`, schema)
	})
	mux.HandleFunc("PUT /collections/test", func(w http.ResponseWriter, r *http.Request) {
		f.createCalls++
		if f.collectionExists {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.collectionExists = true
		fmt.Fprint(w, `{"result":true}`)
	})
	mux.HandleFunc("PUT /collections/test/index", func(w http.ResponseWriter, r *http.Request) {
		f.indexCalls++
		if f.indexStatus != 0 {
			w.WriteHeader(f.indexStatus)
			return
		}
		if f.indexExists {
			// Qdrant rejects re-creating an existing payload index.
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.indexExists = true
		fmt.Fprint(w, `{"result":{}}`)
	})
	mux.HandleFunc("PUT /collections/test/points", func(w http.ResponseWriter, r *http.Request) {
		f.lastUpsertBody = decodeBody(f.t, r)
		fmt.Fprint(w, `{"result":{"status":"completed"}}`)
	})
	mux.HandleFunc("POST /collections/test/points/search", func(w http.ResponseWriter, r *http.Request) {
		f.lastSearchBody = decodeBody(f.t, r)
		fmt.Fprint(w, `{"result":[
			{"score":0.92,"payload":{"session_id":7,"text":"first"}},
			{"score":0.81,"payload":{"session_id":7,"text":"second"}}
		]}`)
	})
	mux.HandleFunc("POST /collections/test/points/delete", func(w http.ResponseWriter, r *http.Request) {
		f.lastDeleteBody = decodeBody(f.t, r)
		fmt.Fprint(w, `{"result":{"status":"completed"}}`)
	})
	return mux
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func newTestIndex(t *testing.T, dimension int) (*Index, *fakeQdrant, *stubEmbedder) {
	t.Helper()
	fake := &fakeQdrant{t: t}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	embedder := &stubEmbedder{dimension: dimension}
	index := NewIndex(Config{
		URL:        server.URL,
		Collection: "test",
		Dimension:  dimension,
	}, embedder)
	return index, fake, embedder
}

func TestEnsureCollectionIdempotent(t *testing.T) {
	index, fake, _ := newTestIndex(t, 4)
	ctx := context.Background()

	require.NoError(t, index.EnsureCollection(ctx))
	assert.Equal(t, 1, fake.createCalls)
	assert.True(t, fake.collectionExists)

	// Second call must not re-create and must tolerate the payload index
	// already existing.
	require.NoError(t, index.EnsureCollection(ctx))
	assert.Equal(t, 1, fake.createCalls)
}

func TestEnsureCollectionSurfacesIndexAuthFailure(t *testing.T) {
	index, fake, _ := newTestIndex(t, 4)
	fake.collectionExists = true
	fake.indexStatus = http.StatusForbidden

	// A rejected index PUT with no index behind it is a hard failure, not
	// an already-exists.
	err := index.EnsureCollection(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "403")
}

func TestUpsertBatchesEmbeddingsAndTagsPayload(t *testing.T) {
	index, fake, embedder := newTestIndex(t, 4)
	ctx := context.Background()

	chunks := make([]string, 25)
	for i := range chunks {
		chunks[i] = fmt.Sprintf("chunk %02d", i)
	}
	require.NoError(t, index.Upsert(ctx, 42, chunks))

	assert.Equal(t, []int{10, 10, 5}, embedder.batchSizes)

	points, ok := fake.lastUpsertBody["points"].([]any)
	require.True(t, ok)
	require.Len(t, points, 25)
	for i, p := range points {
		point := p.(map[string]any)
		assert.NotEmpty(t, point["id"])
		payload := point["payload"].(map[string]any)
		assert.Equal(t, float64(42), payload["session_id"])
		assert.Equal(t, chunks[i], payload["text"])
	}
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	index, _, _ := newTestIndex(t, 8)
	// The stub embedder produces 8-dim vectors; build an index expecting 8
	// but swap the embedder for a wrong-dimension one.
	index.embedder = &stubEmbedder{dimension: 3}

	err := index.Upsert(context.Background(), 1, []string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSearchScopesToSession(t *testing.T) {
	index, fake, _ := newTestIndex(t, 4)

	hits, err := index.Search(context.Background(), 7, "what color is the sky", 5)
	require.NoError(t, err)

	filter := fake.lastSearchBody["filter"].(map[string]any)
	must := filter["must"].([]any)
	require.Len(t, must, 1)
	cond := must[0].(map[string]any)
	assert.Equal(t, "session_id", cond["key"])
	assert.Equal(t, float64(7), cond["match"].(map[string]any)["value"])
	assert.Equal(t, float64(5), fake.lastSearchBody["limit"])
	assert.Equal(t, true, fake.lastSearchBody["with_payload"])

	// Rank order from the store is preserved.
	require.Len(t, hits, 2)
	assert.Equal(t, "first", hits[0].Text)
	assert.Equal(t, "second", hits[1].Text)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	for _, h := range hits {
		assert.Equal(t, uint(7), h.SessionID)
	}
}

func TestDeleteSessionUsesFilter(t *testing.T) {
	index, fake, _ := newTestIndex(t, 4)

	require.NoError(t, index.DeleteSession(context.Background(), 9))

	filter := fake.lastDeleteBody["filter"].(map[string]any)
	must := filter["must"].([]any)
	cond := must[0].(map[string]any)
	assert.Equal(t, "session_id", cond["key"])
	assert.Equal(t, float64(9), cond["match"].(map[string]any)["value"])

	// Deleting again is a no-op success.
	require.NoError(t, index.DeleteSession(context.Background(), 9))
}

func TestUnreachableStoreIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close() // connection refused from here on

	index := NewIndex(Config{URL: server.URL, Collection: "test", Dimension: 4}, &stubEmbedder{dimension: 4})

	err := index.EnsureCollection(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	err = index.DeleteSession(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = index.Search(context.Background(), 1, "q", 3)
	assert.ErrorIs(t, err, ErrUnavailable)
}
