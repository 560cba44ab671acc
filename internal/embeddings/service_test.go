package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agencyd/internal/config"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := NewService(config.EmbeddingsConfig{
		BaseURL: srv.URL,
		Model:   "test-model",
	})
	require.NoError(t, err)
	return svc
}

func TestEmbedDocuments(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		// Respond out of order; the client must reorder by index.
		resp := map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	out, err := svc.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []float32{1, 0}, out[0])
	assert.Equal(t, []float32{0, 1}, out[1])
}

func TestEmbedDocumentsCountMismatch(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	})
	_, err := svc.EmbedDocuments(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestEmbedDocumentsAPIError(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := svc.EmbedDocuments(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestEmbedDocumentsEmptyInput(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty input")
	})
	out, err := svc.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}
