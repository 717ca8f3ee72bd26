package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursekb/internal/adapter/analyzer"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64, analyzer.NewTokenizer())

	got, err := e.Embed(context.Background(), []string{"梯度下降 gradient", "梯度下降 gradient", "数据库 索引"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 64)
	assert.Equal(t, got[0], got[1])
	assert.InDelta(t, 1.0, cosine(got[0], got[1]), 1e-6)
	assert.Less(t, cosine(got[0], got[2]), 0.9)
}

func TestHashEmbedderEmptyText(t *testing.T) {
	e := NewHashEmbedder(0, analyzer.NewTokenizer())
	assert.Equal(t, 256, e.Dimension())

	got, err := e.Embed(context.Background(), []string{""})
	require.NoError(t, err)
	for _, x := range got[0] {
		assert.Zero(t, x)
	}
}

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Input)
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_EMBED_KEY", "secret")
	e, err := NewOpenAICompatibleEmbedder("TEST_EMBED_KEY", "m", srv.URL, 2)
	require.NoError(t, err)

	got, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, got)
	assert.Equal(t, 2, e.Dimension())
}

func TestOpenAIEmbedderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	t.Setenv("TEST_EMBED_KEY", "secret")
	e, err := NewOpenAICompatibleEmbedder("TEST_EMBED_KEY", "m", srv.URL, 0)
	require.NoError(t, err)
	assert.Equal(t, 1536, e.Dimension())

	_, err = e.Embed(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "503")

	_, err = NewOpenAICompatibleEmbedder("TEST_EMBED_KEY_UNSET", "m", srv.URL, 0)
	assert.Error(t, err)
}
