package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglite/raglite/internal/config"
	"github.com/raglite/raglite/internal/store"
	"github.com/raglite/raglite/pkg/raglite"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	connMgr := store.NewConnManager(store.WithoutSweeper())
	t.Cleanup(func() { _ = connMgr.Close() })

	cfg := config.Default()
	cfg.CLIMode = true

	root := t.TempDir()
	ds, err := raglite.Open(context.Background(), root,
		raglite.WithConfig(cfg), raglite.WithConnManager(connMgr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })

	ts := httptest.NewServer(NewServer(ds).Router())
	t.Cleanup(ts.Close)

	corpus := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "a.md"), []byte("Cats sleep a lot."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "b.md"), []byte("Dogs chase balls."), 0o644))

	return ts, corpus
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestAPI_IngestSearchStats(t *testing.T) {
	ts, corpus := newTestServer(t)

	// Ingest.
	resp := postJSON(t, ts.URL+"/api/ingest", map[string]any{"path": corpus})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ingestResult struct {
		DocumentsProcessed int `json:"documents_processed"`
		ChunksCreated      int `json:"chunks_created"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ingestResult))
	assert.Equal(t, 2, ingestResult.DocumentsProcessed)

	// Search.
	resp = postJSON(t, ts.URL+"/api/search", map[string]any{"query": "cats sleep", "top_k": 1})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var searchResult struct {
		Results []struct {
			Content  string  `json:"content"`
			Score    float32 `json:"score"`
			Document struct {
				Source string `json:"source"`
			} `json:"document"`
		} `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&searchResult))
	require.Len(t, searchResult.Results, 1)
	assert.Contains(t, searchResult.Results[0].Document.Source, "a.md")

	// Stats.
	statsResp, err := http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()
	require.Equal(t, http.StatusOK, statsResp.StatusCode)

	var stats struct {
		TotalChunks    int    `json:"total_chunks"`
		TotalDocuments int    `json:"total_documents"`
		ModelName      string `json:"model_name"`
	}
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Equal(t, ingestResult.ChunksCreated, stats.TotalChunks)
	assert.Equal(t, "MiniLM-L6-v2", stats.ModelName)
}

func TestAPI_EmptyQueryReturnsEmptyResults(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/search", map[string]any{"query": "   "})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Results []any `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Empty(t, out.Results)
}

func TestAPI_BadRequestBodies(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/search", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/ingest", map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_IngestMissingPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/ingest", map[string]any{"path": "/does/not/exist"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
