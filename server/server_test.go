package server_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinrag/clinrag/internal/models"
	"github.com/clinrag/clinrag/pkg/chunker"
	"github.com/clinrag/clinrag/pkg/embed"
	"github.com/clinrag/clinrag/pkg/retrieval"
	"github.com/clinrag/clinrag/pkg/store"
	"github.com/clinrag/clinrag/server"
)

const testDim = 128

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	c := chunker.NewWithConfig(chunker.ChunkerConfig{ChunkSize: 500, ChunkOverlap: 50})
	chain := embed.NewChain(embed.ChainConfig{TargetDim: testDim, RateLimit: 1000})
	svc := retrieval.New(c, chain, store.NewMemoryStore(testDim), retrieval.ServiceConfig{})

	ts := httptest.NewServer(server.New(server.Config{}, svc, nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAddDocumentAndQuery(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/patients/p1/documents", map[string]string{
		"documentName": "labs.txt",
		"content": "Serial troponin monitoring continued through the night per protocol. " +
			"Troponin I elevated at 2.4 on the morning draw, prompting a cardiology consult.",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ingest models.IngestResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ingest))
	assert.True(t, ingest.Success)
	assert.Greater(t, ingest.ChunksStored, 0)

	resp = postJSON(t, ts.URL+"/patients/p1/query", map[string]interface{}{
		"query": "troponin level",
		"topK":  3,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Matches []struct {
			Content      string  `json:"content"`
			Score        float32 `json:"score"`
			DocumentName string  `json:"documentName"`
		} `json:"matches"`
		Context string   `json:"context"`
		Sources []string `json:"sources"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.NotEmpty(t, result.Matches)
	assert.Contains(t, result.Matches[0].Content, "Troponin I elevated at 2.4")
	assert.Contains(t, result.Context, "Troponin I elevated at 2.4")
	assert.Equal(t, []string{"labs.txt"}, result.Sources)
}

func TestQueryValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/patients/p1/query", map[string]string{"query": "   "})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "note.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("Patient ambulated twice in the hallway with physical therapy supervision today. " +
		"No shortness of breath or chest discomfort was reported during the session."))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, err := http.Post(ts.URL+"/patients/p1/uploads", writer.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ingest models.IngestResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ingest))
	assert.True(t, ingest.Success)
}

func TestWebSocketOriginAllowList(t *testing.T) {
	c := chunker.NewWithConfig(chunker.ChunkerConfig{ChunkSize: 500, ChunkOverlap: 50})
	chain := embed.NewChain(embed.ChainConfig{TargetDim: testDim, RateLimit: 1000})
	svc := retrieval.New(c, chain, store.NewMemoryStore(testDim), retrieval.ServiceConfig{})

	cfg := server.Config{AllowedOrigins: []string{"https://app.example"}}
	ts := httptest.NewServer(server.New(cfg, svc, nil).Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://app.example"}}
	conn, _, err = websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	conn.Close()
}

func TestStatsAndDelete(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/patients/p1/documents", map[string]string{
		"documentName": "note.txt",
		"content": "Diuresis continued overnight with good urine output and improving oxygen requirements. " +
			"Weaned to two liters nasal cannula by morning rounds without desaturation events.",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get(ts.URL + "/patients/p1/stats")
	require.NoError(t, err)
	var stats models.PatientStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Greater(t, stats.ChunkCount, 0)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/patients/p1/documents", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/patients/p1/stats")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Zero(t, stats.ChunkCount)
}
