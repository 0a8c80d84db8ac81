package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/astprobe/activations"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

const sampleResult = `{
	"features": [
		{"token": "class", "layers": [{"index": 0, "values": [1, 2]}]},
		{"token": "A", "layers": [{"index": 0, "values": [3, 4]}]}
	]
}`

func newExtractServer(t *testing.T, results ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/extract", r.URL.Path)

		var req extractRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Model)
		assert.Len(t, req.Sentences, len(results))

		raw := make([]json.RawMessage, len(results))
		for i, res := range results {
			raw[i] = json.RawMessage(res)
		}
		assert.NoError(t, json.NewEncoder(w).Encode(extractResponse{Results: raw}))
	}))
}

func TestClientExtract(t *testing.T) {
	srv := newExtractServer(t, sampleResult)
	defer srv.Close()

	c := NewClient(srv.URL, "bert-base", "cpu")
	res, err := c.Extract(context.Background(), "class A")
	require.NoError(t, err)

	require.Len(t, res.Subwords, 2)
	assert.Equal(t, "class", res.Subwords[0].Text)
	assert.Equal(t, 0, res.Subwords[0].Start)
	assert.Equal(t, 6, res.Subwords[1].Start)

	v, err := res.Tensor.Vector(0, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, v)
}

func TestClientExtractReportedSpans(t *testing.T) {
	// When the service reports spans they override piece matching.
	withSpans := `{
		"features": [
			{"token": "class", "layers": [{"index": 0, "values": [1]}]},
			{"token": "A", "layers": [{"index": 0, "values": [2]}]}
		],
		"spans": [{"start": 0, "end": 5}, {"start": 6, "end": 7}]
	}`
	srv := newExtractServer(t, withSpans)
	defer srv.Close()

	res, err := NewClient(srv.URL, "bert-base", "cpu").Extract(context.Background(), "class A")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Subwords[0].End)
	assert.Equal(t, 7, res.Subwords[1].End)
}

func TestClientExtractBatch(t *testing.T) {
	srv := newExtractServer(t, sampleResult, sampleResult)
	defer srv.Close()

	results, err := NewClient(srv.URL, "bert-base", "cpu").
		ExtractBatch(context.Background(), []string{"class A", "class A"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[1].Tensor.NumTokens())
}

func TestClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "bert-base", "cpu").Extract(context.Background(), "class A")
	assert.True(t, errors.Is(err, ErrServiceUnavailable))
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestClientUnreachable(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", "bert-base", "cpu").Extract(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrServiceUnavailable))
}

func TestClientResultCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewEncoder(w).Encode(extractResponse{}))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "bert-base", "cpu").Extract(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrServiceUnavailable))
}

func TestFileProviderJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acts.json")
	writeFile(t, path, []byte(sampleResult))

	p := &FileProvider{Path: path}
	res, err := p.Extract(context.Background(), "class A")
	require.NoError(t, err)
	require.Len(t, res.Subwords, 2)
	assert.Equal(t, 6, res.Subwords[1].Start)
	assert.Equal(t, 2, res.Tensor.NumTokens())
}

func TestFileProviderBinary(t *testing.T) {
	tensor, err := activations.New(map[int][][]float32{
		0: {{1, 1}, {2, 2}},
	})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "acts.bin")
	require.NoError(t, activations.WriteFile(path, tensor))

	p := &FileProvider{Path: path}
	res, err := p.Extract(context.Background(), "class A")
	require.NoError(t, err)
	require.Len(t, res.Subwords, 2)
	assert.Equal(t, "class", res.Subwords[0].Text)
	assert.Equal(t, "A", res.Subwords[1].Text)
	assert.Equal(t, 6, res.Subwords[1].Start)

	v, err := res.Tensor.Vector(0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, v)
}

func TestFileProviderMissing(t *testing.T) {
	p := &FileProvider{Path: filepath.Join(t.TempDir(), "missing.json")}
	_, err := p.Extract(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrServiceUnavailable))
}
