package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) ClientConfig {
	return ClientConfig{
		BaseURL:    url,
		Timeout:    time.Second,
		RetryCount: 2,
		RetryDelay: time.Millisecond,
	}
}

func TestPlagiarismClient_Match(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/match", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var req matchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "some text", req.Text)
		_, _ = w.Write([]byte(`{"matches":[{"source_id":"web-1","similarity":0.9,"spans":[{"start":0,"end":4}]}]}`))
	}))
	defer srv.Close()

	matches, err := NewPlagiarismClient(testConfig(srv.URL), zerolog.Nop()).Match(context.Background(), "some text")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "web-1", matches[0].SourceID)
	assert.Equal(t, []models.TextSpan{{Start: 0, End: 4}}, matches[0].Spans)
}

func TestProviderClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"likelihood":0.8,"confidence":0.7}`))
	}))
	defer srv.Close()

	got, err := NewAuthorshipClient(testConfig(srv.URL), zerolog.Nop()).Classify(context.Background(), "text")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, got.Likelihood, 1e-9)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestProviderClient_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewAuthorshipClient(testConfig(srv.URL), zerolog.Nop()).Classify(context.Background(), "text")
	assert.True(t, errors.Is(err, models.ErrProviderUnavailable))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestProviderClient_TimeoutIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := NewEmbeddingClient(testConfig(srv.URL), zerolog.Nop()).Embed(ctx, []string{"a"})
	assert.True(t, errors.Is(err, models.ErrTimeout))
}

func TestProviderClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewPlagiarismClient(testConfig(url), zerolog.Nop()).Match(context.Background(), "text")
	assert.True(t, errors.Is(err, models.ErrProviderUnavailable))
}

func TestEmbeddingClient_VectorCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2]]}`))
	}))
	defer srv.Close()

	_, err := NewEmbeddingClient(testConfig(srv.URL), zerolog.Nop()).Embed(context.Background(), []string{"a", "b"})
	assert.True(t, errors.Is(err, models.ErrProviderUnavailable))
}
