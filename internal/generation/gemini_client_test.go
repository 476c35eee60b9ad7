package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(baseURL string) Generator {
	return NewGeminiClient(GeminiConfig{
		APIKey:  "test-key",
		Model:   "test-model",
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
	}, zap.NewNop())
}

func imageResponse(data []byte) string {
	payload := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{
				{"text": "here is your image"},
				{"inlineData": map[string]string{
					"mimeType": "image/png",
					"data":     base64.StdEncoding.EncodeToString(data),
				}},
			}}},
		},
	}
	out, _ := json.Marshal(payload)
	return string(out)
}

func TestGeminiGenerateSuccess(t *testing.T) {
	var captured geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(imageResponse([]byte("png-bytes"))))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	data, err := client.Generate(context.Background(), Request{Prompt: "a lighthouse at dusk"})
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	require.Len(t, captured.Contents, 1)
	require.Len(t, captured.Contents[0].Parts, 1, "no context image means a single text part")
	assert.Equal(t, "a lighthouse at dusk", captured.Contents[0].Parts[0].Text)
	assert.Len(t, captured.SafetySettings, 4)
}

func TestGeminiGenerateWithContextImage(t *testing.T) {
	var captured geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(imageResponse([]byte("img"))))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Generate(context.Background(), Request{
		Prompt:       "next scene",
		ContextImage: []byte("previous-image"),
	})
	require.NoError(t, err)

	parts := captured.Contents[0].Parts
	require.Len(t, parts, 3)
	assert.Equal(t, contextPreamble, parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("previous-image")), parts[1].InlineData.Data)
	assert.Equal(t, "next scene", parts[2].Text)
}

func TestGeminiGenerateForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Generate(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestGeminiGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Generate(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestGeminiGenerateNoImageData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"only text"}]}}]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Generate(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrNoImageData)
}

func TestGeminiGenerateCancellation(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the raw connection and
		// cancels r.Context() when the client disconnects.
		_, _ = io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	client := newTestClient(srv.URL)
	_, err := client.Generate(ctx, Request{Prompt: "p"})
	assert.ErrorIs(t, err, context.Canceled, "cancellation is passed through, not wrapped as a failure")
}
