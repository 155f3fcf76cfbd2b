package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, content string, seen *map[string]any) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "c1",
			"object":  "chat.completion",
			"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
}

func TestDescribePhotoSendsImagePart(t *testing.T) {
	var body map[string]any
	c := completionServer(t, "  Шоколадний торт з ягодами ", &body)

	got, err := c.DescribePhoto(testContext(t), "https://cdn/cake.jpg")
	require.NoError(t, err)
	assert.Equal(t, "Шоколадний торт з ягодами", got)

	assert.Equal(t, DefaultModel, body["model"])
	msgs := body["messages"].([]any)
	parts := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "https://cdn/cake.jpg", parts[1].(map[string]any)["image_url"].(map[string]any)["url"])
}

func TestWriteCaptionRejectsEmptyCompletion(t *testing.T) {
	c := completionServer(t, "   ", nil)
	_, err := c.WriteCaption(testContext(t), "торт")
	assert.ErrorIs(t, err, errEmptyCompletion)
}

func TestUpstreamErrorIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()
	c := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL})

	_, err := c.WriteCaption(testContext(t), "торт")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write caption")
}

// testContext stands in for testing.T.Context (Go 1.24+): the returned
// context is canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
