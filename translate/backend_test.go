package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// chatStub serves one canned chat/completions reply and captures the user
// message it was asked with.
func chatStub(t *testing.T, reply string) (*httptest.Server, *string) {
	t.Helper()
	var userMsg string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		userMsg = req.Messages[1].Content

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv, &userMsg
}

func TestClientTranslate_MultilineRoundTrip(t *testing.T) {
	// The reply echoes the escaped one-line form a well-behaved model
	// returns for a multi-line input.
	reply, err := json.Marshal([]string{`LIGNE UNE\nLIGNE DEUX`})
	require.NoError(t, err)
	srv, userMsg := chatStub(t, string(reply))

	c := NewClient(Provider{ID: ProviderCustom, BaseURL: srv.URL, Model: "test-model"})
	got, err := c.Translate(context.Background(), []string{"line one\nline two"}, "French")
	require.NoError(t, err)

	// The prompt carries the value on one line, escaped.
	require.Contains(t, *userMsg, `line one\nline two`)
	require.NotContains(t, *userMsg, "line one\nline two")

	// The real newline is restored in the result.
	require.Equal(t, []string{"LIGNE UNE\nLIGNE DEUX"}, got)
}

func TestClientTranslate_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Provider{ID: ProviderCustom, BaseURL: srv.URL, Model: "test-model"})
	_, err := c.Translate(context.Background(), []string{"hi"}, "French")
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	require.Equal(t, "7s", rle.RetryAfter.String())
}

func TestClientTranslate_SendsNumberedPrompt(t *testing.T) {
	reply, err := json.Marshal([]string{"UN", "DEUX"})
	require.NoError(t, err)
	srv, userMsg := chatStub(t, string(reply))

	c := NewClient(Provider{ID: ProviderCustom, BaseURL: srv.URL, Model: "test-model"})
	got, err := c.Translate(context.Background(), []string{"one", "two"}, "French")
	require.NoError(t, err)
	require.Equal(t, []string{"UN", "DEUX"}, got)
	require.Contains(t, *userMsg, "1. one")
	require.Contains(t, *userMsg, "2. two")
	require.True(t, strings.Contains(*userMsg, "exactly 2 translated strings"))
}
