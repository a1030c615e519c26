package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Backend is the translation collaborator: given an ordered list of
// (already shielded) texts and a target language, it returns an ordered
// list of the same length, or an error. The dispatcher owns retries;
// a Backend call is one attempt.
type Backend interface {
	Translate(ctx context.Context, texts []string, language string) ([]string, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, texts []string, language string) ([]string, error)

func (f BackendFunc) Translate(ctx context.Context, texts []string, language string) ([]string, error) {
	return f(ctx, texts, language)
}

// RateLimitError is returned for HTTP 429 responses so the dispatcher can
// honor the server's requested delay instead of its own schedule.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
}

// systemPrompt is the fixed instruction sent with every batch. It names
// every protected-content family so the model leaves them alone even if a
// shield token leaks context, and pins the response shape.
const systemPrompt = `You are a professional translator for software configuration files. Translate each given text to {{targetLang}}.

STRICT RULES:
- Tokens of the form __PH0__, __PH1__, ... are protected content. Copy every one of them EXACTLY as written, in its position. Never translate, drop, merge, renumber or add such tokens.
- Preserve exactly, should any appear: brace variables like {player}, percent variables like %amount%, color codes like &a or &7, hex colors like <#FF00AA>, any <tag>, and the literal two characters \n. Do not turn \n into a real line break.
- Keep leading and trailing whitespace and all punctuation.
- Return ONLY a JSON array of translated strings, one per input text, in the same order.`

// Client calls an OpenAI-chat-compatible endpoint. It implements Backend.
type Client struct {
	prov Provider
	http *http.Client
}

// NewClient builds a backend client for the given provider.
func NewClient(prov Provider) *Client {
	timeout := prov.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		prov: prov,
		http: makeHTTPClient(prov.Proxy, timeout),
	}
}

// chat/completions request and response shapes (the subset we use).

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Translate sends one batch and parses the model's reply into a list of
// strings. It does not verify the list length — the dispatcher decides
// what a shape mismatch means.
func (c *Client) Translate(ctx context.Context, texts []string, language string) ([]string, error) {
	var userMsg strings.Builder
	userMsg.WriteString("Translate these texts:\n\n")
	for i, text := range texts {
		fmt.Fprintf(&userMsg, "%d. %s\n", i+1, escapeForPrompt(text))
	}
	fmt.Fprintf(&userMsg, "\nReturn a JSON array with exactly %d translated strings.", len(texts))

	body, err := json.Marshal(chatRequest{
		Model: c.prov.Model,
		Messages: []chatMessage{
			{Role: "system", Content: strings.ReplaceAll(systemPrompt, "{{targetLang}}", language)},
			{Role: "user", Content: userMsg.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	endpoint := strings.TrimRight(c.prov.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.prov.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.prov.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{RetryAfter: parseRetryDelay(resp, respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing API response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("API response has no choices")
	}

	out, err := parseTranslations(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i] = unescapeFromPrompt(out[i])
	}
	return out, nil
}

// parseRetryDelay extracts the server-requested retry delay from a 429
// response, falling back to 30 seconds.
func parseRetryDelay(resp *http.Response, body []byte) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	// Some providers embed "retry after Ns" in the error message.
	if m := retryDelayPattern.FindSubmatch(body); len(m) > 1 {
		if secs, err := strconv.ParseFloat(string(m[1]), 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 30 * time.Second
}

var retryDelayPattern = regexp.MustCompile(`(?i)try again in ([0-9.]+)s`)

var markdownCodeBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// parseTranslations extracts the list of translated strings from a model
// reply. The asked-for format is a JSON array, but models drift: fenced
// code blocks are stripped, and a numbered-line reply is accepted as a
// fallback.
func parseTranslations(content string) ([]string, error) {
	content = strings.TrimSpace(content)

	if m := markdownCodeBlock.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}

	if start, end := strings.Index(content, "["), strings.LastIndex(content, "]"); start >= 0 && end > start {
		var translations []string
		if err := json.Unmarshal([]byte(content[start:end+1]), &translations); err == nil {
			return translations, nil
		}
	}

	translations := parseNumberedLines(content)
	if len(translations) == 0 {
		return nil, fmt.Errorf("failed to parse translation response: %s", truncate(content, 300))
	}
	return translations, nil
}

// parseNumberedLines parses "1. text" style replies.
func parseNumberedLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		dot := strings.Index(trimmed, ". ")
		if dot <= 0 {
			continue
		}
		if _, err := strconv.Atoi(trimmed[:dot]); err != nil {
			continue
		}
		out = append(out, trimmed[dot+2:])
	}
	return out
}

// escapeForPrompt keeps multi-line values on one prompt line.
func escapeForPrompt(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "\\n")
}

// unescapeFromPrompt reverses escapeForPrompt on a translated reply. Texts
// reach the client already shielded, so a source-literal backslash-n is a
// __PH token by now: any \n left in the reply came from escaping a real
// newline.
func unescapeFromPrompt(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
