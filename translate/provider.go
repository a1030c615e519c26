package translate

import (
	"net/http"
	"net/url"
	"time"
)

// ---------------------------------------------------------------------------
// Provider IDs
// ---------------------------------------------------------------------------

const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderOllama = "ollama"
	ProviderCustom = "custom"
)

// Provider describes an OpenAI-chat-compatible translation endpoint.
type Provider struct {
	// ID is the provider identifier (openai, groq, ollama, custom).
	ID string
	// Name is the display name.
	Name string
	// BaseURL is the API base URL.
	BaseURL string
	// APIKey is the authentication key (empty for local services).
	APIKey string
	// Model is the model identifier.
	Model string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string
	// Timeout is the per-request timeout.
	Timeout time.Duration
}

// DefaultProviders returns the pre-configured provider definitions.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		ProviderOpenAI: {
			ID:      ProviderOpenAI,
			Name:    "OpenAI",
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 120 * time.Second,
		},
		ProviderGroq: {
			ID:      ProviderGroq,
			Name:    "Groq",
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "llama-3.3-70b-versatile",
			Timeout: 60 * time.Second,
		},
		ProviderOllama: {
			ID:      ProviderOllama,
			Name:    "Ollama",
			BaseURL: "http://localhost:11434/v1",
			Model:   "llama3.2",
			Timeout: 120 * time.Second,
		},
		ProviderCustom: {
			ID:      ProviderCustom,
			Name:    "Custom OpenAI",
			Timeout: 60 * time.Second,
		},
	}
}

// makeHTTPClient builds an HTTP client honoring an explicit proxy URL or,
// failing that, the HTTP_PROXY/HTTPS_PROXY environment.
func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
