package llm

import (
	"context"
	"fmt"
	"time"
)

// VisionProvider sends chat requests that carry images.
type VisionProvider interface {
	// ChatWithImages sends a chat request that includes images.
	ChatWithImages(ctx context.Context, req VisionChatRequest) (*ChatResponse, error)
}

// VisionChatRequest is a chat request with image content.
type VisionChatRequest struct {
	Model       string          `json:"model"`
	Messages    []VisionMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

// VisionMessage represents a chat message that may contain images.
type VisionMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is either text or an image in a vision message.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL contains a base64 data URL or a plain URL reference to an image.
type ImageURL struct {
	URL string `json:"url"`
}

// TextPart returns a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart returns an image content part for a URL or data URL.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures a vision LLM provider.
type Config struct {
	Provider   string        `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model      string        `json:"model" yaml:"model"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	APIKey     string        `json:"api_key" yaml:"api_key"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

type providerDefaults struct {
	baseURL    string
	model      string
	pathPrefix string
}

// Gemini serves its OpenAI-compatible API without the /v1 prefix.
var providers = map[string]providerDefaults{
	"ollama":     {baseURL: "http://localhost:11434", model: "llava", pathPrefix: "/v1"},
	"lmstudio":   {baseURL: "http://localhost:1234", pathPrefix: "/v1"},
	"openrouter": {baseURL: "https://openrouter.ai/api", pathPrefix: "/v1"},
	"openai":     {baseURL: "https://api.openai.com", model: "gpt-4o-mini", pathPrefix: "/v1"},
	"groq":       {baseURL: "https://api.groq.com/openai", model: "meta-llama/llama-4-scout-17b-16e-instruct", pathPrefix: "/v1"},
	"xai":        {baseURL: "https://api.x.ai", pathPrefix: "/v1"},
	"gemini":     {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", model: "gemini-2.5-flash", pathPrefix: ""},
	"custom":     {pathPrefix: "/v1"},
}

// NewProvider creates a vision provider from configuration. Empty BaseURL
// and Model fields are filled with the provider's defaults.
func NewProvider(cfg Config) (*Client, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("llm provider not specified")
	}
	d, ok := providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = d.model
	}
	return newClient(cfg, d.pathPrefix), nil
}
