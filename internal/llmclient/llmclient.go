// Package llmclient is the external LLM chat collaborator: one HTTP
// client hitting an Ollama-compatible /api/generate endpoint, used by
// both the Contextual Enricher (internal/enrich.Generator) and the
// Parallel Analyzer (internal/analyzer). Grounded on
// go-inference-service/main.go's OllamaGenerateRequest/Response and
// VerifyOllamaModel, generalized from one fixed endpoint to one client
// per device so callers can round-robin across device-pinned instances.
package llmclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quic-go/quic-go/http3"
	"go.uber.org/zap"

	"ragindex/internal/apperr"
	"ragindex/internal/enrich"
)

// Client calls one Ollama-compatible endpoint's /api/generate.
type Client struct {
	BaseURL string
	Model   string
	HTTP    *http.Client
	log     *zap.Logger
}

func New(baseURL, model string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{BaseURL: baseURL, Model: model, HTTP: &http.Client{Timeout: timeout}, log: log}
}

// NewQUIC builds a Client whose transport is QUIC/HTTP3 instead of
// HTTP/1.1, for the Parallel Analyzer's device-pinned batch calls (spec
// §4.12), grounded on legal-ai-quic-server.go's self-signed TLS
// configuration. The target Ollama instance must itself be reachable
// over HTTP/3 (e.g. fronted by an http3.Server on the same device).
func NewQUIC(baseURL, model string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	transport := &http3.RoundTripper{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{http3.NextProtoH3},
		},
	}
	return &Client{
		BaseURL: baseURL,
		Model:   model,
		HTTP:    &http.Client{Timeout: timeout, Transport: transport},
		log:     log,
	}
}

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float32 `json:"temperature,omitempty"`
	Stream      bool    `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate runs one prompt to completion (stream=false) and returns the
// full response text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.Model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", apperr.Validation("llmclient.generate", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", apperr.Dependency("llmclient.generate", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", apperr.Transient("llmclient.generate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		out, _ := io.ReadAll(resp.Body)
		return "", apperr.Dependency("llmclient.generate", fmt.Errorf("status %d: %s", resp.StatusCode, string(out)))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", apperr.Dependency("llmclient.generate", fmt.Errorf("decode response: %w", err))
	}
	return decoded.Response, nil
}

// GenerateContext implements enrich.Generator: a short one- or
// two-sentence description of how chunkText relates to the rest of the
// document.
func (c *Client) GenerateContext(ctx context.Context, chunkText string, meta enrich.DocMetadata, workerID int) (string, error) {
	var b strings.Builder
	b.WriteString("In one short sentence, describe what this passage is about")
	if meta.Filename != "" {
		fmt.Fprintf(&b, " from the document %q", meta.Filename)
	}
	b.WriteString(":\n\n")
	b.WriteString(truncateRunes(chunkText, 2000))

	out, err := c.Generate(ctx, b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Rewrite implements search.QueryRewriter with a HyDE-style expansion:
// ask the model for a hypothetical passage that would answer the query,
// and embed that instead of the literal query.
func (c *Client) Rewrite(ctx context.Context, query string) (string, error) {
	prompt := "Write one short hypothetical passage that would directly answer this question:\n\n" + query
	out, err := c.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
