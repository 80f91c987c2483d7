// Package rerankclient is the external cross-encoder reranker
// collaborator: an HTTP client for a BGE-style reranker service,
// implementing search.Reranker.
package rerankclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ragindex/internal/apperr"
	"ragindex/internal/search"
)

// Client calls one reranker service's /rerank endpoint.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: timeout}}
}

type rerankRequestItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type rerankRequest struct {
	Query string              `json:"query"`
	Items []rerankRequestItem `json:"items"`
	TopK  int                 `json:"top_k"`
}

type rerankedItem struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
}

type rerankResponse struct {
	Items []rerankedItem `json:"items"`
}

// Rerank implements search.Reranker.
func (c *Client) Rerank(ctx context.Context, query string, items []search.RerankItem) ([]search.RerankedItem, error) {
	reqItems := make([]rerankRequestItem, len(items))
	for i, it := range items {
		reqItems[i] = rerankRequestItem{ID: it.ChunkID, Text: it.Text}
	}

	body, err := json.Marshal(rerankRequest{Query: query, Items: reqItems, TopK: len(items)})
	if err != nil {
		return nil, apperr.Validation("rerankclient.rerank", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Dependency("rerankclient.rerank", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, apperr.Transient("rerankclient.rerank", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		out, _ := io.ReadAll(resp.Body)
		return nil, apperr.Dependency("rerankclient.rerank", fmt.Errorf("status %d: %s", resp.StatusCode, string(out)))
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperr.Dependency("rerankclient.rerank", fmt.Errorf("decode response: %w", err))
	}

	out := make([]search.RerankedItem, len(decoded.Items))
	for i, it := range decoded.Items {
		out[i] = search.RerankedItem{ChunkID: it.ID, Score: it.Score}
	}
	return out, nil
}
