package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// HTTPExtractor calls an extraction service over HTTP:
//
//	POST <URL>  {"course": ..., "posted_at": ..., "sentences": [...]}
//	200         {"dates": ["2025-10-15", "2025-10-22T18:00"]}
type HTTPExtractor struct {
	url    string
	client *http.Client
}

// NewHTTPExtractor builds a client. A non-empty token is sent as a bearer
// token.
func NewHTTPExtractor(url, token string, timeout time.Duration) *HTTPExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	if token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
		client.Timeout = timeout
	}
	return &HTTPExtractor{url: url, client: client}
}

type extractResponse struct {
	Dates []string `json:"dates"`
}

func (h *HTTPExtractor) Extract(ctx context.Context, req Request) ([]string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("extractor: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("extractor: decode response: %w", err)
	}
	return out.Dates, nil
}
