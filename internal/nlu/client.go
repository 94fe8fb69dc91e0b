// Package nlu resolves a natural-language utterance into a paper.Intent
// by calling an external NLU endpoint and decoding its LUIS-shaped JSON
// response. Grounded on the teacher's internal/proxy/forwarder.go for
// the outbound-request pattern (context-aware http.Client, explicit
// timeout) and on original_source's intents/resolvers package for the
// entity-parsing semantics.
package nlu

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/qpaper/qpe/internal/qpeerr"
)

// Client issues the outbound GET to the NLU endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client targeting baseURL (LU_API_URL), with the
// given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Resolve calls the NLU endpoint with the URL-encoded utterance and
// returns the raw JSON response body.
func (c *Client) Resolve(ctx context.Context, utterance string) ([]byte, error) {
	u := c.baseURL + url.QueryEscape(utterance)

	if _, err := url.ParseRequestURI(u); err != nil {
		return nil, qpeerr.InvalidInput(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, qpeerr.InvalidInput(err.Error())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, qpeerr.NetworkError(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, qpeerr.NetworkError(err.Error())
	}

	return body, nil
}
