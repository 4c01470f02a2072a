// Package crm is the client for the agency's voice-lead CRM endpoints.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const DefaultBaseURL = "https://workspace.amatoshitube.repl.co/api/voice"

const maxResponseBytes = 1 << 20

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// StartSession opens a CRM lead session. The response carries session_id.
func (c *Client) StartSession(ctx context.Context, args map[string]any) (any, error) {
	return c.post(ctx, "/start", args)
}

// SaveLead stores the collected lead record.
func (c *Client) SaveLead(ctx context.Context, args map[string]any) (any, error) {
	return c.post(ctx, "/save", args)
}

// ContactRefusal records that the caller declined to leave contact details.
func (c *Client) ContactRefusal(ctx context.Context, args map[string]any) (any, error) {
	return c.post(ctx, "/refusal", args)
}

// PropertyInfo looks up a listing by its code.
func (c *Client) PropertyInfo(ctx context.Context, code string) (any, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("property code is required")
	}
	return c.do(ctx, http.MethodGet, "/property/"+url.PathEscape(code), nil)
}

func (c *Client) post(ctx context.Context, path string, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body)
}

// do sends the request and decodes the JSON body. A non-2xx status with a
// JSON body is returned as a result, the same as a success; a body that is
// not JSON is an error.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (any, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(b) > maxResponseBytes {
		return nil, fmt.Errorf("response exceeds maximum size %d bytes", maxResponseBytes)
	}

	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet := string(b)
			if len(snippet) > 8192 {
				snippet = snippet[:8192]
			}
			return nil, fmt.Errorf("crm error (status %d): %s", resp.StatusCode, strings.TrimSpace(snippet))
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return decoded, nil
}
