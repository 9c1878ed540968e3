package client

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/corralproject/corral/pkg/types"
)

// Client wraps the Corral HTTP API for CLI usage.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client against the given base URL, e.g.
// "http://localhost:5000".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	OK     bool            `json:"ok"`
	Data   json.RawMessage `json:"data"`
	Reason string          `json:"reason"`
}

// Quota fetches all balances, or a single user's balance when username is
// non-empty.
func (c *Client) Quota(username string) (map[string]float64, error) {
	u := c.baseURL + "/quota"
	if username != "" {
		u += "?username=" + url.QueryEscape(username)
	}

	var balances map[string]float64
	if err := c.do(http.MethodGet, u, nil, &balances); err != nil {
		return nil, err
	}
	return balances, nil
}

// Runtime fetches the current cluster occupancy snapshot.
func (c *Client) Runtime() (types.Runtime, error) {
	var rt types.Runtime
	if err := c.do(http.MethodGet, c.baseURL+"/runtime", nil, &rt); err != nil {
		return nil, err
	}
	return rt, nil
}

// Sync triggers a manual cluster resync.
func (c *Client) Sync() error {
	return c.do(http.MethodPut, c.baseURL+"/sync", nil, nil)
}

// Alloc requests count devices. Credentials are base64-encoded on the wire
// and decoded at the server edge.
func (c *Client) Alloc(username, password string, count int) (*types.Allocation, error) {
	body := map[string]interface{}{
		"username":  base64.StdEncoding.EncodeToString([]byte(username)),
		"password":  base64.StdEncoding.EncodeToString([]byte(password)),
		"gpu_count": count,
	}

	var result types.Allocation
	if err := c.do(http.MethodPost, c.baseURL+"/realloc", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do issues one request and unwraps the response envelope into out.
func (c *Client) do(method, u string, body interface{}, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, u, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !env.OK {
		return fmt.Errorf("%s", env.Reason)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}
