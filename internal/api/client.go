package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the LibRoom REST backend. Every response comes wrapped in
// the backend's `{statusCode, data, message, success}` envelope.
type Client struct {
	base  string
	token string
	http  *http.Client
}

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Success    bool            `json:"success"`
}

// APIError carries the HTTP status and the server's message for a failed
// request. Callers branch on Status; the message goes to the user verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
}

// UserMessage is what a transient notice should show for err. Mirrors the
// original client's fallback wording for errors without a server message.
func UserMessage(err error) string {
	if apiErr, ok := err.(*APIError); ok && apiErr.Message != "" {
		return apiErr.Message
	}
	return "Something went wrong"
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

// do issues one request and decodes the envelope's data into out (out may be
// nil). Returns the envelope status so callers can distinguish 200 from 201.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("api: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		if res.StatusCode >= 400 {
			return res.StatusCode, &APIError{Status: res.StatusCode}
		}
		return res.StatusCode, fmt.Errorf("api: decode response: %w", err)
	}

	if res.StatusCode >= 400 || !env.Success {
		status := env.StatusCode
		if status == 0 {
			status = res.StatusCode
		}
		return status, &APIError{Status: status, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return env.StatusCode, fmt.Errorf("api: decode data: %w", err)
		}
	}
	return env.StatusCode, nil
}
