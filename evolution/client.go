package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Client speaks the Ollama chat protocol directly over net/http: no
// generated SDK, just POST /api/chat and GET /api/tags with
// encoding/json on both sides.
type Client struct {
	host       string
	httpClient *http.Client
	maxRetries uint
}

// NewClient builds a Client against host (e.g. "http://localhost:11434").
func NewClient(host string, timeout time.Duration) *Client {
	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxRetries: 3,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

// ChatOption adjusts the request options sent with a Chat call.
type ChatOption func(*chatOptions)

// WithTemperature overrides the default 0.7 sampling temperature.
func WithTemperature(t float64) ChatOption {
	return func(o *chatOptions) { o.Temperature = t }
}

const defaultTemperature = 0.7

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Chat sends a single-turn prompt to model and returns the assistant's
// reply. Transient failures (connection refused, 5xx, timeout) are retried
// with exponential backoff; a malformed body or 4xx is not.
func (c *Client) Chat(ctx context.Context, model, prompt string, opts ...ChatOption) (string, error) {
	options := chatOptions{Temperature: defaultTemperature}
	for _, opt := range opts {
		opt(&options)
	}
	reqBody := chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   false,
		Options:  &options,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", newEvoError(ErrLLMMalformed, err, "encoding chat request")
	}

	op := func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(payload))
		if err != nil {
			return "", backoff.Permanent(newEvoError(ErrLLMUnavailable, err, "building request"))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", backoff.Permanent(newEvoError(ErrLLMTimeout, err, "chat request cancelled or timed out"))
			}
			return "", newEvoError(ErrLLMUnavailable, err, "chat request failed")
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", newEvoError(ErrLLMMalformed, err, "reading chat response body")
		}

		if resp.StatusCode >= 500 {
			return "", newEvoError(ErrLLMUnavailable, nil, "ollama returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return "", backoff.Permanent(newEvoError(ErrLLMMalformed, nil, "ollama returned %d: %s", resp.StatusCode, body))
		}

		var parsed chatResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", backoff.Permanent(newEvoError(ErrLLMMalformed, err, "decoding chat response"))
		}
		return parsed.Message.Content, nil
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxRetries))
	if err != nil {
		var evoErr *EvoError
		if errors.As(err, &evoErr) {
			return "", evoErr
		}
		return "", newEvoError(ErrLLMUnavailable, err, "chat request exhausted retries")
	}
	return result, nil
}

// Tags lists the models currently available to the Ollama daemon.
func (c *Client) Tags(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return nil, newEvoError(ErrLLMUnavailable, err, "building tags request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newEvoError(ErrLLMUnavailable, err, "tags request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newEvoError(ErrLLMUnavailable, nil, "ollama returned %d", resp.StatusCode)
	}

	var parsed tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, newEvoError(ErrLLMMalformed, err, "decoding tags response")
	}

	names := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
