// Package openrouter is a thin client for the OpenRouter chat
// completions API, used for both vision extraction and field
// enhancement.
//
// OpenRouter provides a unified API for multiple LLM providers using a
// single API key. The request format follows the OpenAI chat
// completions standard, including multimodal image content parts.
package openrouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const endpoint = "https://openrouter.ai/api/v1/chat/completions"

// Client calls the OpenRouter API.
type Client struct {
	apiKey     string
	httpClient *http.Client
}

// New creates a new OpenRouter client.
func New(apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		// Go Pattern: Always configure timeouts on HTTP clients.
		// The default http.Client has NO timeout — requests can hang forever.
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // vision calls on multi-page documents are slow
		},
	}
}

// IsConfigured reports whether an API key is present.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// --- OpenRouter API types ---
// These match the OpenAI chat completions format used by OpenRouter.
// Message content is either a plain string or a list of typed parts
// (text + image_url) for multimodal requests.

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Complete sends a plain text prompt and returns the raw model output.
func (c *Client) Complete(ctx context.Context, model, system, prompt string) (string, error) {
	messages := []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}
	return c.send(ctx, model, messages)
}

// CompleteWithImage sends a text instruction plus one image, encoded as
// a base64 data URL per the OpenAI multimodal content format.
func (c *Client) CompleteWithImage(ctx context.Context, model, prompt string, image []byte, mimeType string) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))
	messages := []chatMessage{
		{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		},
	}
	return c.send(ctx, model, messages)
}

// send performs the HTTP round trip shared by both call shapes.
func (c *Client) send(ctx context.Context, model string, messages []chatMessage) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("OpenRouter API key not configured; set OPENROUTER_API_KEY")
	}

	jsonBody, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", "https://github.com/scrybe-hq/form-intake-api")
	req.Header.Set("X-Title", "Form Intake API")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("OpenRouter request failed: %w", err)
	}
	defer resp.Body.Close() // Go Pattern: ALWAYS close response bodies!

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OpenRouter returned %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("OpenRouter error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}

	return chatResp.Choices[0].Message.Content, nil
}
