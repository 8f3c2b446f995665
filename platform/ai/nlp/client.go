// Package nlp provides an HTTP client for the external conversation
// capability: qualification-field extraction, reply generation and text
// embedding. The service is treated as a black box with bounded latency.
package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"leadgate_backend/platform/apperr"
)

// Client is an HTTP client for the NLP capability service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config configures the NLP client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewClient creates a new NLP client. Requests are bounded by the configured
// timeout (default 30s); a timed-out call fails, it never hangs.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ExtractedFields is the partial qualification record returned by extraction.
// Nil fields were not mentioned in the message.
type ExtractedFields struct {
	Name       *string  `json:"name,omitempty"`
	BudgetMin  *int64   `json:"budgetMin,omitempty"`
	BudgetMax  *int64   `json:"budgetMax,omitempty"`
	Zones      []string `json:"zones,omitempty"`
	Timing     *string  `json:"timing,omitempty"`
	Bedrooms   *int     `json:"bedrooms,omitempty"`
	IsInvestor *bool    `json:"isInvestor,omitempty"`
	Financing  *string  `json:"financing,omitempty"`
}

type extractRequest struct {
	Message     string          `json:"message"`
	PriorFields json.RawMessage `json:"priorFields,omitempty"`
}

// Extract parses qualification fields out of an inbound message, given the
// fields already known for the conversation.
func (c *Client) Extract(ctx context.Context, message string, priorFields any) (ExtractedFields, error) {
	var prior json.RawMessage
	if priorFields != nil {
		data, err := json.Marshal(priorFields)
		if err != nil {
			return ExtractedFields{}, fmt.Errorf("marshal prior fields: %w", err)
		}
		prior = data
	}

	var out ExtractedFields
	if err := c.post(ctx, "/v1/extract", extractRequest{Message: message, PriorFields: prior}, &out); err != nil {
		return ExtractedFields{}, err
	}
	return out, nil
}

type generateRequest struct {
	Message string          `json:"message"`
	Fields  json.RawMessage `json:"fields,omitempty"`
	History []HistoryEntry  `json:"history,omitempty"`
	Offer   json.RawMessage `json:"offer,omitempty"`
}

// HistoryEntry is one prior turn of the conversation.
type HistoryEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type generateResponse struct {
	Reply string `json:"reply"`
}

// Generate produces the next conversational reply for the lead.
func (c *Client) Generate(ctx context.Context, message string, fields, offer any, history []HistoryEntry) (string, error) {
	req := generateRequest{Message: message, History: history}

	if fields != nil {
		data, err := json.Marshal(fields)
		if err != nil {
			return "", fmt.Errorf("marshal fields: %w", err)
		}
		req.Fields = data
	}
	if offer != nil {
		data, err := json.Marshal(offer)
		if err != nil {
			return "", fmt.Errorf("marshal offer: %w", err)
		}
		req.Offer = data
	}

	var out generateResponse
	if err := c.post(ctx, "/v1/generate", req, &out); err != nil {
		return "", err
	}
	return out.Reply, nil
}

type embedRequest struct {
	Text string `json:"text"`
}

// Embed generates an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	req, err := c.newRequest(ctx, "/v1/embed", embedRequest{Text: text})
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.External("embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apperr.External(fmt.Sprintf("embedding API returned %d", resp.StatusCode), fmt.Errorf("%s", body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}

	// Accept both {"vector": [...]} and raw array responses for compatibility.
	var wrapped struct {
		Vector []float32 `json:"vector"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Vector) > 0 {
		return wrapped.Vector, nil
	}

	var vector []float32
	if err := json.Unmarshal(body, &vector); err == nil {
		return vector, nil
	}

	return nil, fmt.Errorf("failed to decode embedding response")
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	req, err := c.newRequest(ctx, path, payload)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.External("nlp request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return apperr.External(fmt.Sprintf("nlp API returned %d", resp.StatusCode), fmt.Errorf("%s", body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode nlp response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, path string, payload any) (*http.Request, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal nlp request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create nlp request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}
