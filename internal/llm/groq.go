package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ai-meal-calendar/internal/config"
	"ai-meal-calendar/internal/shared"
)

const (
	groqAPIURL       = "https://api.groq.com/openai/v1/chat/completions"
	defaultGroqModel = "llama-3.3-70b-versatile"
)

// GroqGenerator is a Generator for the Groq chat completions API.
type GroqGenerator struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
}

// NewGroqGenerator creates a new Groq API client.
func NewGroqGenerator(cfg *config.Config) *GroqGenerator {
	model := cfg.GroqModel
	if model == "" {
		model = defaultGroqModel
	}
	return &GroqGenerator{
		apiKey: cfg.GroqAPIKey,
		model:  model,
		url:    groqAPIURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generate sends the prompts to Groq in JSON mode. Groq's JSON mode does not
// take a schema, so the schema is appended to the system prompt instead.
func (c *GroqGenerator) Generate(ctx context.Context, system, user string, schema *Schema) (ContentResponse, error) {
	if schema != nil {
		raw, err := json.Marshal(schema.JSONSchema())
		if err != nil {
			return ContentResponse{}, fmt.Errorf("failed to marshal schema: %w", err)
		}
		system += "\n\nRespond with a single JSON object matching this JSON schema:\n" + string(raw)
	}

	reqBody := map[string]interface{}{
		"model": c.model,
		"messages": []groqMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		"temperature":     0.7,
		"response_format": map[string]string{"type": "json_object"},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return ContentResponse{}, fmt.Errorf("groq api error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var groqResp struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&groqResp); err != nil {
		return ContentResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(groqResp.Choices) == 0 {
		return ContentResponse{}, fmt.Errorf("no content generated")
	}

	model := groqResp.Model
	if model == "" {
		model = c.model
	}

	return ContentResponse{
		Content: groqResp.Choices[0].Message.Content,
		Usage: shared.TokenUsage{
			PromptTokens:     groqResp.Usage.PromptTokens,
			CompletionTokens: groqResp.Usage.CompletionTokens,
			TotalTokens:      groqResp.Usage.TotalTokens,
			Model:            model,
		},
	}, nil
}
