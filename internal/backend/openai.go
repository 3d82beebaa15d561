package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var errUnknownProvider = errors.New("no driver registered for provider")

// chatMessage is the OpenAI-style message shape shared by several drivers.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ── OpenAI-compatible Driver ────────────────────────────────

type openAIDriver struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func newOpenAIDriver(endpoint, apiKey string, timeout time.Duration) *openAIDriver {
	return &openAIDriver{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (d *openAIDriver) Kind() string { return "openai" }

type openAIRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (d *openAIDriver) Generate(ctx context.Context, model, prompt string) (*contractsResult, error) {
	if d.apiKey == "" {
		return nil, wrapBackendErr(model, "generate", fmt.Errorf("openai: api key not configured"))
	}

	body, _ := json.Marshal(openAIRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})

	start := time.Now()
	url := d.endpoint + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, wrapBackendErr(model, "generate", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(ctx, model, "generate", err, d.client.Timeout)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, wrapBackendErr(model, "generate",
			fmt.Errorf("openai: status %d: %s", httpResp.StatusCode, string(respBody)))
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return nil, wrapBackendErr(model, "generate", fmt.Errorf("openai: decode response: %w", err))
	}

	content := ""
	if len(oaiResp.Choices) > 0 {
		content = oaiResp.Choices[0].Message.Content
	}

	return &contractsResult{
		Text:         content,
		InputTokens:  oaiResp.Usage.PromptTokens,
		OutputTokens: oaiResp.Usage.CompletionTokens,
		TokensUsed:   oaiResp.Usage.TotalTokens,
		CostUSD:      modelCost(model, oaiResp.Usage.PromptTokens, oaiResp.Usage.CompletionTokens),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}
