package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ── Anthropic Driver ────────────────────────────────────────

type anthropicDriver struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func newAnthropicDriver(endpoint, apiKey string, timeout time.Duration) *anthropicDriver {
	return &anthropicDriver{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (d *anthropicDriver) Kind() string { return "anthropic" }

type anthropicRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (d *anthropicDriver) Generate(ctx context.Context, model, prompt string) (*contractsResult, error) {
	if d.apiKey == "" {
		return nil, wrapBackendErr(model, "generate", fmt.Errorf("anthropic: api key not configured"))
	}

	body, _ := json.Marshal(anthropicRequest{
		Model:     model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: 4096,
	})

	start := time.Now()
	url := d.endpoint + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, wrapBackendErr(model, "generate", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", d.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(ctx, model, "generate", err, d.client.Timeout)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, wrapBackendErr(model, "generate",
			fmt.Errorf("anthropic: status %d: %s", httpResp.StatusCode, string(respBody)))
	}

	var anthResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&anthResp); err != nil {
		return nil, wrapBackendErr(model, "generate", fmt.Errorf("anthropic: decode response: %w", err))
	}

	content := ""
	for _, c := range anthResp.Content {
		if c.Type == "text" {
			content += c.Text
		}
	}

	return &contractsResult{
		Text:         content,
		InputTokens:  anthResp.Usage.InputTokens,
		OutputTokens: anthResp.Usage.OutputTokens,
		TokensUsed:   anthResp.Usage.InputTokens + anthResp.Usage.OutputTokens,
		CostUSD:      modelCost(model, anthResp.Usage.InputTokens, anthResp.Usage.OutputTokens),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}
