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

// ── Ollama Driver ───────────────────────────────────────────
//
// Ollama exposes an OpenAI-compatible chat endpoint, so the request and
// response shapes are reused; no API key is required.

type ollamaDriver struct {
	endpoint string
	client   *http.Client
}

func newOllamaDriver(endpoint string, timeout time.Duration) *ollamaDriver {
	return &ollamaDriver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (d *ollamaDriver) Kind() string { return "ollama" }

func (d *ollamaDriver) Generate(ctx context.Context, model, prompt string) (*contractsResult, error) {
	body, _ := json.Marshal(openAIRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})

	start := time.Now()
	url := d.endpoint + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, wrapBackendErr(model, "generate", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(ctx, model, "generate", err, d.client.Timeout)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, wrapBackendErr(model, "generate",
			fmt.Errorf("ollama: status %d: %s", httpResp.StatusCode, string(respBody)))
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return nil, wrapBackendErr(model, "generate", fmt.Errorf("ollama: decode response: %w", err))
	}

	content := ""
	if len(oaiResp.Choices) > 0 {
		content = oaiResp.Choices[0].Message.Content
	}

	// Local models are free; only token counts are reported.
	return &contractsResult{
		Text:         content,
		InputTokens:  oaiResp.Usage.PromptTokens,
		OutputTokens: oaiResp.Usage.CompletionTokens,
		TokensUsed:   oaiResp.Usage.TotalTokens,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}
