package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// classifySystemPrompt is the fixed instruction for the per-message pass.
const classifySystemPrompt = `You are a financial transaction classifier for M-PESA-style mobile money SMS notifications. You MUST respond with ONLY a valid JSON object, no markdown or commentary, of the shape:
{"transaction_type": "Paybill|Till|SendMoney|Withdrawal|Deposit|Airtime|BankToMpesa|MpesaToBank|Reversal|Unknown", "confidence": 0.0-1.0, "tags": ["..."], "flags": ["..."], "explanation": "..."}
Use the flag "high_amount" for unusually large amounts and "fraud_suspected" for messages that look forged or inconsistent.`

// anomalySystemPrompt is the fixed instruction for the fraud-scan batch pass.
const anomalySystemPrompt = `You are a fraud analyst reviewing mobile money transactions. Given a JSON array of transactions, respond with ONLY a valid JSON array of anomalies, each of the shape:
{"transaction_id": "...", "severity": "low|normal|high|critical", "explanation": "..."}
Return [] when nothing looks suspicious.`

// OpenAIClient implements Classifier against an OpenAI-compatible
// chat-completions endpoint.
type OpenAIClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

// OpenAIConfig configures the provider-backed classifier.
type OpenAIConfig struct {
	BaseURL     string // defaults to the public OpenAI endpoint
	APIKey      string
	Model       string // defaults to gpt-4o-mini
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration // transport-level cap, defaults to 30s
}

// NewOpenAIClient builds a provider-backed classifier.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.2
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 300
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Model returns the configured model identifier.
func (c *OpenAIClient) Model() string { return c.model }

// Classify sends one raw message to the provider and parses the verdict.
func (c *OpenAIClient) Classify(ctx context.Context, rawMessage string) (Result, error) {
	content, err := c.complete(ctx, classifySystemPrompt, rawMessage)
	if err != nil {
		return Result{}, err
	}
	return c.parseClassification(content)
}

// DetectAnomalies sends a batch digest to the provider and parses the
// reported anomalies.
func (c *OpenAIClient) DetectAnomalies(ctx context.Context, batch []TransactionDigest) ([]Anomaly, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	content, err := c.complete(ctx, anomalySystemPrompt, string(payload))
	if err != nil {
		return nil, err
	}
	var anomalies []Anomaly
	if err := json.Unmarshal([]byte(cleanMarkdownWrapper(content)), &anomalies); err != nil {
		return nil, fmt.Errorf("parse anomaly response: %w", err)
	}
	return anomalies, nil
}

// complete performs one chat-completions round trip and returns the first
// choice's content.
func (c *OpenAIClient) complete(ctx context.Context, system, user string) (string, error) {
	requestBody := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": c.temperature,
		"max_tokens":  c.maxTokens,
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", strings.NewReader(string(jsonBody)))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider error (status %d): %s", resp.StatusCode, string(body))
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return response.Choices[0].Message.Content, nil
}

// parseClassification extracts the structured verdict from the model output.
func (c *OpenAIClient) parseClassification(content string) (Result, error) {
	var jsonResp struct {
		TransactionType string   `json:"transaction_type"`
		Confidence      float64  `json:"confidence"`
		Tags            []string `json:"tags"`
		Flags           []string `json:"flags"`
		Explanation     string   `json:"explanation"`
	}

	content = cleanMarkdownWrapper(content)
	if err := json.Unmarshal([]byte(content), &jsonResp); err != nil {
		return Result{}, fmt.Errorf("parse classification response: %w", err)
	}
	if jsonResp.Confidence < 0 || jsonResp.Confidence > 1 {
		return Result{}, fmt.Errorf("confidence %v out of range", jsonResp.Confidence)
	}

	return Result{
		Model:           c.model,
		PromptID:        PromptID,
		TransactionType: jsonResp.TransactionType,
		Confidence:      jsonResp.Confidence,
		Tags:            jsonResp.Tags,
		Flags:           jsonResp.Flags,
		Explanation:     jsonResp.Explanation,
	}, nil
}

// chatResponse is the subset of the chat-completions response we consume.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// cleanMarkdownWrapper strips ```json fences that some models insist on
// wrapping around their output.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if idx := strings.Index(content, "\n"); idx >= 0 {
			content = content[idx+1:]
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	return strings.TrimSpace(content)
}
