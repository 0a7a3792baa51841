package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"smartlead/internal/models"
)

// AIAdapter calls an OpenAI-compatible chat completions endpoint.
type AIAdapter struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewAIAdapter creates an AI adapter against the given base URL.
func NewAIAdapter(baseURL, model string, timeout time.Duration) *AIAdapter {
	return &AIAdapter{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
	}
}

func (a *AIAdapter) Name() string              { return "ai" }
func (a *AIAdapter) Provider() models.Provider { return models.ProviderAI }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Invoke runs one completion. Params: "prompt" (required), "system"
// (optional), "history" (optional []models.Turn as prior context).
func (a *AIAdapter) Invoke(ctx context.Context, req Request, cred *models.Credential) models.CallResult {
	start := time.Now()

	prompt := req.String("prompt")
	if prompt == "" {
		return invalid(a.Name(), "'prompt' is required")
	}

	var messages []chatMessage
	if system := req.String("system"); system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	if history, ok := req.Params["history"].([]models.Turn); ok {
		for _, turn := range history {
			role := "user"
			if turn.Role == models.RoleAssistant {
				role = "assistant"
			}
			messages = append(messages, chatMessage{Role: role, Content: turn.Content})
		}
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	bodyBytes, err := json.Marshal(chatRequest{
		Model:       a.model,
		Messages:    messages,
		Temperature: 0.3,
	})
	if err != nil {
		return invalid(a.Name(), fmt.Sprintf("marshal request: %v", err))
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return transportFailure(a.Name(), start, err)
	}

	endpoint := a.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return invalid(a.Name(), fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return transportFailure(a.Name(), start, err)
	}
	defer resp.Body.Close()

	body := readBody(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpFailure(a.Name(), start, resp.StatusCode, body)
	}

	var parsed chatResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil || len(parsed.Choices) == 0 {
		return models.CallResult{
			Adapter:   a.Name(),
			Status:    models.CallRetryableFailure,
			ErrorKind: models.ErrKindProvider,
			Detail:    "malformed completion response",
			Attempts:  1,
			Elapsed:   time.Since(start),
		}
	}

	return success(a.Name(), start, map[string]any{
		"content": parsed.Choices[0].Message.Content,
	})
}
