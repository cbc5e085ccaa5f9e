package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fdg312/metabolic-hub/internal/config"
)

const openAIChatURL = "https://api.openai.com/v1/chat/completions"

type OpenAIProvider struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	endpoint    string
	httpClient  *http.Client
}

func NewOpenAIProvider(cfg *config.Config) *OpenAIProvider {
	timeoutSeconds := cfg.AITimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 20
	}

	return &OpenAIProvider{
		apiKey:      cfg.OpenAIAPIKey,
		model:       cfg.OpenAIModel,
		maxTokens:   cfg.AIMaxOutputTokens,
		temperature: cfg.AITemperature,
		endpoint:    openAIChatURL,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
	}
}

func (p *OpenAIProvider) EstimateMacros(ctx context.Context, req EstimateRequest) (Estimate, error) {
	if req.isEmpty() {
		return Estimate{}, ErrEmptyRequest
	}

	user := chatMessageRequest{Role: "user", Content: strings.TrimSpace(req.Text)}
	source := SourceEstimator
	if len(req.Image) > 0 {
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		parts := []contentPart{{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image)},
		}}
		if t := strings.TrimSpace(req.Text); t != "" {
			parts = append(parts, contentPart{Type: "text", Text: t})
		}
		user.Content = parts
		source = SourcePhoto
	}

	content, err := p.complete(ctx, []chatMessageRequest{
		{Role: "system", Content: estimatePrompt},
		user,
	})
	if err != nil {
		return Estimate{}, err
	}

	var parsed struct {
		Items      []EstimateItem `json:"items"`
		Confidence float64        `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
		return Estimate{}, fmt.Errorf("decode estimate: %w", err)
	}

	est := summarize(parsed.Items)
	est.Confidence = clamp01(parsed.Confidence)
	est.Source = source
	return est, nil
}

func (p *OpenAIProvider) Narrate(ctx context.Context, req NarrateRequest) (string, error) {
	prompt := fmt.Sprintf("Recommendation %q (%s). Summary: %s\nEvidence JSON: %s",
		req.Title, req.Type, req.Summary, string(req.Evidence))

	content, err := p.complete(ctx, []chatMessageRequest{
		{Role: "system", Content: narratePrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (p *OpenAIProvider) complete(ctx context.Context, messages []chatMessageRequest) (string, error) {
	body, err := json.Marshal(chatCompletionsRequest{
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		Messages:    messages,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai request failed with status %d", resp.StatusCode)
	}

	var parsed chatCompletionsResponse
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai response does not contain choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

const estimatePrompt = "You estimate meal macros for a metabolic coaching app. " +
	"Reply with JSON only, shaped as " +
	`{"items":[{"name":"...","food_group":"fruit|nut|staple|protein|vegetable|other","quantity":1,` +
	`"macros":{"ProteinG":0,"CarbsG":0,"FatsG":0,"SugarG":0,"FiberG":0,"HiddenOilTsp":0},` +
	`"healthy_fat_score":0,"staple_units":0}],"confidence":0.0}. ` +
	"Hidden oil is cooking oil in teaspoons. Staple units count rotis, cups of rice or slices of bread."

const narratePrompt = "Rewrite the coaching recommendation as one or two friendly sentences. " +
	"Use only numbers that appear in the evidence JSON. Do not diagnose."

// extractJSON strips markdown fences around a JSON object.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return content
	}
	return content[start : end+1]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type chatCompletionsRequest struct {
	Model       string               `json:"model"`
	Messages    []chatMessageRequest `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
}

type chatMessageRequest struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
