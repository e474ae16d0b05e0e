package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/crestline-labs/digestd/internal/config"
	"github.com/crestline-labs/digestd/internal/events"
)

// Default configuration values.
const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultMaxTokens        = 2048
	defaultMaxRetries       = 3
	defaultBaseBackoff      = 1 * time.Second

	// Fallback when the model omits or mangles a confidence value.
	fallbackConfidence = 0.5
)

// Rate limiter defaults: 50 requests per minute for both APIs.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// analysisPrompt instructs the model to return structured events as JSON.
const analysisPrompt = `You analyze engineering team chat messages and extract structured events.

Read the messages and identify:
- "update": progress reports and status changes
- "blocker": anything preventing work from proceeding
- "decision": choices made, with who decided and what the impact is
- "action_item": concrete commitments someone took on

Respond with ONLY a JSON object, no prose, in this shape:
{
  "summary": "one or two sentences on the team's day",
  "tone": "routine|busy|strained",
  "events": [
    {
      "kind": "update|blocker|decision|action_item",
      "summary": "short description",
      "confidence": 0.0-1.0,
      "urgency": "low|medium|high|critical",
      "owners": ["name"],
      "issue": "blocker only: what is stuck",
      "owner": "blocker only: who owns it",
      "severity": "blocker only: low|medium|high|critical",
      "status": "blocker only: open|mitigated|resolved",
      "blocked_by": "blocker only: what or who it waits on",
      "what_decided": "decision only",
      "decided_by": "decision only",
      "impact": "decision only: who or what this affects",
      "who": "update only",
      "description": "action_item only",
      "due_date": "action_item only, if stated"
    }
  ]
}

Only report events actually supported by the messages. Confidence reflects
how directly the messages state the event, not how important it is.`

// llmAnalyzer is the shared shape of the Anthropic and OpenAI analyzers.
type llmAnalyzer struct {
	model      string
	apiKey     string `json:"-"` // Never serialize API keys
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     *zap.Logger

	complete func(ctx context.Context, system, user string) (string, error)
}

// Analyze sends the team's messages to the model and converts the JSON
// response into structured events.
func (l *llmAnalyzer) Analyze(ctx context.Context, team, channel string, messages []RawMessage) (*events.TeamAnalysis, error) {
	if len(messages) == 0 {
		return events.EmptyAnalysis(team, channel), nil
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	user := formatMessages(team, messages)

	var content string
	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		content, lastErr = l.complete(ctx, analysisPrompt, user)
		if lastErr == nil {
			break
		}
		if !isRetryableError(lastErr) {
			return nil, lastErr
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
	}

	analysis, err := parseAnalysisJSON(content, team, channel)
	if err != nil {
		return nil, err
	}
	analysis.MessageCount = len(messages)

	l.logger.Debug("llm analysis complete",
		zap.String("team", team),
		zap.Int("messages", len(messages)),
		zap.Int("events", len(analysis.Events)),
	)
	return analysis, nil
}

// formatMessages renders messages as a plain transcript for the prompt.
func formatMessages(team string, messages []RawMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Team: %s\nMessages (%d):\n", team, len(messages))
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.TS, m.User, m.Text)
	}
	return b.String()
}

// analysisResponse is the expected JSON response shape from the model.
type analysisResponse struct {
	Summary string         `json:"summary"`
	Tone    string         `json:"tone"`
	Events  []events.Event `json:"events"`
}

// parseAnalysisJSON converts the model's response into a team analysis,
// dropping events that fail validation rather than rejecting the batch.
func parseAnalysisJSON(content, team, channel string) (*events.TeamAnalysis, error) {
	// Models sometimes wrap JSON in markdown code fences.
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var resp analysisResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}

	analysis := &events.TeamAnalysis{
		TeamName:  team,
		ChannelID: channel,
		Summary:   resp.Summary,
		Tone:      resp.Tone,
	}
	if analysis.Summary == "" {
		analysis.Summary = "No significant activity to summarize."
	}
	if analysis.Tone == "" {
		analysis.Tone = "routine"
	}

	now := time.Now()
	for _, ev := range resp.Events {
		if ev.Confidence <= 0 || ev.Confidence > 1.0 {
			ev.Confidence = fallbackConfidence
		}
		if ev.Urgency == "" {
			ev.Urgency = events.UrgencyMedium
		}
		ev.Channel = channel
		if len(ev.Teams) == 0 {
			ev.Teams = []string{team}
		}
		ev.ExtractedAt = now
		if err := ev.Validate(); err != nil {
			continue
		}
		analysis.Events = append(analysis.Events, ev)
	}

	return analysis, nil
}

// newAnthropicAnalyzer creates an analyzer backed by Anthropic's API.
func newAnthropicAnalyzer(cfg config.ExtractionConfig, logger *zap.Logger) (Analyzer, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	a := newLLMAnalyzer(cfg, defaultAnthropicModel, defaultAnthropicBaseURL, logger)
	a.complete = a.anthropicComplete
	return a, nil
}

// newOpenAIAnalyzer creates an analyzer backed by OpenAI's API.
func newOpenAIAnalyzer(cfg config.ExtractionConfig, logger *zap.Logger) (Analyzer, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	a := newLLMAnalyzer(cfg, defaultOpenAIModel, defaultOpenAIBaseURL, logger)
	a.complete = a.openAIComplete
	return a, nil
}

func newLLMAnalyzer(cfg config.ExtractionConfig, defaultModel, defaultBaseURL string, logger *zap.Logger) *llmAnalyzer {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &llmAnalyzer{
		model:      model,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries: defaultMaxRetries,
		logger:     logger,
	}
}

// anthropicRequest represents the request format for the Claude API.
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (l *llmAnalyzer) anthropicComplete(ctx context.Context, system, user string) (string, error) {
	req := anthropicRequest{
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		System:      system,
		Temperature: 0.3,
		Messages:    []anthropicMessage{{Role: "user", Content: user}},
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", l.baseURL+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", l.apiKey)
	httpReq.Header.Set("Anthropic-Version", "2023-06-01")

	body, err := l.doRequest(httpReq)
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return resp.Content[0].Text, nil
}

// openAIRequest represents the request format for the OpenAI chat API.
type openAIRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

func (l *llmAnalyzer) openAIComplete(ctx context.Context, system, user string) (string, error) {
	req := openAIRequest{
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		Temperature: 0.3,
		Messages: []openAIMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", l.baseURL+"/v1/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+l.apiKey)

	body, err := l.doRequest(httpReq)
	if err != nil {
		return "", err
	}

	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return resp.Choices[0].Message.Content, nil
}

// doRequest executes the HTTP request and classifies failures as
// retryable or terminal.
func (l *llmAnalyzer) doRequest(req *http.Request) ([]byte, error) {
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return nil, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryableError checks if an error should be retried.
func isRetryableError(err error) bool {
	for e := err; e != nil; {
		if _, ok := e.(*retryableError); ok {
			return true
		}
		if unwrapper, ok := e.(interface{ Unwrap() error }); ok {
			e = unwrapper.Unwrap()
		} else {
			return false
		}
	}
	return false
}

var _ Analyzer = (*llmAnalyzer)(nil)
