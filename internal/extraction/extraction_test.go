package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/config"
	"github.com/crestline-labs/digestd/internal/events"
)

func TestNewAnalyzer_Providers(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ExtractionConfig
		wantErr error
	}{
		{name: "disabled", cfg: config.ExtractionConfig{Provider: "disabled"}},
		{name: "empty defaults to disabled", cfg: config.ExtractionConfig{}},
		{name: "heuristic", cfg: config.ExtractionConfig{Provider: "heuristic"}},
		{name: "anthropic without key", cfg: config.ExtractionConfig{Provider: "anthropic"}, wantErr: ErrNoAPIKey},
		{name: "openai with key", cfg: config.ExtractionConfig{Provider: "openai", APIKey: "sk-test"}},
		{name: "unknown", cfg: config.ExtractionConfig{Provider: "psychic"}, wantErr: ErrUnknownProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAnalyzer(tt.cfg, zap.NewNop())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, a)
		})
	}
}

func TestHeuristic_ClassifiesKinds(t *testing.T) {
	h := NewHeuristicAnalyzer(zap.NewNop())

	msgs := []RawMessage{
		{TS: "1", User: "alex", Text: "blocked on the rev C schematic, can't route the board"},
		{TS: "2", User: "sam", Text: "we decided to go with the TI part after all"},
		{TS: "3", User: "kim", Text: "I'll send the updated test plan tomorrow"},
		{TS: "4", User: "ray", Text: "shipped the OTA update to the pilot fleet"},
		{TS: "5", User: "jo", Text: "anyone up for lunch?"},
	}

	analysis, err := h.Analyze(context.Background(), "electrical", "C123", msgs)
	require.NoError(t, err)

	require.Len(t, analysis.Events, 4)
	kinds := make([]events.Kind, 0, 4)
	for _, ev := range analysis.Events {
		kinds = append(kinds, ev.Kind)
		assert.NoError(t, ev.Validate())
		assert.Equal(t, []string{"electrical"}, ev.Teams)
		assert.Equal(t, "C123", ev.Channel)
	}
	assert.Equal(t, []events.Kind{
		events.KindBlocker, events.KindDecision, events.KindActionItem, events.KindUpdate,
	}, kinds)

	blocker := analysis.Events[0]
	assert.Equal(t, "alex", blocker.Owner)
	assert.Equal(t, events.StatusOpen, blocker.Status)
	assert.Equal(t, 5, analysis.MessageCount)
}

func TestHeuristic_UrgencyKeywords(t *testing.T) {
	h := NewHeuristicAnalyzer(zap.NewNop())

	analysis, err := h.Analyze(context.Background(), "software", "C1", []RawMessage{
		{TS: "1", User: "a", Text: "blocked on CI, this is critical, line down"},
		{TS: "2", User: "b", Text: "blocked on review, need it today"},
		{TS: "3", User: "c", Text: "blocked on the vendor"},
	})
	require.NoError(t, err)
	require.Len(t, analysis.Events, 3)

	assert.Equal(t, events.UrgencyCritical, analysis.Events[0].Urgency)
	assert.Equal(t, events.UrgencyHigh, analysis.Events[1].Urgency)
	assert.Equal(t, events.UrgencyMedium, analysis.Events[2].Urgency)
	assert.Equal(t, "strained", analysis.Tone)
}

func TestHeuristic_EmptyMessages(t *testing.T) {
	h := NewHeuristicAnalyzer(zap.NewNop())

	analysis, err := h.Analyze(context.Background(), "qa", "C9", nil)
	require.NoError(t, err)
	assert.Empty(t, analysis.Events)
	assert.Equal(t, "routine", analysis.Tone)
}

func TestParseAnalysisJSON_StripsCodeFences(t *testing.T) {
	content := "```json\n" + `{
		"summary": "busy day",
		"tone": "busy",
		"events": [
			{"kind": "blocker", "summary": "waiting on firmware", "confidence": 0.9, "urgency": "high"},
			{"kind": "nonsense", "summary": "dropped", "confidence": 0.9},
			{"kind": "update", "summary": "bad confidence", "confidence": 7}
		]
	}` + "\n```"

	analysis, err := parseAnalysisJSON(content, "software", "C1")
	require.NoError(t, err)

	assert.Equal(t, "busy day", analysis.Summary)
	require.Len(t, analysis.Events, 2, "invalid kind is dropped, bad confidence is repaired")
	assert.Equal(t, events.KindBlocker, analysis.Events[0].Kind)
	assert.InDelta(t, fallbackConfidence, analysis.Events[1].Confidence, 0.0001)
	assert.Equal(t, []string{"software"}, analysis.Events[0].Teams)
}

func TestParseAnalysisJSON_RejectsNonJSON(t *testing.T) {
	_, err := parseAnalysisJSON("Sure! Here is my analysis of the team...", "software", "C1")
	assert.Error(t, err)
}

func TestAnthropicAnalyzer_EndToEnd(t *testing.T) {
	payload := `{"summary": "one blocker", "tone": "routine", "events": [{"kind": "blocker", "summary": "waiting on parts", "confidence": 0.8, "urgency": "high"}]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-API-Key"))
		fmt.Fprintf(w, `{"content": [{"type": "text", "text": %q}]}`, payload)
	}))
	defer srv.Close()

	a, err := newAnthropicAnalyzer(config.ExtractionConfig{
		Provider: "anthropic",
		APIKey:   "test-key",
		BaseURL:  srv.URL,
	}, zap.NewNop())
	require.NoError(t, err)

	analysis, err := a.Analyze(context.Background(), "mechanical", "C7", []RawMessage{
		{TS: "1", User: "a", Text: "still waiting on parts"},
	})
	require.NoError(t, err)
	require.Len(t, analysis.Events, 1)
	assert.Equal(t, events.KindBlocker, analysis.Events[0].Kind)
	assert.Equal(t, 1, analysis.MessageCount)
}

func TestAnthropicAnalyzer_RetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"content": [{"type": "text", "text": "{\"summary\": \"ok\", \"tone\": \"routine\", \"events\": []}"}]}`)
	}))
	defer srv.Close()

	a, err := newAnthropicAnalyzer(config.ExtractionConfig{
		Provider: "anthropic",
		APIKey:   "test-key",
		BaseURL:  srv.URL,
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), "software", "C1", []RawMessage{{TS: "1", User: "a", Text: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(&retryableError{err: errors.New("x")}))
	assert.True(t, isRetryableError(fmt.Errorf("wrapped: %w", &retryableError{err: errors.New("x")})))
	assert.False(t, isRetryableError(errors.New("plain")))
	assert.False(t, isRetryableError(nil))
}
