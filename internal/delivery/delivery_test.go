package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/config"
)

func TestWebhookSender_Send(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewWebhookSender(config.DeliveryConfig{WebhookURL: srv.URL, TimeoutSeconds: 5}, zap.NewNop())
	require.NoError(t, err)

	err = s.Send(context.Background(), Message{Target: "C123", Text: "digest body"})
	require.NoError(t, err)
	assert.Equal(t, "C123", got.Target)
	assert.Equal(t, "digest body", got.Text)
}

func TestWebhookSender_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "channel_not_found", http.StatusNotFound)
	}))
	defer srv.Close()

	s, err := NewWebhookSender(config.DeliveryConfig{WebhookURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	err = s.Send(context.Background(), Message{Target: "C404", Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestNewWebhookSender_RequiresURL(t *testing.T) {
	_, err := NewWebhookSender(config.DeliveryConfig{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoWebhook)
}

// flakySender fails targets listed in fail.
type flakySender struct {
	fail  map[string]bool
	calls []string
}

func (f *flakySender) Send(_ context.Context, msg Message) error {
	f.calls = append(f.calls, msg.Target)
	if f.fail[msg.Target] {
		return errors.New("send failed")
	}
	return nil
}

func TestRouter_ContinuesAfterFailure(t *testing.T) {
	s := &flakySender{fail: map[string]bool{"C2": true}}
	r := NewRouter(s, zap.NewNop())

	msgs := []Message{
		{Target: "C1", Text: "a"},
		{Target: "C2", Text: "b"},
		{Target: "C3", Text: "c"},
	}

	results, err := r.Deliver(context.Background(), msgs)
	require.NoError(t, err, "partial failure is not a run failure")
	assert.Equal(t, []string{"C1", "C2", "C3"}, s.calls)

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
}

func TestRouter_AllFailedIsError(t *testing.T) {
	s := &flakySender{fail: map[string]bool{"C1": true, "C2": true}}
	r := NewRouter(s, zap.NewNop())

	_, err := r.Deliver(context.Background(), []Message{
		{Target: "C1", Text: "a"},
		{Target: "C2", Text: "b"},
	})
	assert.Error(t, err)
}
