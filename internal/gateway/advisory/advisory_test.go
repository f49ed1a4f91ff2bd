package advisory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"autotrade/internal/gate"
	"autotrade/internal/types"
)

func TestChatClient_RetriesOn429ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"decision\":\"approve\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL+"/v1/chat/completions", "sk-test", "gpt-test", time.Second)
	var waited []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waited = append(waited, d)
		return nil
	}
	out, err := c.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"decision":"approve"}`, out)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{3 * time.Second}, waited)
}

func TestChatClient_NonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL, "sk", "m", time.Second)
	_, err := c.Complete(context.Background(), "", "user")
	assert.EqualError(t, err, "status=401: invalid api key")
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL, "", "m", time.Second)
	c.MaxRetries = 1
	c.sleep = func(context.Context, time.Duration) error { return nil }
	_, err := c.Complete(context.Background(), "", "user")
	assert.ErrorContains(t, err, "status=502")
	assert.Equal(t, int32(2), calls.Load())
}

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	args := m.Called(ctx, systemPrompt, userPrompt)
	return args.String(0), args.Error(1)
}

func proposal() types.TradeProposal {
	return types.TradeProposal{
		ID: "p-1", Symbol: "AAPL", Side: types.SideBuy, EntryPrice: 100, StopPrice: 95, TargetPrice: 110,
		Confidence: 72, SignalType: "trend_follow", Patterns: []string{"bullish_engulfing"},
	}
}

func TestAdvisor_ParsesFencedReply(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, systemPrompt, mock.MatchedBy(func(u string) bool {
		return strings.Contains(u, "AAPL") && strings.Contains(u, "bullish_engulfing") && strings.Contains(u, "权益: 50000.00")
	})).Return("```json\n{\"decision\":\"reduce_size\",\"confidence\":64,\"reasons\":[\"trend ok\"],\"concerns\":[\"earnings\"],\"size_multiplier\":0.5,\"suggested_stop\":96}\n```", nil)

	a, err := NewAdvisor("gpt-test", c)
	require.NoError(t, err)
	v, err := a.EvaluateTrade(context.Background(), proposal(), types.AccountSnapshot{Equity: 50000}, nil)
	require.NoError(t, err)
	assert.Equal(t, gate.DecisionReduceSize, v.Decision)
	assert.InDelta(t, 64, v.Confidence, 1e-9)
	assert.InDelta(t, 0.5, v.SizeMultiplier, 1e-9)
	assert.InDelta(t, 96, v.SuggestedStop, 1e-9)
	assert.Equal(t, []string{"earnings"}, v.Concerns)
	assert.Equal(t, "gpt-test", v.Model)
	c.AssertExpectations(t)
}

func TestAdvisor_RejectsInvalidReplies(t *testing.T) {
	cases := map[string]string{
		"no json":        "I think you should buy.",
		"bad decision":   `{"decision":"yolo","confidence":50}`,
		"out of range":   `{"decision":"approve","confidence":150}`,
		"missing field":  `{"decision":"approve"}`,
		"bad multiplier": `{"decision":"reduce_size","confidence":50,"size_multiplier":2}`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			c := &mockCompleter{}
			c.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(reply, nil)
			a, err := NewAdvisor("m", c)
			require.NoError(t, err)
			_, err = a.EvaluateTrade(context.Background(), proposal(), types.AccountSnapshot{}, nil)
			assert.Error(t, err)
		})
	}
}

func TestAdvisor_PropagatesClientError(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("status=503: busy"))
	a, err := NewAdvisor("m", c)
	require.NoError(t, err)
	_, err = a.EvaluateTrade(context.Background(), proposal(), types.AccountSnapshot{}, nil)
	assert.EqualError(t, err, "status=503: busy")
}

func TestAdvisor_FallsBackThroughDelegatedEvaluator(t *testing.T) {
	c := &mockCompleter{}
	c.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("not json", nil)
	a, err := NewAdvisor("m", c)
	require.NoError(t, err)

	ev := gate.NewDelegatedEvaluator(a, nil, nil, time.Second)
	res, err := ev.Evaluate(context.Background(), gate.Input{Proposal: proposal(), Account: types.AccountSnapshot{Equity: 10000}})
	require.NoError(t, err)
	assert.Equal(t, "rule_based(fallback)", res.Evaluator)
}
