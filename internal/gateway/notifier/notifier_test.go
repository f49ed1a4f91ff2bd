package notifier

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Render(t *testing.T) {
	msg := Message{
		Icon:  "⛔",
		Title: "回撤熔断触发",
		Sections: []Section{
			{Title: "账户", Lines: []string{"drawdown=15.00%", " ", "peak=100000"}},
			{Title: "空段", Lines: []string{""}},
			{Lines: []string{"contains ``` fence"}},
		},
		Footer:    "新开仓已暂停",
		Timestamp: time.Date(2024, 4, 2, 14, 0, 0, 0, time.UTC),
	}
	out := msg.Render()
	assert.True(t, strings.HasPrefix(out, "⛔ 回撤熔断触发\n\n```\n账户\n- drawdown=15.00%\n- peak=100000\n\n- contains ''' fence\n```"))
	assert.NotContains(t, out, "空段")
	assert.True(t, strings.HasSuffix(out, "时间：2024-04-02 14:00:00 UTC"))
}

func TestMessage_RenderTruncates(t *testing.T) {
	out := Message{Title: strings.Repeat("x", maxMessageLen+100)}.Render()
	assert.Len(t, out, maxMessageLen+3)
}

func TestTelegram_SendText(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok/sendMessage", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("tok", "chat")
	tg.BaseURL = srv.URL
	tg.sleep = func(time.Duration) {}
	require.NoError(t, tg.SendText("hello"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestTelegram_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	tg := NewTelegram("tok", "chat")
	tg.BaseURL = srv.URL
	tg.sleep = func(time.Duration) {}
	assert.EqualError(t, tg.SendText("hello"), "telegram status=400: chat not found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestTelegram_RequiresConfig(t *testing.T) {
	assert.Error(t, NewTelegram("", "chat").SendText("x"))
}
