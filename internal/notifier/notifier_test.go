package notifier

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpSentinel/internal/adaptive"
	"PerpSentinel/internal/model"
	"PerpSentinel/internal/monitor"
)

type fakeTelegram struct {
	mu       sync.Mutex
	sent     []string
	failures int32
	updates  []string
	served   int32
}

func (f *fakeTelegram) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if atomic.AddInt32(&f.failures, -1) >= 0 {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			body, _ := io.ReadAll(r.Body)
			var payload map[string]string
			assert.NoError(t, sonic.Unmarshal(body, &payload))
			assert.Equal(t, "42", payload["chat_id"])
			assert.Equal(t, "HTML", payload["parse_mode"])
			f.mu.Lock()
			f.sent = append(f.sent, payload["text"])
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true}`))
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			if atomic.AddInt32(&f.served, 1) > 1 {
				time.Sleep(20 * time.Millisecond)
				_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
				return
			}
			var parts []string
			for i, text := range f.updates {
				parts = append(parts, `{"update_id":`+string(rune('1'+i))+`,"message":{"text":"`+text+`","chat":{"id":42}}}`)
			}
			parts = append(parts, `{"update_id":9,"message":{"text":"/status","chat":{"id":7}}}`)
			_, _ = w.Write([]byte(`{"ok":true,"result":[` + strings.Join(parts, ",") + `]}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeTelegram) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestNotifier(t *testing.T, f *fakeTelegram) *TelegramNotifier {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	n := NewTelegramNotifier("TOKEN", "42", "")
	n.APIBase = srv.URL
	n.RetryBase = time.Millisecond
	return n
}

func TestSend(t *testing.T) {
	f := &fakeTelegram{}
	n := newTestNotifier(t, f)
	require.NoError(t, n.Send("hello"))
	assert.Equal(t, []string{"hello"}, f.messages())
}

func TestSendWithRetry(t *testing.T) {
	f := &fakeTelegram{failures: 2}
	n := newTestNotifier(t, f)
	require.NoError(t, n.SendWithRetry(context.Background(), "hello", 3))
	assert.Equal(t, []string{"hello"}, f.messages())

	f = &fakeTelegram{failures: 10}
	n = newTestNotifier(t, f)
	err := n.SendWithRetry(context.Background(), "hello", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 retries exhausted")
}

func TestQueueDeliversInOrder(t *testing.T) {
	f := &fakeTelegram{}
	n := newTestNotifier(t, f)

	n.TargetHit(context.Background(), model.TargetHitEvent{Symbol: "BTCUSDT", Index: 0, Target: 103, Price: 103.5, PnL: 3.5})
	n.Completed(context.Background(), model.CompletedEvent{Symbol: "BTCUSDT", Reason: model.ReasonAllTargets, FinalPnL: 7})
	n.Close()
	assert.ErrorIs(t, n.Enqueue("late"), ErrQueueClosed)

	n.Run(context.Background())
	msgs := f.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "目标1")
	assert.Contains(t, msgs[1], "全部目标达成")
}

func TestEnqueueFull(t *testing.T) {
	n := NewTelegramNotifier("TOKEN", "42", "")
	for i := 0; i < cap(n.queue); i++ {
		require.NoError(t, n.Enqueue("x"))
	}
	assert.ErrorIs(t, n.Enqueue("x"), ErrQueueFull)
}

func TestEnqueueConcurrentWithClose(t *testing.T) {
	n := NewTelegramNotifier("TOKEN", "42", "")

	const writers = 16
	const perWriter = 50
	errs := make(chan error, writers*perWriter)
	var accepted int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < perWriter; j++ {
				err := n.Enqueue("x")
				if err == nil {
					atomic.AddInt32(&accepted, 1)
				}
				errs <- err
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		n.Close()
		n.Close()
	}()
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			assert.True(t, errors.Is(err, ErrQueueFull) || errors.Is(err, ErrQueueClosed), "unexpected error: %v", err)
		}
	}
	assert.ErrorIs(t, n.Enqueue("late"), ErrQueueClosed)

	drained := 0
	for range n.queue {
		drained++
	}
	assert.Equal(t, int(atomic.LoadInt32(&accepted)), drained)
}

func TestStartPolling(t *testing.T) {
	f := &fakeTelegram{updates: []string{"/help", "/stats BTCUSDT"}}
	n := newTestNotifier(t, f)

	var mu sync.Mutex
	var got []string
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.StartPolling(ctx, func(cmd string) string {
			mu.Lock()
			got = append(got, cmd)
			mu.Unlock()
			return "reply to " + cmd
		})
	}()

	require.Eventually(t, func() bool { return len(f.messages()) == 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/help", "/stats BTCUSDT"}, got, "commands from other chats are ignored")
	assert.Equal(t, []string{"reply to /help", "reply to /stats BTCUSDT"}, f.messages())
}

func TestFormatSignalAlert(t *testing.T) {
	res := &model.SignalResult{
		Symbol: "ETHUSDT", Timeframe: "15m", TotalScore: 71.2, ConfirmationCount: 3,
		MLProbability: 0.8, IsMLDriven: true, CounterTrend: true, EffectiveTrend: model.TrendBearish,
		StrengthFactors: []string{"extreme_rsi"},
		ScoreComponents: []model.ScoreComponent{{Name: "rsi", WeightedValue: 20, Description: "RSI 18.0"}},
	}
	lv := &model.TradingLevels{
		Entry: 100, Targets: []float64{101.5, 103}, StopLoss: 98,
		RiskRewardRatio: 1.5, Direction: model.DirectionLong, Method: "percentage",
	}
	msg := FormatSignalAlert(res, lv)
	assert.Contains(t, msg, "ETHUSDT 15m")
	assert.Contains(t, msg, "做多")
	assert.Contains(t, msg, "目标2: 103 (+3.00%)")
	assert.Contains(t, msg, "止损: 98 (-2.00%)")
	assert.Contains(t, msg, "逆势信号")
	assert.Contains(t, msg, "模型主导")
	assert.Contains(t, msg, "rsi: +20.0")
}

func TestFormatCompleted(t *testing.T) {
	msg := FormatCompleted(model.CompletedEvent{
		Symbol: "ETHUSDT", Direction: model.DirectionShort, Reason: model.ReasonStopLoss,
		FinalPnL: -6, LeveragedPnL: -60, DurationMs: 90_000,
	})
	assert.Contains(t, msg, "触发止损")
	assert.Contains(t, msg, "-6.00%")
	assert.Contains(t, msg, "-60.00%")
	assert.Contains(t, msg, "1m30s")
}

func TestFormatMonitorStatusAndStats(t *testing.T) {
	assert.Contains(t, FormatMonitorStatus(nil), "没有活跃监控")
	msg := FormatMonitorStatus([]monitor.Snapshot{{
		Symbol: "BTCUSDT", Timeframe: "1h", Direction: model.DirectionLong,
		Entry: 100, LastPrice: 104, PnL: 4, TargetsHit: 1, Targets: []float64{103, 106}, StopLoss: 95,
	}})
	assert.Contains(t, msg, "目标: 1/2")

	assert.Contains(t, FormatStats(adaptive.Stats{Symbol: "BTCUSDT"}), "暂无历史交易")
	msg = FormatStats(adaptive.Stats{Symbol: "BTCUSDT", Trades: 4, Wins: 3, Losses: 1, WinRate: 0.75, AvgLeveragedPnL: 12.5})
	assert.Contains(t, msg, "胜率: 75.0%")
	assert.Contains(t, FormatHelp(), "/close SYMBOL")
}
