package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpSentinel/internal/config"
	"PerpSentinel/internal/model"
)

const sample = `{"e":"aggTrade","E":1772438400123,"s":"BTCUSDT","a":5933014,"p":"64123.40","q":"0.015","f":100,"l":105,"T":1772438400100,"m":true}`

func TestParseAggTrade(t *testing.T) {
	tick, err := ParseAggTrade([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.Equal(t, 64123.40, tick.Price)
	assert.Equal(t, int64(1772438400100), tick.Timestamp.UnixMilli())
}

func TestParseAggTrade_Errors(t *testing.T) {
	cases := map[string]string{
		"not json":    `{`,
		"bad price":   `{"e":"aggTrade","s":"BTCUSDT","p":"abc","T":1}`,
		"other event": `{"e":"kline","s":"BTCUSDT","p":"1","T":1}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAggTrade([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(20*time.Second, 30*time.Second))
}

func TestBinanceStream_URL(t *testing.T) {
	b := NewBinanceStream(config.Stream{BaseURL: "wss://fstream.binance.com/ws/"})
	assert.Equal(t, "wss://fstream.binance.com/ws/ethusdt@aggTrade", b.URL("ETHUSDT"))
}

func TestBinanceStream_DeliversInOrder(t *testing.T) {
	release := make(chan struct{})
	paths := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, p := range []string{"100.5", "not-a-price", "101.25", "0"} {
			msg := strings.Replace(sample, `"p":"64123.40"`, `"p":"`+p+`"`, 1)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	b := NewBinanceStream(config.Stream{
		BaseURL:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		PongWait:     5 * time.Second,
		MaxBackoff:   time.Second,
		HandshakeTTL: time.Second,
	})

	ticks := make(chan model.Tick, 8)
	require.NoError(t, b.Subscribe("BTCUSDT", func(tk model.Tick) { ticks <- tk }))
	assert.Equal(t, "/ws/btcusdt@aggTrade", <-paths)

	var got []float64
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case tk := <-ticks:
			got = append(got, tk.Price)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []float64{100.5, 101.25}, got)

	require.NoError(t, b.Unsubscribe("BTCUSDT"))
	require.NoError(t, b.Unsubscribe("BTCUSDT"))
	assert.Zero(t, b.Subscribed())
}

func TestBinanceStream_SubscribeDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	b := NewBinanceStream(config.Stream{BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"), HandshakeTTL: time.Second})
	assert.Error(t, b.Subscribe("BTCUSDT", func(model.Tick) {}))
	assert.Zero(t, b.Subscribed())
}
