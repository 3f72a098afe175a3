// Package stream delivers live trade ticks from the Binance USDⓈ-M futures websocket.
package stream

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"PerpSentinel/internal/config"
	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/model"
)

const initialBackoff = time.Second

// aggTrade is the <symbol>@aggTrade payload. Both e and E are declared so the
// case-insensitive field matching of the decoder never crosses them.
type aggTrade struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
	Maker     bool   `json:"m"`
}

// ParseAggTrade decodes one aggTrade message into a tick.
func ParseAggTrade(data []byte) (model.Tick, error) {
	var msg aggTrade
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return model.Tick{}, fmt.Errorf("decode aggTrade: %w", err)
	}
	if msg.EventType != "" && msg.EventType != "aggTrade" {
		return model.Tick{}, fmt.Errorf("unexpected event %q", msg.EventType)
	}
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil {
		return model.Tick{}, fmt.Errorf("parse price %q: %w", msg.Price, err)
	}
	ts := msg.TradeTime
	if ts == 0 {
		ts = msg.EventTime
	}
	return model.Tick{
		Symbol:    strings.ToUpper(msg.Symbol),
		Price:     price,
		Timestamp: time.UnixMilli(ts).UTC(),
	}, nil
}

// BinanceStream keeps one websocket connection per subscribed symbol.
type BinanceStream struct {
	cfg    config.Stream
	dialer *websocket.Dialer

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewBinanceStream creates a stream. Connections honour HTTPS_PROXY.
func NewBinanceStream(cfg config.Stream) *BinanceStream {
	return &BinanceStream{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTTL,
		},
		subs: make(map[string]*subscription),
	}
}

type subscription struct {
	symbol  string
	url     string
	handler func(model.Tick)

	stop     chan struct{}
	stopOnce sync.Once

	connMu sync.Mutex
	conn   *websocket.Conn
}

func (s *subscription) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *subscription) close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.connMu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.connMu.Unlock()
	})
}

// URL returns the raw stream endpoint for a symbol.
func (b *BinanceStream) URL(symbol string) string {
	return strings.TrimRight(b.cfg.BaseURL, "/") + "/" + strings.ToLower(symbol) + "@aggTrade"
}

// Subscribe dials the symbol's stream and delivers ticks to handler in arrival order from a single
// goroutine. A failing first dial is returned; later disconnects are retried with backoff.
// Subscribing again replaces the previous subscription.
func (b *BinanceStream) Subscribe(symbol string, handler func(model.Tick)) error {
	sub := &subscription{
		symbol:  symbol,
		url:     b.URL(symbol),
		handler: handler,
		stop:    make(chan struct{}),
	}
	conn, err := b.dial(sub)
	if err != nil {
		return fmt.Errorf("dial %s: %w", sub.url, err)
	}
	sub.conn = conn

	b.mu.Lock()
	old := b.subs[symbol]
	b.subs[symbol] = sub
	b.mu.Unlock()
	if old != nil {
		old.close()
	}

	go b.run(sub)
	logger.Infof("stream %s subscribed", symbol)
	return nil
}

// Unsubscribe stops the symbol's stream. It is idempotent and never waits for the read goroutine,
// so it is safe to call from inside a tick handler.
func (b *BinanceStream) Unsubscribe(symbol string) error {
	b.mu.Lock()
	sub := b.subs[symbol]
	delete(b.subs, symbol)
	b.mu.Unlock()
	if sub != nil {
		sub.close()
		logger.Infof("stream %s unsubscribed", symbol)
	}
	return nil
}

// Close stops every subscription.
func (b *BinanceStream) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*subscription)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
	return nil
}

// Subscribed returns the number of live subscriptions.
func (b *BinanceStream) Subscribed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *BinanceStream) dial(sub *subscription) (*websocket.Conn, error) {
	conn, _, err := b.dialer.Dial(sub.url, nil)
	if err != nil {
		return nil, err
	}
	wait := b.cfg.PongWait
	if wait <= 0 {
		wait = time.Minute
	}
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return conn, nil
}

func (b *BinanceStream) run(sub *subscription) {
	backoff := initialBackoff
	for {
		sub.connMu.Lock()
		conn := sub.conn
		sub.connMu.Unlock()

		if conn != nil {
			if b.read(sub, conn) {
				backoff = initialBackoff
			}
			_ = conn.Close()
		}
		if sub.stopped() {
			return
		}

		select {
		case <-sub.stop:
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, b.cfg.MaxBackoff)

		next, err := b.dial(sub)
		if err != nil {
			logger.Warnf("stream %s reconnect failed, retry in %s: %v", sub.symbol, backoff, err)
			sub.connMu.Lock()
			sub.conn = nil
			sub.connMu.Unlock()
			continue
		}
		sub.connMu.Lock()
		if sub.stopped() {
			sub.connMu.Unlock()
			_ = next.Close()
			return
		}
		sub.conn = next
		sub.connMu.Unlock()
		logger.Infof("stream %s reconnected", sub.symbol)
	}
}

// read pumps messages until the connection fails or the subscription stops.
// It reports whether at least one tick was delivered.
func (b *BinanceStream) read(sub *subscription, conn *websocket.Conn) bool {
	delivered := false
	wait := b.cfg.PongWait
	if wait <= 0 {
		wait = time.Minute
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !sub.stopped() {
				logger.Warnf("stream %s read: %v", sub.symbol, err)
			}
			return delivered
		}
		if sub.stopped() {
			return delivered
		}
		_ = conn.SetReadDeadline(time.Now().Add(wait))

		tick, err := ParseAggTrade(data)
		if err != nil {
			logger.Debugf("stream %s: skip message: %v", sub.symbol, err)
			continue
		}
		if tick.Symbol == "" {
			tick.Symbol = sub.symbol
		}
		if !(tick.Price > 0) || math.IsInf(tick.Price, 0) {
			continue
		}
		sub.handler(tick)
		delivered = true
	}
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	if limit <= 0 {
		limit = 30 * time.Second
	}
	cur *= 2
	if cur > limit {
		return limit
	}
	return cur
}
