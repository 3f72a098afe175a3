package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/model"
)

const defaultAPIBase = "https://api.telegram.org"

var (
	ErrQueueFull   = errors.New("notification queue full")
	ErrQueueClosed = errors.New("notification queue closed")
)

// TelegramNotifier sends messages via the Telegram Bot API.
// Lifecycle messages go through a bounded queue drained by Run, so tick handlers never block on the network.
type TelegramNotifier struct {
	BotToken   string
	ChatID     string
	APIBase    string
	Client     *http.Client
	MaxRetries int
	RetryBase  time.Duration

	// mu guards closed and sends on queue against Close.
	mu     sync.RWMutex
	queue  chan string
	closed bool
}

// NewTelegramNotifier creates a notifier with optional proxy support.
func NewTelegramNotifier(botToken, chatID, proxyURL string) *TelegramNotifier {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &TelegramNotifier{
		BotToken: botToken,
		ChatID:   chatID,
		APIBase:  defaultAPIBase,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		MaxRetries: 3,
		RetryBase:  time.Second,
		queue:      make(chan string, 64),
	}
}

func (t *TelegramNotifier) endpoint(method string) string {
	base := t.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	return fmt.Sprintf("%s/bot%s/%s", strings.TrimRight(base, "/"), t.BotToken, method)
}

// Send sends a message to the configured chat.
func (t *TelegramNotifier) Send(text string) error {
	payload := map[string]string{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	resp, err := t.Client.Post(t.endpoint("sendMessage"), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// SendWithRetry sends a message with exponential backoff retry.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	base := t.RetryBase
	if base <= 0 {
		base = time.Second
	}
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := t.Send(text); err != nil {
			lastErr = err
			if i == maxRetries {
				break
			}
			backoff := base << uint(i)
			logger.Warnf("telegram send failed (attempt %d/%d): %v, retrying in %v", i+1, maxRetries+1, err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				continue
			}
		}
		return nil
	}
	return fmt.Errorf("all %d retries exhausted: %w", maxRetries+1, lastErr)
}

// Enqueue schedules a message for Run without blocking.
func (t *TelegramNotifier) Enqueue(text string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrQueueClosed
	}
	select {
	case t.queue <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run sends queued messages in order until ctx is done or Close is called.
func (t *TelegramNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-t.queue:
			if !ok {
				return
			}
			if err := t.SendWithRetry(ctx, text, t.MaxRetries); err != nil {
				logger.Errorf("telegram notification dropped: %v", err)
			}
		}
	}
}

// Close stops accepting messages. Run drains what is already queued.
func (t *TelegramNotifier) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
}

func (t *TelegramNotifier) enqueue(kind, text string) {
	if err := t.Enqueue(text); err != nil {
		logger.Warnf("telegram %s message not queued: %v", kind, err)
	}
}

// TargetHit queues a target-hit message.
func (t *TelegramNotifier) TargetHit(_ context.Context, ev model.TargetHitEvent) {
	t.enqueue("target", FormatTargetHit(ev))
}

// Completed queues a completion message.
func (t *TelegramNotifier) Completed(_ context.Context, ev model.CompletedEvent) {
	t.enqueue("completion", FormatCompleted(ev))
}
