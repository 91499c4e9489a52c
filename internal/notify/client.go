// Package notify доставляет уведомления пользователям через внешнюю службу.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/bookstore-coins/internal/model"
)

// Sender отправляет одно уведомление.
type Sender interface {
	Send(ctx context.Context, n model.Notification) error
}

// Client инкапсулирует HTTP-взаимодействие со службой уведомлений.
// Ответы 5xx и 429 повторяются с учётом Retry-After.
type Client struct {
	endpoint   string
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент, отправляющий уведомления POST-запросом на endpoint.
func NewClient(endpoint string, logger *zap.Logger) *Client {
	base := strings.TrimRight(endpoint, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = leveledLogger{logger.Sugar()}

	return &Client{
		endpoint:   base + "/api/notifications",
		httpClient: rc,
	}
}

// Send отправляет уведомление и ждёт подтверждения 2xx.
func (c *Client) Send(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

// LogSender записывает уведомления в журнал. Используется, когда служба уведомлений не настроена.
type LogSender struct {
	Logger *zap.Logger
}

// Send журналирует уведомление.
func (s LogSender) Send(ctx context.Context, n model.Notification) error {
	s.Logger.Info("notification",
		zap.String("event", string(n.Event)),
		zap.Int64("user_id", n.UserID),
		zap.String("order", n.OrderNumber),
		zap.Int64("amount", n.Amount),
		zap.String("message", n.Message),
	)
	return nil
}

// leveledLogger адаптирует zap к журналу retryablehttp.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
