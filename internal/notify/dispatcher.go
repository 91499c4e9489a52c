package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/bookstore-coins/internal/metrics"
	"github.com/mmeshcher/bookstore-coins/internal/model"
)

const (
	defaultQueueSize = 256
	sendTimeout      = 10 * time.Second
	drainTimeout     = 5 * time.Second
)

// Dispatcher отправляет уведомления в фоне, не задерживая обработку запросов.
// При переполненной очереди уведомление отбрасывается с записью в журнал.
type Dispatcher struct {
	sender Sender
	queue  chan model.Notification
	logger *zap.Logger
}

// NewDispatcher создаёт диспетчер с очередью размера size.
func NewDispatcher(sender Sender, size int, logger *zap.Logger) *Dispatcher {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Dispatcher{
		sender: sender,
		queue:  make(chan model.Notification, size),
		logger: logger,
	}
}

// Notify ставит уведомление в очередь.
func (d *Dispatcher) Notify(_ context.Context, n model.Notification) {
	select {
	case d.queue <- n:
	default:
		metrics.SideEffectFailures.WithLabelValues("notification").Inc()
		d.logger.Warn("notification queue full, dropping",
			zap.String("event", string(n.Event)),
			zap.Int64("user_id", n.UserID),
			zap.String("order", n.OrderNumber),
		)
	}
}

// Run отправляет уведомления до отмены ctx, затем досылает оставшиеся в очереди.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case n := <-d.queue:
			d.send(ctx, n)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case n := <-d.queue:
			d.send(ctx, n)
		default:
			return
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, n model.Notification) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := d.sender.Send(ctx, n); err != nil {
		metrics.SideEffectFailures.WithLabelValues("notification").Inc()
		d.logger.Warn("notification not delivered",
			zap.String("event", string(n.Event)),
			zap.Int64("user_id", n.UserID),
			zap.String("order", n.OrderNumber),
			zap.Error(err),
		)
	}
}
