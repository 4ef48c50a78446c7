package poller

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/fjod/go_cart/techstore-cart/internal/domain"
	"github.com/segmentio/kafka-go"
)

// CartClearer drops an owner's cart once their order has been placed.
type CartClearer interface {
	ClearOwnerCart(ctx context.Context, owner domain.Owner) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	retryBackoff    = 500 * time.Millisecond
	maxRetryBackoff = 30 * time.Second
)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// orderPlaced is the event the order service publishes after a successful
// checkout.
type orderPlaced struct {
	UserID  string `json:"user_id"`
	OrderID string `json:"order_id"`
}

type Poller struct {
	carts   CartClearer
	reader  messageReader
	logger  *slog.Logger
	backoff time.Duration
}

func NewPoller(carts CartClearer, cfg Config, logger *slog.Logger) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return newPoller(carts, reader, logger)
}

func newPoller(carts CartClearer, reader messageReader, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		carts:   carts,
		reader:  reader,
		logger:  logger.With(slog.String("component", "order-poller")),
		backoff: retryBackoff,
	}
}

// Run consumes order events until ctx is cancelled. An offset is committed
// only once its event has been handled, so an event whose cart could not be
// cleared is redelivered after a restart.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		m, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("error reading message", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if !p.handle(ctx, m) {
			return
		}
		if err := p.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("error committing offset", slog.Int64("offset", m.Offset), slog.String("error", err.Error()))
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.logger.Error("error closing reader", slog.String("error", err.Error()))
	}
}

// handle reports whether m is done with and may be committed. Malformed
// events are skipped; a failing clear is retried until it succeeds or ctx
// is cancelled.
func (p *Poller) handle(ctx context.Context, m kafka.Message) bool {
	var event orderPlaced
	if err := json.Unmarshal(m.Value, &event); err != nil {
		p.logger.Warn("skipping malformed order event",
			slog.Int64("offset", m.Offset), slog.String("error", err.Error()))
		return true
	}
	userID := strings.TrimSpace(event.UserID)
	if userID == "" {
		p.logger.Warn("skipping order event without user_id", slog.Int64("offset", m.Offset))
		return true
	}

	backoff := p.backoff
	for {
		err := p.carts.ClearOwnerCart(ctx, domain.UserOwner(userID))
		if err == nil {
			break
		}
		p.logger.Error("failed to clear cart after order",
			slog.String("user_id", userID), slog.String("order_id", event.OrderID),
			slog.String("error", err.Error()), slog.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}

	p.logger.Info("cart cleared after order", slog.String("user_id", userID), slog.String("order_id", event.OrderID))
	return true
}
