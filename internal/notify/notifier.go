package notify

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Sink delivers a rendered notification.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

type Notification struct {
	OrderID   string
	EventType string
	Text      string
	Link      string
}

// Deduper is satisfied by *redisx.Dedup.
type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Notifier turns order events into WhatsApp links for the shop. It only
// reads events; order state is never touched from here.
type Notifier struct {
	ShopPhone string
	Sink      Sink
	Dedup     Deduper // optional
	Log       *zap.Logger
}

// HandleOrderEvent dipasang sebagai handler consumer.
func (n *Notifier) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.HeaderValue(m.Headers, orders.HeaderEventType); t != "" {
		if _, known := eventTitles[t]; !known {
			return nil
		}
	}

	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// pesan rusak tidak akan pernah sukses; log lalu commit
		n.Log.Error("undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if _, known := eventTitles[env.EventType]; !known {
		return nil // ignore
	}

	if n.Dedup != nil {
		first, err := n.Dedup.FirstSeen(ctx, env.EventID)
		if err != nil {
			n.Log.Warn("dedup unavailable, processing anyway", zap.String("event_id", env.EventID), zap.Error(err))
		} else if !first {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.OrderEventPayload](env.Payload)
	if err != nil {
		n.Log.Error("bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	text := RenderMessage(env.EventType, p)
	note := Notification{
		OrderID:   p.OrderID,
		EventType: env.EventType,
		Text:      text,
		Link:      Link(n.ShopPhone, text),
	}
	if err := n.Sink.Send(ctx, note); err != nil {
		// consumer akan retry pesan yang sama; klaim dedup harus dilepas dulu
		if n.Dedup != nil {
			_ = n.Dedup.Forget(ctx, env.EventID)
		}
		return fmt.Errorf("send notification for order %s: %w", p.OrderID, err)
	}
	return nil
}

// LogSink writes the link to the log, where the shop's tooling picks it up.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Send(_ context.Context, n Notification) error {
	s.Log.Info("whatsapp notification",
		zap.String("order_id", n.OrderID),
		zap.String("event_type", n.EventType),
		zap.String("link", n.Link))
	return nil
}
