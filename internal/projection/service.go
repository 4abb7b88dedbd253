package projection

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/ariefcatur/go-preorders/internal/kafka"
	"github.com/ariefcatur/go-preorders/internal/preorders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// StatusCache is the part of the Redis cache the projector writes to.
// *redisx.Cache satisfies it.
type StatusCache interface {
	Status(ctx context.Context, id string, out any) (bool, error)
	SetStatus(ctx context.Context, id string, v any) error
	MarkDeleted(ctx context.Context, id string) error
	Deleted(ctx context.Context, id string) (bool, error)
	Seen(ctx context.Context, service, eventID string) (bool, error)
	MarkSeen(ctx context.Context, service, eventID string) error
}

// Service keeps the preorder status cache in step with lifecycle events so
// the status endpoint can answer without touching Postgres.
type Service struct {
	Cache       StatusCache
	Log         *zap.Logger
	ServiceName string
}

// HandleEvent is installed as the consumer handler. The event id is recorded
// only after the cache write succeeded, so a failed attempt is retried on
// redelivery. Applying an event twice is harmless.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var env preorders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	seen, err := s.Cache.Seen(ctx, s.ServiceName, env.EventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}
	if err := s.apply(ctx, env); err != nil {
		return err
	}
	return s.Cache.MarkSeen(ctx, s.ServiceName, env.EventID)
}

func (s *Service) apply(ctx context.Context, env preorders.Envelope) error {
	switch env.EventType {
	case preorders.EventPreorderCreated, preorders.EventPreorderUpdated,
		preorders.EventPreorderConfirmed, preorders.EventPreorderCancelled:
		p, err := kafkax.UnwrapPayload[preorders.PreorderPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.project(ctx, p)
	case preorders.EventPreorderDeleted:
		p, err := kafkax.UnwrapPayload[preorders.PreorderDeletedPayload](env.Payload)
		if err != nil {
			return err
		}
		s.log().Debug("status evicted", zap.String("preorder_id", p.PreorderID))
		return s.Cache.MarkDeleted(ctx, p.PreorderID)
	default:
		// SaleCreated and unknown types carry no status change.
		return nil
	}
}

// project writes the status unless the preorder was deleted or the cache
// already holds a newer version. Events of one preorder travel on several
// topics, so they can arrive in any order.
func (s *Service) project(ctx context.Context, p preorders.PreorderPayload) error {
	gone, err := s.Cache.Deleted(ctx, p.PreorderID)
	if err != nil {
		return err
	}
	if gone {
		s.log().Debug("event for deleted preorder skipped", zap.String("preorder_id", p.PreorderID))
		return nil
	}

	var cur preorders.StatusView
	hit, err := s.Cache.Status(ctx, p.PreorderID, &cur)
	if err != nil {
		return err
	}
	if hit && cur.Version > p.Version {
		s.log().Debug("stale event skipped",
			zap.String("preorder_id", p.PreorderID),
			zap.Int("cached_version", cur.Version),
			zap.Int("event_version", p.Version),
		)
		return nil
	}
	return s.Cache.SetStatus(ctx, p.PreorderID, preorders.StatusView{
		ID:      p.PreorderID,
		Status:  p.Status,
		Version: p.Version,
	})
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
