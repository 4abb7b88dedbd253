package projection

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	kafkax "github.com/ariefcatur/go-preorders/internal/kafka"
	"github.com/ariefcatur/go-preorders/internal/preorders"
	kafkago "github.com/segmentio/kafka-go"
)

type fakeCache struct {
	statuses map[string]preorders.StatusView
	deleted  map[string]bool
	seen     map[string]bool
	setErr   error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		statuses: map[string]preorders.StatusView{},
		deleted:  map[string]bool{},
		seen:     map[string]bool{},
	}
}

func (f *fakeCache) Status(_ context.Context, id string, out any) (bool, error) {
	v, ok := f.statuses[id]
	if !ok {
		return false, nil
	}
	*(out.(*preorders.StatusView)) = v
	return true, nil
}

func (f *fakeCache) SetStatus(_ context.Context, id string, v any) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.statuses[id] = v.(preorders.StatusView)
	return nil
}

func (f *fakeCache) MarkDeleted(_ context.Context, id string) error {
	delete(f.statuses, id)
	f.deleted[id] = true
	return nil
}

func (f *fakeCache) Deleted(_ context.Context, id string) (bool, error) {
	return f.deleted[id], nil
}

func (f *fakeCache) Seen(_ context.Context, service, eventID string) (bool, error) {
	return f.seen[service+":"+eventID], nil
}

func (f *fakeCache) MarkSeen(_ context.Context, service, eventID string) error {
	f.seen[service+":"+eventID] = true
	return nil
}

func message(t *testing.T, eventType string, payload any) kafkago.Message {
	t.Helper()
	env := preorders.NewEnvelope(eventType, "test", "p-1", "", kafkax.MustMarshal(payload))
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return kafkago.Message{Value: b}
}

func TestProjectsLatestStatus(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	svc := &Service{Cache: cache, ServiceName: "projector"}

	created := message(t, preorders.EventPreorderCreated, preorders.PreorderPayload{
		PreorderID: "p-1", Status: preorders.StatusPending, Version: 1,
	})
	confirmed := message(t, preorders.EventPreorderConfirmed, preorders.PreorderPayload{
		PreorderID: "p-1", Status: preorders.StatusConfirmed, Version: 2,
	})

	for _, m := range []kafkago.Message{created, confirmed} {
		if err := svc.HandleEvent(ctx, m); err != nil {
			t.Fatalf("HandleEvent: %v", err)
		}
	}
	if got := cache.statuses["p-1"]; got.Status != preorders.StatusConfirmed || got.Version != 2 {
		t.Errorf("Expected Confirmada v2, got %+v", got)
	}

	// A replayed older event must not roll the status back.
	stale := message(t, preorders.EventPreorderUpdated, preorders.PreorderPayload{
		PreorderID: "p-1", Status: preorders.StatusPending, Version: 1,
	})
	if err := svc.HandleEvent(ctx, stale); err != nil {
		t.Fatalf("HandleEvent stale: %v", err)
	}
	if got := cache.statuses["p-1"]; got.Version != 2 {
		t.Errorf("Stale event overwrote status: %+v", got)
	}
}

func TestDuplicateEventIgnored(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	svc := &Service{Cache: cache, ServiceName: "projector"}

	m := message(t, preorders.EventPreorderCreated, preorders.PreorderPayload{
		PreorderID: "p-1", Status: preorders.StatusPending, Version: 1,
	})
	if err := svc.HandleEvent(ctx, m); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	delete(cache.statuses, "p-1")
	if err := svc.HandleEvent(ctx, m); err != nil {
		t.Fatalf("HandleEvent redelivery: %v", err)
	}
	if _, ok := cache.statuses["p-1"]; ok {
		t.Error("Redelivered event should have been deduplicated")
	}
}

func TestDeleteEvictsStatus(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	cache.statuses["p-1"] = preorders.StatusView{ID: "p-1", Status: preorders.StatusPending, Version: 1}
	svc := &Service{Cache: cache, ServiceName: "projector"}

	m := message(t, preorders.EventPreorderDeleted, preorders.PreorderDeletedPayload{PreorderID: "p-1"})
	if err := svc.HandleEvent(ctx, m); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if _, ok := cache.statuses["p-1"]; ok {
		t.Error("Expected status to be evicted")
	}

	if err := svc.HandleEvent(ctx, kafkago.Message{Value: []byte("{")}); err == nil {
		t.Error("Expected decode error for malformed message")
	}
}

func TestLateEventAfterDeleteIgnored(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	svc := &Service{Cache: cache, ServiceName: "projector"}

	deleted := message(t, preorders.EventPreorderDeleted, preorders.PreorderDeletedPayload{PreorderID: "p-1"})
	created := message(t, preorders.EventPreorderCreated, preorders.PreorderPayload{
		PreorderID: "p-1", Status: preorders.StatusPending, Version: 1,
	})
	for _, m := range []kafkago.Message{deleted, created} {
		if err := svc.HandleEvent(ctx, m); err != nil {
			t.Fatalf("HandleEvent: %v", err)
		}
	}
	if got, ok := cache.statuses["p-1"]; ok {
		t.Errorf("Created event arriving after delete restored status %+v", got)
	}
}

func TestFailedEventRetriedOnRedelivery(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	cache.setErr = errors.New("redis down")
	svc := &Service{Cache: cache, ServiceName: "projector"}

	m := message(t, preorders.EventPreorderCreated, preorders.PreorderPayload{
		PreorderID: "p-1", Status: preorders.StatusPending, Version: 1,
	})
	if err := svc.HandleEvent(ctx, m); err == nil {
		t.Fatal("Expected error while the cache is down")
	}

	cache.setErr = nil
	if err := svc.HandleEvent(ctx, m); err != nil {
		t.Fatalf("HandleEvent redelivery: %v", err)
	}
	if got := cache.statuses["p-1"]; got.Status != preorders.StatusPending || got.Version != 1 {
		t.Errorf("Redelivered event was not projected, got %+v", got)
	}
}
