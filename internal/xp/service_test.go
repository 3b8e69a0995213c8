package xp

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"glossary/api/internal/store"
)

type fakeEventStore struct {
	events []store.XPEvent
}

func (f *fakeEventStore) InsertXPEvent(_ context.Context, event store.XPEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEventStore) ListXPEvents(_ context.Context, userID string, limit int) ([]store.XPEvent, error) {
	var out []store.XPEvent
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.events[i].UserID == userID {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

func (f *fakeEventStore) SumXP(_ context.Context, userID string) (int, error) {
	total := 0
	for _, event := range f.events {
		if event.UserID == userID {
			total += event.Amount
		}
	}
	return total, nil
}

func setupService(t *testing.T) (*Service, *fakeEventStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	events := &fakeEventStore{}
	return NewService(events, client), events, s
}

func TestAwardRecordsEventAndBalance(t *testing.T) {
	service, events, _ := setupService(t)
	ctx := context.Background()

	if err := service.Award(ctx, "usr_1", AmountTermApproved, ReasonTermApproved, "app_1"); err != nil {
		t.Fatalf("Award failed: %v", err)
	}
	if err := service.Award(ctx, "usr_1", AmountVoteCast, ReasonVoteCast, "app_2"); err != nil {
		t.Fatalf("Award failed: %v", err)
	}

	if len(events.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events.events))
	}

	balance, err := service.Balance(ctx, "usr_1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != AmountTermApproved+AmountVoteCast {
		t.Errorf("expected balance %d, got %d", AmountTermApproved+AmountVoteCast, balance)
	}
}

func TestBalanceRepopulatesCacheFromStore(t *testing.T) {
	service, events, redisServer := setupService(t)
	ctx := context.Background()

	events.events = append(events.events, store.XPEvent{UserID: "usr_2", Amount: 25, Reason: ReasonTermApproved})

	// Cache is cold, the balance must come from the event store.
	balance, err := service.Balance(ctx, "usr_2")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 25 {
		t.Errorf("expected balance 25, got %d", balance)
	}

	// And the counter is now warm.
	val, err := redisServer.Get("xp:usr_2")
	if err != nil {
		t.Fatalf("cached balance missing: %v", err)
	}
	if val != "25" {
		t.Errorf("expected cached balance 25, got %q", val)
	}
}

func TestBalanceWithoutRedis(t *testing.T) {
	events := &fakeEventStore{}
	service := NewService(events, nil)
	ctx := context.Background()

	if err := service.Award(ctx, "usr_3", 5, ReasonVoteCast, ""); err != nil {
		t.Fatalf("Award failed: %v", err)
	}
	balance, err := service.Balance(ctx, "usr_3")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 5 {
		t.Errorf("expected balance 5, got %d", balance)
	}
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	service, _, _ := setupService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := service.Award(ctx, "usr_4", 1, ReasonVoteCast, ""); err != nil {
			t.Fatalf("Award failed: %v", err)
		}
	}

	recent, err := service.Recent(ctx, "usr_4", 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("expected 2 events, got %d", len(recent))
	}
}
