// Package xp tracks contributor experience points. Postgres holds the
// authoritative event log; a Redis counter serves fast balance reads.
package xp

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/redis/go-redis/v9"

	"glossary/api/internal/store"
)

// Award amounts per event kind.
const (
	AmountTermApproved = 10
	AmountVoteCast     = 1
)

const (
	ReasonTermApproved = "term_approved"
	ReasonVoteCast     = "vote_cast"
)

// EventStore is the Postgres side of the XP ledger.
type EventStore interface {
	InsertXPEvent(ctx context.Context, event store.XPEvent) error
	ListXPEvents(ctx context.Context, userID string, limit int) ([]store.XPEvent, error)
	SumXP(ctx context.Context, userID string) (int, error)
}

// Service awards and reports experience points.
type Service struct {
	events EventStore
	redis  *redis.Client // optional cache, may be nil
}

// NewService creates an XP service. redisClient may be nil, in which case
// balances are computed from Postgres on every read.
func NewService(events EventStore, redisClient *redis.Client) *Service {
	return &Service{events: events, redis: redisClient}
}

func balanceKey(userID string) string {
	return "xp:" + userID
}

// Award records an XP event and bumps the cached balance. The Postgres
// insert is authoritative; a Redis failure only degrades reads.
func (s *Service) Award(ctx context.Context, userID string, amount int, reason, applicationID string) error {
	if err := s.events.InsertXPEvent(ctx, store.XPEvent{
		UserID:        userID,
		Amount:        amount,
		Reason:        reason,
		ApplicationID: applicationID,
	}); err != nil {
		return fmt.Errorf("record xp event: %w", err)
	}

	if s.redis != nil {
		if err := s.redis.IncrBy(ctx, balanceKey(userID), int64(amount)).Err(); err != nil {
			log.Printf("xp: increment cached balance for %s: %v", userID, err)
		}
	}
	return nil
}

// Balance returns the user's total XP, preferring the Redis counter and
// repopulating it from Postgres on a miss.
func (s *Service) Balance(ctx context.Context, userID string) (int, error) {
	if s.redis != nil {
		val, err := s.redis.Get(ctx, balanceKey(userID)).Result()
		if err == nil {
			if n, convErr := strconv.Atoi(val); convErr == nil {
				return n, nil
			}
		} else if err != redis.Nil {
			log.Printf("xp: read cached balance for %s: %v", userID, err)
		}
	}

	total, err := s.events.SumXP(ctx, userID)
	if err != nil {
		return 0, err
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, balanceKey(userID), total, 0).Err(); err != nil {
			log.Printf("xp: cache balance for %s: %v", userID, err)
		}
	}
	return total, nil
}

// Recent returns the user's most recent XP events.
func (s *Service) Recent(ctx context.Context, userID string, limit int) ([]store.XPEvent, error) {
	return s.events.ListXPEvents(ctx, userID, limit)
}
