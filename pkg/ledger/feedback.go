package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/typed"
)

// AddFeedback stores a feedback message for a market. Rating is 0 (none) or 1-5.
func (s *Service) AddFeedback(ctx context.Context, market, message string, rating int) (core.Feedback, error) {
	if err := core.ValidateMarket(market); err != nil {
		return core.Feedback{}, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return core.Feedback{}, fmt.Errorf("feedback message cannot be empty")
	}
	if rating < 0 || rating > 5 {
		return core.Feedback{}, fmt.Errorf("rating must be between 1 and 5")
	}

	f := core.Feedback{
		ID:        s.newID(),
		MarketID:  market,
		Message:   message,
		Rating:    rating,
		CreatedAt: s.now().UTC(),
	}
	if err := s.feedback(market).Upsert(ctx, f); err != nil {
		return core.Feedback{}, err
	}
	return f, nil
}

// ListFeedback returns the feedback of a market in insertion order.
func (s *Service) ListFeedback(ctx context.Context, market string) ([]core.Feedback, error) {
	if err := core.ValidateMarket(market); err != nil {
		return nil, err
	}
	return s.feedback(market).Load(ctx)
}

func (s *Service) feedback(market string) *typed.Collection[core.Feedback] {
	key := core.FeedbackKey(market)
	return typed.NewCollection[core.Feedback](s.store, key,
		typed.WithLogger(s.logger),
		typed.WithLock(s.lock(key)),
	)
}
