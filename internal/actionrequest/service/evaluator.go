package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/smallbiznis/memberledger/internal/actionrequest/domain"
	programdomain "github.com/smallbiznis/memberledger/internal/program/domain"
)

// evaluation is the outcome of the cooldown and daily limit checks for one
// submission. Reason is user-facing when Allowed is false.
type evaluation struct {
	Allowed bool
	Reason  string
}

// evaluateLimits checks the policy's cooldown and daily limit against the
// customer's prior requests. Both windows key on (business, customer, action
// type) so a customer cannot dodge a cooldown by resubmitting against a
// sibling program.
func (s *Service) evaluateLimits(ctx context.Context, businessID, customerID string, actionType domain.ActionType, policy programdomain.ActionPolicy) (evaluation, error) {
	now := s.clock.Now()

	if policy.CooldownMinutes > 0 {
		window := time.Duration(policy.CooldownMinutes) * time.Minute
		last, err := s.repo.MostRecentSince(ctx, s.db, businessID, customerID, actionType, now.Add(-window))
		if err != nil {
			return evaluation{}, err
		}
		if last != nil {
			remaining := window - now.Sub(last.CreatedAt)
			minutes := int(math.Ceil(remaining.Minutes()))
			if minutes < 1 {
				minutes = 1
			}
			return evaluation{
				Reason: fmt.Sprintf("Cooldown active. Try again in %d minutes.", minutes),
			}, nil
		}
	}

	if policy.MaxPerDay > 0 {
		startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		count, err := s.repo.CountSince(ctx, s.db, businessID, customerID, actionType, startOfDay)
		if err != nil {
			return evaluation{}, err
		}
		if count >= int64(policy.MaxPerDay) {
			return evaluation{
				Reason: fmt.Sprintf("Daily limit reached (%d per day).", policy.MaxPerDay),
			}, nil
		}
	}

	return evaluation{Allowed: true}, nil
}
