// Package billing applies subscription changes to user profiles.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/flint/internal/metrics"
	"github.com/foxzi/flint/internal/web/models"
)

type Action string

const (
	ActionCancel     Action = "cancel"
	ActionReactivate Action = "reactivate"
	ActionUpgrade    Action = "upgrade"
	ActionDowngrade  Action = "downgrade"
)

var (
	ErrInvalidAction     = errors.New("invalid action")
	ErrInvalidAmount     = errors.New("invalid credit amount")
	ErrPublishedConflict = errors.New("too many published campaigns for the requested credit amount")
	ErrProfileNotFound   = errors.New("profile not found")
)

// ChangeRequest is the body of a subscription change.
type ChangeRequest struct {
	Action          Action `json:"action"`
	NewCreditAmount *int   `json:"new_credit_amount,omitempty"`
}

// ChangeResult describes the state after a successful change.
type ChangeResult struct {
	Action                Action `json:"action"`
	CurrentTotalCredits   int    `json:"current_total_credits"`
	NewCreditAmount       *int   `json:"new_credit_amount,omitempty"`
	CancellationScheduled bool   `json:"cancellation_scheduled"`
	EffectiveImmediately  bool   `json:"effective_immediately"`
	Message               string `json:"-"`
}

type Profiles interface {
	Get(userID string) (*models.Profile, error)
	Save(p *models.Profile) error
	DueSchedules(t time.Time) ([]models.Profile, error)
}

type Campaigns interface {
	CountPublished(userID string) (int, error)
}

type Ledger interface {
	Record(t *models.CreditTransaction) error
}

type Service struct {
	profiles  Profiles
	campaigns Campaigns
	ledger    Ledger
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(profiles Profiles, campaigns Campaigns, ledger Ledger, logger *slog.Logger) *Service {
	return &Service{
		profiles:  profiles,
		campaigns: campaigns,
		ledger:    ledger,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Change applies one subscription action for userID. Validation failures
// leave the profile untouched.
func (s *Service) Change(ctx context.Context, userID string, req ChangeRequest) (*ChangeResult, error) {
	switch req.Action {
	case ActionCancel, ActionReactivate, ActionUpgrade, ActionDowngrade:
	default:
		return nil, ErrInvalidAction
	}

	profile, err := s.profiles.Get(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		return nil, ErrProfileNotFound
	}

	before := profile.TotalCredits

	var result *ChangeResult
	switch req.Action {
	case ActionCancel:
		result = s.cancel(profile)
	case ActionReactivate:
		result = s.reactivate(profile)
	case ActionUpgrade:
		result, err = s.upgrade(profile, req.NewCreditAmount)
	case ActionDowngrade:
		result, err = s.downgrade(profile, req.NewCreditAmount)
	}
	if err != nil {
		return nil, err
	}
	result.Action = req.Action
	result.CurrentTotalCredits = profile.TotalCredits

	if err := s.profiles.Save(profile); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	if req.Action == ActionUpgrade {
		s.record(ctx, userID, profile.TotalCredits-before, models.TransactionPurchase, result.Message)
	} else {
		s.record(ctx, userID, 0, models.TransactionSubscription, result.Message)
	}

	metrics.IncSubscriptionChanges(string(req.Action))
	s.logger.Info("subscription changed",
		"user_id", userID,
		"action", req.Action,
		"credits", profile.TotalCredits,
	)
	return result, nil
}

func (s *Service) cancel(p *models.Profile) *ChangeResult {
	at := p.CurrentPeriodEnd
	p.CancellationScheduledAt = &at
	p.DowngradeScheduledAt = nil
	p.ScheduledCreditAmount = nil

	return &ChangeResult{
		CancellationScheduled: true,
		Message:               fmt.Sprintf("Subscription will be cancelled on %s", at.Format("2006-01-02")),
	}
}

func (s *Service) reactivate(p *models.Profile) *ChangeResult {
	p.CancellationScheduledAt = nil
	p.DowngradeScheduledAt = nil
	p.ScheduledCreditAmount = nil

	return &ChangeResult{
		EffectiveImmediately: true,
		Message:              "Subscription reactivated",
	}
}

func (s *Service) upgrade(p *models.Profile, amount *int) (*ChangeResult, error) {
	if amount == nil || *amount <= p.TotalCredits {
		return nil, fmt.Errorf("%w: upgrade requires more than %d credits", ErrInvalidAmount, p.TotalCredits)
	}

	p.TotalCredits = *amount
	p.CancellationScheduledAt = nil
	p.DowngradeScheduledAt = nil
	p.ScheduledCreditAmount = nil

	target := *amount
	return &ChangeResult{
		NewCreditAmount:      &target,
		EffectiveImmediately: true,
		Message:              fmt.Sprintf("Upgraded to %d credits", target),
	}, nil
}

func (s *Service) downgrade(p *models.Profile, amount *int) (*ChangeResult, error) {
	if amount == nil || *amount < 0 || *amount >= p.TotalCredits {
		return nil, fmt.Errorf("%w: downgrade requires between 0 and %d credits", ErrInvalidAmount, p.TotalCredits-1)
	}

	published, err := s.campaigns.CountPublished(p.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to count published campaigns: %w", err)
	}
	if published > *amount {
		return nil, fmt.Errorf("%w: %d published, %d requested", ErrPublishedConflict, published, *amount)
	}

	if *amount == 0 {
		return s.cancel(p), nil
	}

	at := p.CurrentPeriodEnd
	target := *amount
	p.CancellationScheduledAt = nil
	p.DowngradeScheduledAt = &at
	p.ScheduledCreditAmount = &target

	return &ChangeResult{
		NewCreditAmount: &target,
		Message:         fmt.Sprintf("Downgrade to %d credits scheduled for %s", target, at.Format("2006-01-02")),
	}, nil
}

// record writes a ledger entry. Failures are logged only: the profile change
// has already been saved.
func (s *Service) record(ctx context.Context, userID string, amount int, typ models.TransactionType, description string) {
	err := s.ledger.Record(&models.CreditTransaction{
		UserID:      userID,
		Amount:      amount,
		Type:        typ,
		Description: description,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record credit transaction",
			"user_id", userID,
			"type", typ,
			"error", err,
		)
	}
}

// ApplyDue applies cancellations and downgrades whose date has passed.
func (s *Service) ApplyDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.profiles.DueSchedules(now)
	if err != nil {
		return 0, fmt.Errorf("failed to list due schedules: %w", err)
	}

	applied := 0
	for i := range due {
		p := &due[i]
		previous := p.TotalCredits

		var description string
		switch {
		case p.CancellationScheduledAt != nil && !p.CancellationScheduledAt.After(now):
			p.TotalCredits = 0
			description = "Scheduled cancellation applied"
		case p.DowngradeScheduledAt != nil && p.ScheduledCreditAmount != nil:
			p.TotalCredits = *p.ScheduledCreditAmount
			p.CurrentPeriodEnd = p.CurrentPeriodEnd.AddDate(0, 1, 0)
			description = fmt.Sprintf("Scheduled downgrade to %d credits applied", p.TotalCredits)
		default:
			continue
		}
		p.CancellationScheduledAt = nil
		p.DowngradeScheduledAt = nil
		p.ScheduledCreditAmount = nil

		if err := s.profiles.Save(p); err != nil {
			s.logger.ErrorContext(ctx, "failed to apply schedule", "user_id", p.UserID, "error", err)
			continue
		}
		s.record(ctx, p.UserID, p.TotalCredits-previous, models.TransactionRenewal, description)
		applied++
	}
	return applied, nil
}
