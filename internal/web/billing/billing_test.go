package billing

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxzi/flint/internal/web/db"
	"github.com/foxzi/flint/internal/web/models"
	"github.com/foxzi/flint/internal/web/repository"
)

type fixture struct {
	db        *sql.DB
	profiles  *repository.ProfileRepository
	campaigns *repository.CampaignRepository
	credits   *repository.CreditRepository
	user      *models.User
	periodEnd time.Time
}

func setup(t *testing.T, credits int) *fixture {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	f := &fixture{
		db:        database.DB,
		profiles:  repository.NewProfileRepository(database.DB),
		campaigns: repository.NewCampaignRepository(database.DB),
		credits:   repository.NewCreditRepository(database.DB),
		periodEnd: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
	}

	f.user = &models.User{Email: "owner@example.com", Name: "Owner"}
	if err := repository.NewUserRepository(f.db).Create(f.user); err != nil {
		t.Fatalf("Create user error = %v", err)
	}
	if err := f.profiles.Ensure(&models.Profile{
		UserID:           f.user.ID,
		TotalCredits:     credits,
		CurrentPeriodEnd: f.periodEnd,
	}); err != nil {
		t.Fatalf("Ensure profile error = %v", err)
	}
	return f
}

func (f *fixture) service(ledger Ledger) *Service {
	if ledger == nil {
		ledger = f.credits
	}
	return NewService(f.profiles, f.campaigns, ledger, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (f *fixture) publish(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		c := &models.Campaign{UserID: f.user.ID, Name: "Quiz"}
		if err := f.campaigns.Create(c); err != nil {
			t.Fatalf("Create campaign error = %v", err)
		}
		if err := f.campaigns.Publish(c.ID, c.ID[:8]); err != nil {
			t.Fatalf("Publish error = %v", err)
		}
	}
}

func (f *fixture) profile(t *testing.T) *models.Profile {
	t.Helper()
	p, err := f.profiles.Get(f.user.ID)
	if err != nil || p == nil {
		t.Fatalf("Get profile = %v, %v", p, err)
	}
	return p
}

func (f *fixture) ledger(t *testing.T) []models.CreditTransaction {
	t.Helper()
	txs, err := f.credits.List(f.user.ID, 0)
	if err != nil {
		t.Fatalf("List ledger error = %v", err)
	}
	return txs
}

func amount(n int) *int { return &n }

type failingLedger struct{ calls int }

func (l *failingLedger) Record(*models.CreditTransaction) error {
	l.calls++
	return errors.New("disk full")
}

func TestCancel(t *testing.T) {
	f := setup(t, 5)
	f.profiles.Save(&models.Profile{
		UserID:                f.user.ID,
		TotalCredits:          5,
		CurrentPeriodEnd:      f.periodEnd,
		DowngradeScheduledAt:  &f.periodEnd,
		ScheduledCreditAmount: amount(2),
	})

	res, err := f.service(nil).Change(context.Background(), f.user.ID, ChangeRequest{Action: ActionCancel})
	if err != nil {
		t.Fatalf("Change() error = %v", err)
	}
	if !res.CancellationScheduled || res.EffectiveImmediately {
		t.Errorf("result = %+v", res)
	}

	p := f.profile(t)
	if p.CancellationScheduledAt == nil || !p.CancellationScheduledAt.Equal(f.periodEnd) {
		t.Errorf("CancellationScheduledAt = %v, want %v", p.CancellationScheduledAt, f.periodEnd)
	}
	if p.DowngradeScheduledAt != nil || p.ScheduledCreditAmount != nil {
		t.Errorf("pending downgrade not cleared: %+v", p)
	}

	txs := f.ledger(t)
	if len(txs) != 1 || txs[0].Amount != 0 || txs[0].Type != models.TransactionSubscription {
		t.Errorf("ledger = %+v, want one zero-amount audit entry", txs)
	}
}

func TestReactivate(t *testing.T) {
	f := setup(t, 5)
	svc := f.service(nil)
	ctx := context.Background()

	if _, err := svc.Change(ctx, f.user.ID, ChangeRequest{Action: ActionCancel}); err != nil {
		t.Fatalf("cancel error = %v", err)
	}
	res, err := svc.Change(ctx, f.user.ID, ChangeRequest{Action: ActionReactivate})
	if err != nil {
		t.Fatalf("reactivate error = %v", err)
	}
	if res.CancellationScheduled {
		t.Errorf("result = %+v", res)
	}

	p := f.profile(t)
	if p.CancellationScheduledAt != nil || p.DowngradeScheduledAt != nil {
		t.Errorf("schedules not cleared: %+v", p)
	}
	if len(f.ledger(t)) != 2 {
		t.Errorf("ledger entries = %d, want 2", len(f.ledger(t)))
	}
}

func TestUpgrade(t *testing.T) {
	f := setup(t, 3)

	res, err := f.service(nil).Change(context.Background(), f.user.ID, ChangeRequest{
		Action:          ActionUpgrade,
		NewCreditAmount: amount(10),
	})
	if err != nil {
		t.Fatalf("Change() error = %v", err)
	}
	if res.CurrentTotalCredits != 10 || !res.EffectiveImmediately {
		t.Errorf("result = %+v", res)
	}

	if got := f.profile(t).TotalCredits; got != 10 {
		t.Errorf("TotalCredits = %d, want 10", got)
	}

	txs := f.ledger(t)
	if len(txs) != 1 || txs[0].Type != models.TransactionPurchase || txs[0].Amount != 7 {
		t.Errorf("ledger = %+v, want one purchase of 7", txs)
	}
}

func TestDowngradeSchedules(t *testing.T) {
	f := setup(t, 5)
	f.publish(t, 2)

	res, err := f.service(nil).Change(context.Background(), f.user.ID, ChangeRequest{
		Action:          ActionDowngrade,
		NewCreditAmount: amount(2),
	})
	if err != nil {
		t.Fatalf("Change() error = %v", err)
	}
	if res.EffectiveImmediately || res.CancellationScheduled {
		t.Errorf("result = %+v", res)
	}

	p := f.profile(t)
	if p.TotalCredits != 5 {
		t.Errorf("TotalCredits = %d, want 5 until the period ends", p.TotalCredits)
	}
	if p.DowngradeScheduledAt == nil || p.ScheduledCreditAmount == nil || *p.ScheduledCreditAmount != 2 {
		t.Errorf("downgrade not scheduled: %+v", p)
	}
}

func TestDowngradePublishedConflictLeavesProfile(t *testing.T) {
	f := setup(t, 5)
	f.publish(t, 3)
	before := f.profile(t)

	_, err := f.service(nil).Change(context.Background(), f.user.ID, ChangeRequest{
		Action:          ActionDowngrade,
		NewCreditAmount: amount(2),
	})
	if !errors.Is(err, ErrPublishedConflict) {
		t.Fatalf("Change() error = %v, want ErrPublishedConflict", err)
	}

	after := f.profile(t)
	if !after.UpdatedAt.Equal(before.UpdatedAt) || after.DowngradeScheduledAt != nil || after.TotalCredits != 5 {
		t.Errorf("profile mutated: before %+v after %+v", before, after)
	}
	if len(f.ledger(t)) != 0 {
		t.Errorf("ledger written on rejected change")
	}
}

func TestDowngradeToZeroEqualsCancel(t *testing.T) {
	cancelled := setup(t, 4)
	if _, err := cancelled.service(nil).Change(context.Background(), cancelled.user.ID, ChangeRequest{Action: ActionCancel}); err != nil {
		t.Fatalf("cancel error = %v", err)
	}

	downgraded := setup(t, 4)
	res, err := downgraded.service(nil).Change(context.Background(), downgraded.user.ID, ChangeRequest{
		Action:          ActionDowngrade,
		NewCreditAmount: amount(0),
	})
	if err != nil {
		t.Fatalf("downgrade error = %v", err)
	}
	if !res.CancellationScheduled {
		t.Errorf("result = %+v, want cancellation scheduled", res)
	}

	a, b := cancelled.profile(t), downgraded.profile(t)
	if b.CancellationScheduledAt == nil || !b.CancellationScheduledAt.Equal(*a.CancellationScheduledAt) {
		t.Errorf("CancellationScheduledAt = %v, want %v", b.CancellationScheduledAt, a.CancellationScheduledAt)
	}
	if b.DowngradeScheduledAt != nil || b.ScheduledCreditAmount != nil || b.TotalCredits != a.TotalCredits {
		t.Errorf("state differs from cancel: %+v vs %+v", b, a)
	}
}

func TestChangeValidation(t *testing.T) {
	f := setup(t, 5)
	svc := f.service(nil)

	tests := []struct {
		name string
		req  ChangeRequest
		want error
	}{
		{"unknown action", ChangeRequest{Action: "pause"}, ErrInvalidAction},
		{"upgrade without amount", ChangeRequest{Action: ActionUpgrade}, ErrInvalidAmount},
		{"upgrade not larger", ChangeRequest{Action: ActionUpgrade, NewCreditAmount: amount(5)}, ErrInvalidAmount},
		{"downgrade not smaller", ChangeRequest{Action: ActionDowngrade, NewCreditAmount: amount(5)}, ErrInvalidAmount},
		{"downgrade negative", ChangeRequest{Action: ActionDowngrade, NewCreditAmount: amount(-1)}, ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Change(context.Background(), f.user.ID, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("Change() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := svc.Change(context.Background(), "missing", ChangeRequest{Action: ActionCancel}); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Change() for unknown user error = %v, want ErrProfileNotFound", err)
	}
}

func TestLedgerFailureIsIgnored(t *testing.T) {
	f := setup(t, 5)
	ledger := &failingLedger{}

	if _, err := f.service(ledger).Change(context.Background(), f.user.ID, ChangeRequest{Action: ActionCancel}); err != nil {
		t.Fatalf("Change() error = %v, want nil", err)
	}
	if ledger.calls != 1 {
		t.Errorf("ledger calls = %d, want 1", ledger.calls)
	}
	if f.profile(t).CancellationScheduledAt == nil {
		t.Error("cancellation not saved")
	}
}

func TestApplyDue(t *testing.T) {
	f := setup(t, 5)
	svc := f.service(nil)
	ctx := context.Background()

	if _, err := svc.Change(ctx, f.user.ID, ChangeRequest{Action: ActionDowngrade, NewCreditAmount: amount(2)}); err != nil {
		t.Fatalf("downgrade error = %v", err)
	}

	svc.now = func() time.Time { return f.periodEnd.Add(-time.Hour) }
	if n, err := svc.ApplyDue(ctx); err != nil || n != 0 {
		t.Fatalf("ApplyDue() before period end = %d, %v", n, err)
	}

	svc.now = func() time.Time { return f.periodEnd.Add(time.Hour) }
	n, err := svc.ApplyDue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ApplyDue() = %d, %v, want 1", n, err)
	}

	p := f.profile(t)
	if p.TotalCredits != 2 || p.DowngradeScheduledAt != nil || p.ScheduledCreditAmount != nil {
		t.Errorf("downgrade not applied: %+v", p)
	}
	if !p.CurrentPeriodEnd.Equal(f.periodEnd.AddDate(0, 1, 0)) {
		t.Errorf("CurrentPeriodEnd = %v, want next month", p.CurrentPeriodEnd)
	}
}
