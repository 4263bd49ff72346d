package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/foxzi/flint/internal/events"
	"github.com/foxzi/flint/internal/flow"
	"github.com/foxzi/flint/internal/metrics"
	"github.com/foxzi/flint/internal/notify"
	"github.com/foxzi/flint/internal/vars"
	"github.com/foxzi/flint/internal/web/models"
)

const notifyTimeout = time.Minute

// runLogic executes logic sections until the current section is something
// the visitor must see. A failed call never stops the run.
func (s *Service) runLogic(ctx context.Context, r *run) error {
	for {
		cur, ok := r.ctrl.Current()
		if !ok || cur.Type != models.SectionLogic {
			return nil
		}

		v, err := s.variables(ctx, r)
		if err != nil {
			return err
		}

		advanced := false
		runner, err := flow.NewLogicRunner(cur, flow.LogicOptions{
			Completer:     s.deps.Completer,
			Files:         s.deps.Files,
			Cache:         s.deps.Cache,
			Scope:         r.scope(),
			FailOpenDelay: s.cfg.FailOpenDelay,
			Logger:        s.logger,
			OnComplete: func(flow.LogicOutcome) {
				advanced = r.ctrl.Next(nil) == nil
			},
		})
		if err != nil {
			s.logicFailed(r, cur, err)
			metrics.ObserveAILogic("failed", 0)
			if err := r.ctrl.Next(nil); err != nil {
				return err
			}
			continue
		}

		start := time.Now()
		outcome := runner.Run(ctx, v)
		elapsed := time.Since(start).Seconds()

		switch {
		case outcome.Skipped:
			metrics.ObserveAILogic("skipped", elapsed)
		case outcome.Err != nil:
			s.logicFailed(r, cur, outcome.Err)
			metrics.ObserveAILogic("failed", elapsed)
		default:
			delete(r.sess.LogicErrors, cur.ID)
			metrics.ObserveAILogic("success", elapsed)
		}

		if !advanced {
			return nil
		}
	}
}

func (s *Service) logicFailed(r *run, sec models.Section, err error) {
	s.logger.Warn("logic section failed",
		"campaign_id", r.campaign.ID,
		"session_id", r.sess.ID,
		"section_id", sec.ID,
		"error", err,
	)
	if r.sess.LogicErrors == nil {
		r.sess.LogicErrors = make(map[string]string)
	}
	r.sess.LogicErrors[sec.ID] = err.Error()
}

// persistAnswer writes the lead side of an accepted answer. A capture
// section creates the lead and backfills answers given before it.
func (s *Service) persistAnswer(ctx context.Context, r *run, sec models.Section, value any) error {
	if value == nil {
		return nil
	}

	if sec.Type == models.SectionCapture {
		if err := s.captureLead(ctx, r, value); err != nil {
			return err
		}
	}

	if r.sess.LeadID != "" && flow.IsQuestion(sec.Type) {
		if err := s.deps.Leads.UpsertResponse(r.sess.LeadID, sec.ID, sec.Type, value); err != nil {
			return s.keepLead(ctx, r, fmt.Errorf("failed to store response: %w", err))
		}
	}
	return nil
}

// captureLead creates the session's lead on first capture and updates it
// afterwards. Earlier answers are written on every capture; the upsert makes
// a repeated backfill harmless.
func (s *Service) captureLead(ctx context.Context, r *run, value any) error {
	email, name, phone := contact(value)
	lead := &models.Lead{ID: r.sess.LeadID, CampaignID: r.campaign.ID, Email: email, Name: name, Phone: phone}

	if r.sess.LeadID != "" {
		if err := s.deps.Leads.Update(lead); err != nil {
			return fmt.Errorf("failed to update lead: %w", err)
		}
	} else {
		if err := s.deps.Leads.Create(lead); err != nil {
			return err
		}
		r.sess.LeadID = lead.ID

		if err := s.deps.Usage.IncrementLeadUsage(r.campaign.UserID); err != nil {
			s.logger.Warn("failed to count lead usage", "user_id", r.campaign.UserID, "error", err)
		}
		metrics.IncLeadsCaptured()
		s.emit(ctx, events.Event{
			Type:       events.LeadCaptured,
			CampaignID: r.campaign.ID,
			LeadID:     lead.ID,
			Data:       map[string]any{"email": email},
		})
	}

	for _, earlier := range r.sections {
		if earlier.Type == models.SectionCapture || !flow.IsQuestion(earlier.Type) {
			continue
		}
		if v, ok := r.sess.State.Responses[earlier.ID]; ok && v != nil {
			if err := s.deps.Leads.UpsertResponse(lead.ID, earlier.ID, earlier.Type, v); err != nil {
				return s.keepLead(ctx, r, fmt.Errorf("failed to store response: %w", err))
			}
		}
	}
	return nil
}

// keepLead saves the lead id onto the stored session when the rest of the
// step fails, so a retry updates the same lead instead of creating another.
// The stored navigation state is left as it was. cause is returned.
func (s *Service) keepLead(ctx context.Context, r *run, cause error) error {
	stored, err := s.sessions.get(ctx, r.sess.ID)
	if err == nil && stored.LeadID != r.sess.LeadID {
		stored.LeadID = r.sess.LeadID
		err = s.sessions.put(ctx, stored)
	}
	if err != nil {
		s.logger.Error("failed to keep lead on session", "session_id", r.sess.ID, "lead_id", r.sess.LeadID, "error", err)
	}
	return cause
}

// finish runs once when a session completes. Without a captured lead there
// is nothing to record.
func (s *Service) finish(ctx context.Context, r *run) {
	if r.sess.LeadID == "" {
		s.logger.Info("session completed without lead", "session_id", r.sess.ID)
		return
	}

	if err := s.deps.Leads.MarkComplete(r.sess.LeadID); err != nil {
		s.logger.Error("failed to mark lead complete", "lead_id", r.sess.LeadID, "error", err)
	}
	metrics.IncLeadsCompleted()

	outputs, err := s.results(ctx, r)
	if err != nil {
		s.logger.Warn("failed to load results for completion", "session_id", r.sess.ID, "error", err)
	}
	s.emit(ctx, events.Event{
		Type:       events.LeadCompleted,
		CampaignID: r.campaign.ID,
		LeadID:     r.sess.LeadID,
		Data:       map[string]any{"outputs": outputs},
	})

	notice, ok := s.notice(r, outputs)
	if !ok {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()

		if err := s.deps.Notifier.NotifyLead(nctx, notice); err != nil {
			s.logger.Warn("failed to notify campaign owner",
				"campaign_id", r.campaign.ID,
				"lead_id", r.sess.LeadID,
				"error", err,
			)
			metrics.IncNotifications("failed")
			return
		}
		metrics.IncNotifications("sent")
	}()
}

func (s *Service) notice(r *run, outputs map[string]string) (notify.LeadNotice, bool) {
	if s.deps.Users == nil {
		return notify.LeadNotice{}, false
	}
	owner, err := s.deps.Users.GetByID(r.campaign.UserID)
	if err != nil || owner == nil {
		s.logger.Warn("campaign owner not found", "user_id", r.campaign.UserID, "error", err)
		return notify.LeadNotice{}, false
	}

	n := notify.LeadNotice{
		OwnerEmail:   owner.Email,
		CampaignName: r.campaign.Name,
		CompletedAt:  time.Now().UTC(),
		Outputs:      outputs,
	}
	if s.cfg.BaseURL != "" {
		n.DashboardURL = s.cfg.BaseURL + "/campaigns/" + r.campaign.ID + "/leads"
	}

	for i, sec := range r.sections {
		value, ok := r.sess.State.Responses[sec.ID]
		if !ok || value == nil || !flow.IsQuestion(sec.Type) {
			continue
		}
		if sec.Type == models.SectionCapture {
			n.LeadEmail, n.LeadName, n.LeadPhone = contact(value)
			continue
		}
		question := sec.Title
		if question == "" {
			question = vars.DeriveName(sec.Title, i)
		}
		n.Answers = append(n.Answers, notify.Answer{Question: question, Value: vars.FormatValue(value)})
	}
	return n, true
}

func (s *Service) emit(ctx context.Context, ev events.Event) {
	if s.deps.Events == nil {
		return
	}
	metrics.IncEvents(ev.Type)
	s.deps.Events.Emit(ctx, ev)
}

func contact(value any) (email, name, phone string) {
	m, _ := value.(map[string]any)
	email, _ = m["email"].(string)
	name, _ = m["name"].(string)
	phone, _ = m["phone"].(string)
	return email, name, phone
}
