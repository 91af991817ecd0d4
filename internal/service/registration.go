// Package service holds the registration lifecycle engine: seat allocation,
// waitlist promotion, the pre-event confirmation workflow and the event
// catalog. Every entry point takes an explicit now so time-driven behaviour
// is replayable in tests; nothing here reads the wall clock.
package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/repo"
)

const (
	// WaitlistResponseTimeout is how long an invited user has to claim the seat.
	WaitlistResponseTimeout = 12 * time.Hour
	// ConfirmationResponseTimeout is how long a confirmation request stays open.
	ConfirmationResponseTimeout = 12 * time.Hour
)

type RegistrationService struct {
	repo           repo.Repository
	log            *zerolog.Logger
	consentVersion string
}

func NewRegistrationService(r repo.Repository, log *zerolog.Logger, consentVersion string) *RegistrationService {
	return &RegistrationService{repo: r, log: log, consentVersion: consentVersion}
}

// CreateRegistration validates the intake payload and allocates either a seat
// or a waitlist slot. The whole read-compute-write sequence runs with the
// event row locked, so the occupancy count it acts on cannot move underneath.
func (s *RegistrationService) CreateRegistration(
	ctx context.Context,
	userID, eventID int64,
	in model.RegistrationInput,
	now time.Time,
) (*model.Registration, error) {
	var created *model.Registration
	err := s.repo.WithinTx(ctx, func(st repo.Store) error {
		event, err := st.GetEventForUpdate(ctx, eventID)
		if err != nil {
			if errors.Is(err, repo.ErrEventNotFound) {
				return ErrNotFound
			}
			return err
		}

		if err := validateEventWindow(event, now); err != nil {
			return err
		}
		existing, err := st.ActiveRegistrationForUserEvent(ctx, userID, eventID)
		if err != nil {
			return err
		}
		if existing != nil {
			return validationError("you already have an active registration for this event")
		}
		if err := validatePayload(event, &in); err != nil {
			return err
		}

		occupied, err := st.OccupiedCount(ctx, eventID)
		if err != nil {
			return err
		}
		status := model.StatusRegistered
		if occupied >= event.Capacity {
			status = model.StatusWaitlist
		}

		hasExternal := in.HasExternal()
		reg := &model.Registration{
			EventID:            eventID,
			UserID:             userID,
			Status:             status,
			TeamName:           in.TeamName,
			TeamSize:           in.TeamSize,
			HasExternalMembers: hasExternal,
		}
		if in.Consent && hasExternal {
			consentAt := now
			reg.ConsentAt = &consentAt
			version := s.consentVersion
			if in.ConsentVersion != nil {
				version = *in.ConsentVersion
			}
			reg.ConsentVersion = &version
		}

		lead := model.RoleSolo
		if event.Type == model.EventTypeTeam {
			lead = model.RoleCaptain
		}
		reg.People = append(reg.People, makePerson(lead, in.CaptainOrSolo))
		for _, member := range in.ExternalMembers {
			reg.People = append(reg.People, makePerson(model.RoleExternalMember, member))
		}

		if _, err := st.InsertRegistration(ctx, reg); err != nil {
			return err
		}
		// Convenience side effect: remember the lead person's profile for
		// future auto-fill.
		if err := st.UpsertUserProfile(ctx, userID, in.CaptainOrSolo); err != nil {
			return err
		}
		created = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Int64("registration_id", created.ID).
		Int64("event_id", eventID).
		Int64("user_id", userID).
		Str("status", string(created.Status)).
		Msg("registration created")
	return created, nil
}

// CancelRegistration is idempotent: cancelling an already-cancelled
// registration returns it unchanged. Any occupying status counts as
// seat-freeing, so promotion runs whenever the event has not started yet.
func (s *RegistrationService) CancelRegistration(
	ctx context.Context,
	userID, registrationID int64,
	now time.Time,
) (*model.Registration, error) {
	var out *model.Registration
	err := s.repo.WithinTx(ctx, func(st repo.Store) error {
		reg, err := st.GetRegistrationForUpdate(ctx, registrationID)
		if err != nil {
			if errors.Is(err, repo.ErrRegistrationNotFound) {
				return ErrNotFound
			}
			return err
		}
		if reg.UserID != userID {
			return ErrPermissionDenied
		}
		if reg.Status == model.StatusCancelledByUser {
			out = reg
			return nil
		}
		if !model.CanTransition(reg.Status, model.StatusCancelledByUser) {
			return validationError("registration cannot be cancelled from status %s", reg.Status)
		}

		reg.Status = model.StatusCancelledByUser
		cancelledAt := now
		reg.CancelledAt = &cancelledAt
		if err := st.UpdateRegistration(ctx, reg); err != nil {
			return err
		}

		event, err := st.GetEventForUpdate(ctx, reg.EventID)
		if err != nil {
			return err
		}
		if !event.Started(now) {
			if _, err := s.promoteLocked(ctx, st, event, now); err != nil {
				return err
			}
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("registration_id", registrationID).Msg("registration cancelled")
	return out, nil
}

// PromoteWaitlist fills free seats from the waitlist head, FIFO.
func (s *RegistrationService) PromoteWaitlist(ctx context.Context, eventID int64, now time.Time) ([]*model.Registration, error) {
	var invited []*model.Registration
	err := s.repo.WithinTx(ctx, func(st repo.Store) error {
		event, err := st.GetEventForUpdate(ctx, eventID)
		if err != nil {
			if errors.Is(err, repo.ErrEventNotFound) {
				return ErrNotFound
			}
			return err
		}
		invited, err = s.promoteLocked(ctx, st, event, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return invited, nil
}

// promoteLocked runs under the caller's event lock. The occupancy counter is
// tracked locally: the lock guarantees no other writer can change it while
// the loop runs, so re-reading per iteration would buy nothing.
func (s *RegistrationService) promoteLocked(
	ctx context.Context,
	st repo.Store,
	event *model.Event,
	now time.Time,
) ([]*model.Registration, error) {
	occupied, err := st.OccupiedCount(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	var invited []*model.Registration
	for occupied < event.Capacity {
		candidate, err := st.FirstWaitlisted(ctx, event.ID)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			break
		}
		candidate.Status = model.StatusInvitedFromWaitlist
		invitedAt := now
		expiresAt := now.Add(WaitlistResponseTimeout)
		candidate.WaitlistInvitedAt = &invitedAt
		candidate.WaitlistExpiresAt = &expiresAt
		if err := st.UpdateRegistration(ctx, candidate); err != nil {
			return nil, err
		}
		invited = append(invited, candidate)
		occupied++
	}

	if len(invited) > 0 {
		s.log.Info().
			Int64("event_id", event.ID).
			Int("invited", len(invited)).
			Msg("waitlist promoted")
	}
	return invited, nil
}

// RespondWaitlistInvite settles an invite. Acceptance keeps the seat that was
// already reserved for the invite; a decline frees it and re-triggers
// promotion while the event has not started.
func (s *RegistrationService) RespondWaitlistInvite(
	ctx context.Context,
	registrationID int64,
	accepted bool,
	now time.Time,
) (*model.Registration, error) {
	var out *model.Registration
	err := s.repo.WithinTx(ctx, func(st repo.Store) error {
		reg, err := st.GetRegistrationForUpdate(ctx, registrationID)
		if err != nil {
			if errors.Is(err, repo.ErrRegistrationNotFound) {
				return ErrNotFound
			}
			return err
		}
		if reg.Status != model.StatusInvitedFromWaitlist {
			return validationError("registration is not waiting for a waitlist response")
		}

		reg.WaitlistExpiresAt = nil
		if accepted {
			reg.Status = model.StatusRegistered
			if err := st.UpdateRegistration(ctx, reg); err != nil {
				return err
			}
			out = reg
			return nil
		}

		reg.Status = model.StatusDeclined
		if err := st.UpdateRegistration(ctx, reg); err != nil {
			return err
		}
		event, err := st.GetEventForUpdate(ctx, reg.EventID)
		if err != nil {
			return err
		}
		if !event.Started(now) {
			if _, err := s.promoteLocked(ctx, st, event, now); err != nil {
				return err
			}
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Int64("registration_id", registrationID).
		Bool("accepted", accepted).
		Msg("waitlist invite answered")
	return out, nil
}

// ExpireWaitlistInvites auto-declines invites whose response window has
// passed and promotes once per affected event. Safe to re-run with the same
// now: nothing remains due after the first pass.
func (s *RegistrationService) ExpireWaitlistInvites(ctx context.Context, now time.Time) ([]int64, error) {
	var processed []int64
	err := s.repo.WithinTx(ctx, func(st repo.Store) error {
		due, err := st.DueWaitlistTimeouts(ctx, now)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		affected := make(map[int64]struct{})
		for _, reg := range due {
			reg.Status = model.StatusAutoDeclined
			reg.WaitlistExpiresAt = nil
			if err := st.UpdateRegistration(ctx, reg); err != nil {
				return err
			}
			processed = append(processed, reg.ID)
			affected[reg.EventID] = struct{}{}
		}

		return s.promoteAffected(ctx, st, affected, now)
	})
	if err != nil {
		return nil, err
	}
	if len(processed) > 0 {
		s.log.Info().Ints64("registration_ids", processed).Msg("waitlist invites expired")
	}
	return processed, nil
}

// promoteAffected promotes once per event, not once per expired registration.
// Events are locked in ascending id order to keep concurrent sweeps from
// deadlocking against each other.
func (s *RegistrationService) promoteAffected(
	ctx context.Context,
	st repo.Store,
	affected map[int64]struct{},
	now time.Time,
) error {
	eventIDs := make([]int64, 0, len(affected))
	for id := range affected {
		eventIDs = append(eventIDs, id)
	}
	sort.Slice(eventIDs, func(i, j int) bool { return eventIDs[i] < eventIDs[j] })

	for _, eventID := range eventIDs {
		event, err := st.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if event.Started(now) {
			continue
		}
		if _, err := s.promoteLocked(ctx, st, event, now); err != nil {
			return err
		}
	}
	return nil
}

// RequestConfirmationForEvent stamps a confirmation request on every occupying
// registration that has never been asked. Re-running is a no-op for rows that
// already carry a request.
func (s *RegistrationService) RequestConfirmationForEvent(
	ctx context.Context,
	eventID int64,
	now time.Time,
) ([]*model.Registration, error) {
	var requested []*model.Registration
	err := s.repo.WithinTx(ctx, func(st repo.Store) error {
		if _, err := st.GetEventForUpdate(ctx, eventID); err != nil {
			if errors.Is(err, repo.ErrEventNotFound) {
				return ErrNotFound
			}
			return err
		}
		regs, err := st.NeedsConfirmation(ctx, eventID)
		if err != nil {
			return err
		}
		for _, reg := range regs {
			requestedAt := now
			expiresAt := now.Add(ConfirmationResponseTimeout)
			reg.ConfirmationRequestedAt = &requestedAt
			reg.ConfirmationExpiresAt = &expiresAt
			if err := st.UpdateRegistration(ctx, reg); err != nil {
				return err
			}
		}
		requested = regs
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(requested) > 0 {
		s.log.Info().
			Int64("event_id", eventID).
			Int("requested", len(requested)).
			Msg("confirmations requested")
	}
	return requested, nil
}

// RespondConfirmation settles a confirmation request. Declining frees the
// seat and re-triggers promotion while the event has not started.
func (s *RegistrationService) RespondConfirmation(
	ctx context.Context,
	registrationID int64,
	going bool,
	now time.Time,
) (*model.Registration, error) {
	var out *model.Registration
	err := s.repo.WithinTx(ctx, func(st repo.Store) error {
		reg, err := st.GetRegistrationForUpdate(ctx, registrationID)
		if err != nil {
			if errors.Is(err, repo.ErrRegistrationNotFound) {
				return ErrNotFound
			}
			return err
		}
		if reg.ConfirmationRequestedAt == nil {
			return validationError("confirmation has not been requested")
		}
		if !reg.Status.Occupying() {
			return validationError("registration is not eligible for confirmation")
		}

		reg.ConfirmationExpiresAt = nil
		if going {
			reg.Status = model.StatusConfirmed
			if err := st.UpdateRegistration(ctx, reg); err != nil {
				return err
			}
			out = reg
			return nil
		}

		reg.Status = model.StatusDeclined
		if err := st.UpdateRegistration(ctx, reg); err != nil {
			return err
		}
		event, err := st.GetEventForUpdate(ctx, reg.EventID)
		if err != nil {
			return err
		}
		if !event.Started(now) {
			if _, err := s.promoteLocked(ctx, st, event, now); err != nil {
				return err
			}
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Int64("registration_id", registrationID).
		Bool("going", going).
		Msg("confirmation answered")
	return out, nil
}

// ExpireConfirmations mirrors ExpireWaitlistInvites for the confirmation
// workflow. Idempotent under repeated calls with the same now.
func (s *RegistrationService) ExpireConfirmations(ctx context.Context, now time.Time) ([]int64, error) {
	var processed []int64
	err := s.repo.WithinTx(ctx, func(st repo.Store) error {
		due, err := st.DueConfirmationTimeouts(ctx, now)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		affected := make(map[int64]struct{})
		for _, reg := range due {
			reg.Status = model.StatusAutoDeclined
			reg.ConfirmationExpiresAt = nil
			if err := st.UpdateRegistration(ctx, reg); err != nil {
				return err
			}
			processed = append(processed, reg.ID)
			affected[reg.EventID] = struct{}{}
		}

		return s.promoteAffected(ctx, st, affected, now)
	})
	if err != nil {
		return nil, err
	}
	if len(processed) > 0 {
		s.log.Info().Ints64("registration_ids", processed).Msg("confirmations expired")
	}
	return processed, nil
}

// GetRegistration returns a single registration with its people attached.
func (s *RegistrationService) GetRegistration(ctx context.Context, id int64) (*model.Registration, error) {
	var reg *model.Registration
	err := s.repo.View(ctx, func(st repo.Store) error {
		var err error
		reg, err = st.GetRegistration(ctx, id)
		if errors.Is(err, repo.ErrRegistrationNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// ListByUser returns the user's registration history, newest first.
func (s *RegistrationService) ListByUser(ctx context.Context, userID int64) ([]*model.Registration, error) {
	var regs []*model.Registration
	err := s.repo.View(ctx, func(st repo.Store) error {
		var err error
		regs, err = st.ListRegistrationsByUser(ctx, userID)
		return err
	})
	return regs, err
}

// ListByEvent returns every registration of an event for admin views and
// organizer exports.
func (s *RegistrationService) ListByEvent(ctx context.Context, eventID int64) ([]*model.Registration, error) {
	var regs []*model.Registration
	err := s.repo.View(ctx, func(st repo.Store) error {
		var err error
		regs, err = st.ListRegistrationsByEvent(ctx, eventID)
		return err
	})
	return regs, err
}

// ListWaitlist returns the pending queue for an event in promotion order.
func (s *RegistrationService) ListWaitlist(ctx context.Context, eventID int64) ([]*model.Registration, error) {
	var regs []*model.Registration
	err := s.repo.View(ctx, func(st repo.Store) error {
		var err error
		regs, err = st.ListRegistrationsByEventAndStatus(ctx, eventID, model.StatusWaitlist)
		return err
	})
	return regs, err
}

// StatusCounters aggregates an event's registrations by status for admin views.
func (s *RegistrationService) StatusCounters(ctx context.Context, eventID int64) (map[model.RegistrationStatus]int, error) {
	counters := make(map[model.RegistrationStatus]int)
	err := s.repo.View(ctx, func(st repo.Store) error {
		regs, err := st.ListRegistrationsByEvent(ctx, eventID)
		if err != nil {
			return err
		}
		for _, reg := range regs {
			counters[reg.Status]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counters, nil
}

func validateEventWindow(event *model.Event, now time.Time) error {
	if event.Status != model.EventStatusPublished {
		return validationError("event is not published")
	}
	if !event.RegistrationOpen(now) {
		return validationError("registration window is closed")
	}
	return nil
}

func validatePayload(event *model.Event, in *model.RegistrationInput) error {
	if event.Type == model.EventTypeSolo {
		if in.TeamName != nil || in.TeamSize != nil {
			return validationError("solo registration cannot include team fields")
		}
		if len(in.ExternalMembers) > 0 {
			return validationError("solo registration cannot include team members")
		}
	}

	if event.Type == model.EventTypeTeam {
		if in.TeamName == nil || *in.TeamName == "" {
			return validationError("team name is required")
		}
		if in.TeamSize == nil {
			return validationError("team size is required")
		}
		if event.TeamMinSize != nil && *in.TeamSize < *event.TeamMinSize {
			return validationError("team size is below minimum")
		}
		if event.TeamMaxSize != nil && *in.TeamSize > *event.TeamMaxSize {
			return validationError("team size exceeds maximum")
		}
	}

	if in.HasExternal() && !in.Consent {
		return validationError("consent is required for passport processing")
	}

	people := append([]model.PersonInput{in.CaptainOrSolo}, in.ExternalMembers...)
	for _, person := range people {
		if person.IsExternal && person.Passport == nil {
			return validationError("passport data is required for an external person")
		}
	}
	return nil
}

func makePerson(role model.PersonRole, in model.PersonInput) model.RegistrationPerson {
	p := model.RegistrationPerson{
		Role:       role,
		LastName:   in.LastName,
		FirstName:  in.FirstName,
		MiddleName: in.MiddleName,
		Contact:    in.Contact,
		GroupName:  in.GroupName,
		IsExternal: in.IsExternal,
	}
	if pp := in.Passport; pp != nil {
		p.PassportSeries = &pp.Series
		p.PassportNumber = &pp.Number
		p.PassportIssuedBy = &pp.IssuedBy
		p.PassportDivisionCode = &pp.DivisionCode
		issueDate := pp.IssueDate
		birthDate := pp.BirthDate
		p.PassportIssueDate = &issueDate
		p.BirthDate = &birthDate
		p.BirthPlace = &pp.BirthPlace
		p.RegistrationAddress = &pp.RegistrationAddress
	}
	return p
}
