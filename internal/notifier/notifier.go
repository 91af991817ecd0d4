// Package notifier decides whom to notify after engine transitions and hands
// the actual sending to the queue worker. The delivery ledger keeps every
// (user, event, kind) at most once end to end: the notifier skips ledger hits
// before publishing, and recording happens on the consuming side.
package notifier

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/dto"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/rabbit"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/repo"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/service"
)

type Notifier struct {
	repo   repo.Repository
	ledger *service.LedgerService
	rbt    *rabbit.Client
	log    *zerolog.Logger
}

func New(r repo.Repository, ledger *service.LedgerService, rbt *rabbit.Client, log *zerolog.Logger) *Notifier {
	return &Notifier{repo: r, ledger: ledger, rbt: rbt, log: log}
}

// NotifyNewEvent broadcasts the publication to every reachable user.
func (n *Notifier) NotifyNewEvent(ctx context.Context, event *model.Event) (int, error) {
	return n.broadcast(ctx, event, model.DeliveryNewEvent)
}

// NotifyRegistrationStarted announces an opened registration window.
func (n *Notifier) NotifyRegistrationStarted(ctx context.Context, event *model.Event) (int, error) {
	return n.broadcast(ctx, event, model.DeliveryRegistrationStarted)
}

// NotifyRegistrationEndsSoon warns one hour before the window closes.
func (n *Notifier) NotifyRegistrationEndsSoon(ctx context.Context, event *model.Event) (int, error) {
	return n.broadcast(ctx, event, model.DeliveryRegistrationEndsSoon)
}

func (n *Notifier) broadcast(ctx context.Context, event *model.Event, kind model.DeliveryKind) (int, error) {
	var users []model.User
	err := n.repo.View(ctx, func(st repo.Store) error {
		var err error
		users, err = st.ListReachableUsers(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, user := range users {
		ok, err := n.enqueue(ctx, user, event, kind)
		if err != nil {
			return sent, err
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

// NotifyWaitlistInvites messages everyone currently invited from the waitlist.
func (n *Notifier) NotifyWaitlistInvites(ctx context.Context, event *model.Event) (int, error) {
	return n.notifyByStatus(ctx, event, model.DeliveryWaitlistInvite,
		model.StatusInvitedFromWaitlist)
}

// NotifyEventReminder pings confirmed attendees shortly before start.
func (n *Notifier) NotifyEventReminder(ctx context.Context, event *model.Event) (int, error) {
	return n.notifyByStatus(ctx, event, model.DeliveryEventReminder,
		model.StatusConfirmed)
}

func (n *Notifier) notifyByStatus(
	ctx context.Context,
	event *model.Event,
	kind model.DeliveryKind,
	statuses ...model.RegistrationStatus,
) (int, error) {
	var regs []*model.Registration
	err := n.repo.View(ctx, func(st repo.Store) error {
		var err error
		regs, err = st.ListRegistrationsByEventAndStatus(ctx, event.ID, statuses...)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n.enqueueForRegistrations(ctx, event, kind, regs)
}

// NotifyConfirmations messages occupying registrations that carry an open
// confirmation request.
func (n *Notifier) NotifyConfirmations(ctx context.Context, event *model.Event) (int, error) {
	var regs []*model.Registration
	err := n.repo.View(ctx, func(st repo.Store) error {
		var err error
		regs, err = st.ListRegistrationsByEventAndStatus(ctx, event.ID,
			model.StatusRegistered, model.StatusInvitedFromWaitlist, model.StatusConfirmed)
		return err
	})
	if err != nil {
		return 0, err
	}
	requested := regs[:0]
	for _, reg := range regs {
		if reg.ConfirmationRequestedAt != nil {
			requested = append(requested, reg)
		}
	}
	return n.enqueueForRegistrations(ctx, event, model.DeliveryConfirmationRequest, requested)
}

// NotifyPassportReminder targets registrations with external members whose
// passport data gates physical access.
func (n *Notifier) NotifyPassportReminder(ctx context.Context, event *model.Event) (int, error) {
	var regs []*model.Registration
	err := n.repo.View(ctx, func(st repo.Store) error {
		var err error
		regs, err = st.ListRegistrationsByEventAndStatus(ctx, event.ID,
			model.StatusRegistered, model.StatusInvitedFromWaitlist, model.StatusConfirmed)
		return err
	})
	if err != nil {
		return 0, err
	}
	withExternal := regs[:0]
	for _, reg := range regs {
		if reg.HasExternalMembers {
			withExternal = append(withExternal, reg)
		}
	}
	return n.enqueueForRegistrations(ctx, event, model.DeliveryPassportReminder, withExternal)
}

func (n *Notifier) enqueueForRegistrations(
	ctx context.Context,
	event *model.Event,
	kind model.DeliveryKind,
	regs []*model.Registration,
) (int, error) {
	sent := 0
	for _, reg := range regs {
		var user *model.User
		err := n.repo.View(ctx, func(st repo.Store) error {
			var err error
			user, err = st.GetUser(ctx, reg.UserID)
			return err
		})
		if err != nil || !user.IsReachable {
			continue
		}
		ok, err := n.enqueue(ctx, *user, event, kind)
		if err != nil {
			return sent, err
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

// enqueue publishes one job unless the ledger already holds the triple.
func (n *Notifier) enqueue(ctx context.Context, user model.User, event *model.Event, kind model.DeliveryKind) (bool, error) {
	eventID := event.ID
	exists, err := n.ledger.Exists(ctx, user.ID, &eventID, kind)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	job := dto.NotificationJob{
		UserID:     user.ID,
		EventID:    &eventID,
		Kind:       kind,
		EventTitle: event.Title,
		Email:      user.Email,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	if err := n.rbt.Publish(payload, 0); err != nil {
		n.log.Error().Err(err).
			Int64("user_id", user.ID).
			Str("kind", string(kind)).
			Msg("failed to publish notification job")
		return false, err
	}
	return true, nil
}
