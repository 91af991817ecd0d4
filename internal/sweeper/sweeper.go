// Package sweeper drives every time-based transition on a fixed cadence. The
// engine's sweep operations are idempotent, so a tick that finds nothing due
// is a no-op and a crashed tick is safely repeated on the next one.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/repo"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/service"
)

// Notifier is the slice of the notification pipeline the sweeper drives.
type Notifier interface {
	NotifyNewEvent(ctx context.Context, event *model.Event) (int, error)
	NotifyRegistrationStarted(ctx context.Context, event *model.Event) (int, error)
	NotifyRegistrationEndsSoon(ctx context.Context, event *model.Event) (int, error)
	NotifyWaitlistInvites(ctx context.Context, event *model.Event) (int, error)
	NotifyConfirmations(ctx context.Context, event *model.Event) (int, error)
	NotifyEventReminder(ctx context.Context, event *model.Event) (int, error)
	NotifyPassportReminder(ctx context.Context, event *model.Event) (int, error)
}

type Config struct {
	Interval time.Duration
	// Confirmation requests go out inside [start-RequestFrom, start-RequestTo].
	ConfirmationRequestFrom time.Duration
	ConfirmationRequestTo   time.Duration
	PassportReminderWindow  time.Duration
	EventReminderWindow     time.Duration
	RegistrationCloseSoon   time.Duration
}

func DefaultConfig(interval time.Duration) Config {
	return Config{
		Interval:                interval,
		ConfirmationRequestFrom: 24 * time.Hour,
		ConfirmationRequestTo:   12 * time.Hour,
		PassportReminderWindow:  4 * 24 * time.Hour,
		EventReminderWindow:     2 * time.Hour,
		RegistrationCloseSoon:   time.Hour,
	}
}

type Sweeper struct {
	cfg      Config
	repo     repo.Repository
	regs     *service.RegistrationService
	events   *service.EventService
	notifier Notifier
	log      *zerolog.Logger
}

func New(
	cfg Config,
	r repo.Repository,
	regs *service.RegistrationService,
	events *service.EventService,
	n Notifier,
	log *zerolog.Logger,
) *Sweeper {
	return &Sweeper{cfg: cfg, repo: r, regs: regs, events: events, notifier: n, log: log}
}

// Run ticks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.cfg.Interval).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx, time.Now().UTC()); err != nil {
				s.log.Error().Err(err).Msg("sweep tick failed")
			}
		}
	}
}

// RunOnce performs a single sweep with one consistent now.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) error {
	if _, err := s.regs.ExpireWaitlistInvites(ctx, now); err != nil {
		return err
	}
	if _, err := s.regs.ExpireConfirmations(ctx, now); err != nil {
		return err
	}
	if err := s.processScheduledPublications(ctx, now); err != nil {
		return err
	}

	var events []model.Event
	err := s.repo.View(ctx, func(st repo.Store) error {
		var err error
		events, err = st.ListPublishedUpcoming(ctx, now, 24*time.Hour)
		return err
	})
	if err != nil {
		return err
	}

	for i := range events {
		event := &events[i]
		if err := s.processEvent(ctx, event, now); err != nil {
			s.log.Error().Err(err).Int64("event_id", event.ID).Msg("event sweep failed")
		}
	}
	return nil
}

func (s *Sweeper) processScheduledPublications(ctx context.Context, now time.Time) error {
	var due []int64
	err := s.repo.View(ctx, func(st repo.Store) error {
		var err error
		due, err = st.ListDueScheduledPublications(ctx, now)
		return err
	})
	if err != nil {
		return err
	}
	for _, eventID := range due {
		event, err := s.events.Publish(ctx, eventID, now)
		if err != nil {
			s.log.Error().Err(err).Int64("event_id", eventID).Msg("scheduled publication failed")
			continue
		}
		if _, err := s.notifier.NotifyNewEvent(ctx, event); err != nil {
			s.log.Error().Err(err).Int64("event_id", eventID).Msg("new event notification failed")
		}
	}
	return nil
}

func (s *Sweeper) processEvent(ctx context.Context, event *model.Event, now time.Time) error {
	untilStart := event.StartAt.Sub(now)

	if untilStart <= s.cfg.ConfirmationRequestFrom && untilStart >= s.cfg.ConfirmationRequestTo {
		if _, err := s.regs.RequestConfirmationForEvent(ctx, event.ID, now); err != nil {
			return err
		}
		if _, err := s.notifier.NotifyConfirmations(ctx, event); err != nil {
			return err
		}
	}

	if untilStart > 0 && untilStart <= s.cfg.PassportReminderWindow {
		if _, err := s.notifier.NotifyPassportReminder(ctx, event); err != nil {
			return err
		}
	}

	if untilStart > 0 && untilStart <= s.cfg.EventReminderWindow {
		if _, err := s.notifier.NotifyEventReminder(ctx, event); err != nil {
			return err
		}
	}

	if err := s.processRegistrationWindow(ctx, event, now); err != nil {
		return err
	}

	// Pending invites may have appeared through any seat-freeing transition
	// since the last tick; the ledger keeps repeats silent.
	if _, err := s.notifier.NotifyWaitlistInvites(ctx, event); err != nil {
		return err
	}
	return nil
}

// processRegistrationWindow posts the open/close-soon notices once per event,
// tracked by bookkeeping timestamps on the event row.
func (s *Sweeper) processRegistrationWindow(ctx context.Context, event *model.Event, now time.Time) error {
	if event.RegistrationOpenNotifiedAt == nil && event.RegistrationOpen(now) {
		if _, err := s.notifier.NotifyRegistrationStarted(ctx, event); err != nil {
			return err
		}
		if err := s.stampEvent(ctx, event.ID, func(e *model.Event) {
			notifiedAt := now
			e.RegistrationOpenNotifiedAt = &notifiedAt
		}); err != nil {
			return err
		}
	}

	untilClose := event.RegistrationEndAt.Sub(now)
	if event.RegistrationCloseSoonNotifiedAt == nil && untilClose > 0 && untilClose <= s.cfg.RegistrationCloseSoon {
		if _, err := s.notifier.NotifyRegistrationEndsSoon(ctx, event); err != nil {
			return err
		}
		if err := s.stampEvent(ctx, event.ID, func(e *model.Event) {
			notifiedAt := now
			e.RegistrationCloseSoonNotifiedAt = &notifiedAt
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sweeper) stampEvent(ctx context.Context, eventID int64, mutate func(*model.Event)) error {
	return s.repo.WithinTx(ctx, func(st repo.Store) error {
		event, err := st.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		mutate(event)
		return st.UpdateEvent(ctx, event)
	})
}
