package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/repo"
)

// EventService owns the event catalog: drafts, publication and archiving.
// The registration engine only reads what this service writes.
type EventService struct {
	repo repo.Repository
	log  *zerolog.Logger
}

func NewEventService(r repo.Repository, log *zerolog.Logger) *EventService {
	return &EventService{repo: r, log: log}
}

func (s *EventService) CreateDraft(ctx context.Context, in model.EventInput) (*model.Event, error) {
	if err := validateEventInput(in); err != nil {
		return nil, err
	}
	event := &model.Event{
		Type:                in.Type,
		Status:              model.EventStatusDraft,
		Title:               in.Title,
		Description:         in.Description,
		Location:            in.Location,
		RegistrationStartAt: in.RegistrationStartAt,
		RegistrationEndAt:   in.RegistrationEndAt,
		StartAt:             in.StartAt,
		Capacity:            in.Capacity,
		TeamMinSize:         in.TeamMinSize,
		TeamMaxSize:         in.TeamMaxSize,
		PlannedPublishAt:    in.PlannedPublishAt,
	}
	err := s.repo.WithinTx(ctx, func(st repo.Store) error {
		_, err := st.InsertEvent(ctx, event)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("event_id", event.ID).Str("title", event.Title).Msg("event draft created")
	return event, nil
}

func (s *EventService) Get(ctx context.Context, id int64) (*model.Event, error) {
	var event *model.Event
	err := s.repo.View(ctx, func(st repo.Store) error {
		var err error
		event, err = st.GetEvent(ctx, id)
		if errors.Is(err, repo.ErrEventNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (s *EventService) List(ctx context.Context) ([]model.Event, error) {
	var events []model.Event
	err := s.repo.View(ctx, func(st repo.Store) error {
		var err error
		events, err = st.ListEvents(ctx)
		return err
	})
	return events, err
}

// Publish makes the event visible for registration. Publishing an already
// published event is a no-op.
func (s *EventService) Publish(ctx context.Context, id int64, now time.Time) (*model.Event, error) {
	var event *model.Event
	err := s.repo.WithinTx(ctx, func(st repo.Store) error {
		var err error
		event, err = st.GetEventForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, repo.ErrEventNotFound) {
				return ErrNotFound
			}
			return err
		}
		if event.Status == model.EventStatusPublished {
			return nil
		}
		if event.Status == model.EventStatusArchived {
			return validationError("archived event cannot be published")
		}

		event.Status = model.EventStatusPublished
		publishedAt := now
		event.PublishedAt = &publishedAt
		event.PlannedPublishAt = nil
		return st.UpdateEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("event_id", id).Msg("event published")
	return event, nil
}

func (s *EventService) Archive(ctx context.Context, id int64) (*model.Event, error) {
	var event *model.Event
	err := s.repo.WithinTx(ctx, func(st repo.Store) error {
		var err error
		event, err = st.GetEventForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, repo.ErrEventNotFound) {
				return ErrNotFound
			}
			return err
		}
		event.Status = model.EventStatusArchived
		return st.UpdateEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("event_id", id).Msg("event archived")
	return event, nil
}

// SchedulePublish queues a draft for automatic publication by the sweeper.
func (s *EventService) SchedulePublish(ctx context.Context, id int64, publishAt time.Time) (*model.Event, error) {
	var event *model.Event
	err := s.repo.WithinTx(ctx, func(st repo.Store) error {
		var err error
		event, err = st.GetEventForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, repo.ErrEventNotFound) {
				return ErrNotFound
			}
			return err
		}
		if event.Status != model.EventStatusDraft {
			return validationError("only draft events can be scheduled")
		}
		event.PlannedPublishAt = &publishAt
		return st.UpdateEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func validateEventInput(in model.EventInput) error {
	if in.Title == "" {
		return validationError("title is required")
	}
	if in.Type != model.EventTypeSolo && in.Type != model.EventTypeTeam {
		return validationError("unknown event type %q", in.Type)
	}
	if !in.RegistrationStartAt.Before(in.RegistrationEndAt) {
		return validationError("registration start must be before end")
	}
	if in.RegistrationEndAt.After(in.StartAt) {
		return validationError("registration must end before event start")
	}
	if in.Capacity <= 0 {
		return validationError("capacity must be positive")
	}

	if in.Type == model.EventTypeTeam {
		if in.TeamMinSize == nil || in.TeamMaxSize == nil {
			return validationError("team min/max size is required for team events")
		}
		if *in.TeamMinSize <= 0 || *in.TeamMaxSize <= 0 {
			return validationError("team min/max must be positive")
		}
		if *in.TeamMinSize > *in.TeamMaxSize {
			return validationError("team min size cannot exceed max")
		}
	} else if in.TeamMinSize != nil || in.TeamMaxSize != nil {
		return validationError("solo event cannot have team min/max")
	}
	return nil
}
