package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/repo"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/service"
)

func validDraftInput() model.EventInput {
	return model.EventInput{
		Type:                model.EventTypeSolo,
		Title:               "Открытая лекция",
		Location:            "Аудитория 113",
		RegistrationStartAt: baseTime,
		RegistrationEndAt:   baseTime.Add(24 * time.Hour),
		StartAt:             baseTime.Add(48 * time.Hour),
		Capacity:            30,
	}
}

func TestCreateDraftValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.events.CreateDraft(f.ctx, validDraftInput())
	require.NoError(t, err)

	bad := validDraftInput()
	bad.Title = ""
	_, err = f.events.CreateDraft(f.ctx, bad)
	assert.ErrorIs(t, err, service.ErrValidation)

	bad = validDraftInput()
	bad.Capacity = 0
	_, err = f.events.CreateDraft(f.ctx, bad)
	assert.ErrorIs(t, err, service.ErrValidation)

	bad = validDraftInput()
	bad.RegistrationEndAt = bad.RegistrationStartAt.Add(-time.Hour)
	_, err = f.events.CreateDraft(f.ctx, bad)
	assert.ErrorIs(t, err, service.ErrValidation)

	bad = validDraftInput()
	bad.RegistrationEndAt = bad.StartAt.Add(time.Hour)
	_, err = f.events.CreateDraft(f.ctx, bad)
	assert.ErrorIs(t, err, service.ErrValidation)

	minSize := 2
	bad = validDraftInput()
	bad.TeamMinSize = &minSize
	_, err = f.events.CreateDraft(f.ctx, bad)
	assert.ErrorIs(t, err, service.ErrValidation, "solo event cannot carry team bounds")
}

func TestPublishIsIdempotent(t *testing.T) {
	f := newFixture(t)
	draft, err := f.events.CreateDraft(f.ctx, validDraftInput())
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusDraft, draft.Status)

	publishAt := baseTime.Add(-time.Hour)
	published, err := f.events.Publish(f.ctx, draft.ID, publishAt)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)
	assert.Equal(t, publishAt, *published.PublishedAt)

	again, err := f.events.Publish(f.ctx, draft.ID, publishAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, publishAt, *again.PublishedAt, "repeat publish must not restamp")
}

func TestPublishArchivedRejected(t *testing.T) {
	f := newFixture(t)
	draft, err := f.events.CreateDraft(f.ctx, validDraftInput())
	require.NoError(t, err)

	_, err = f.events.Archive(f.ctx, draft.ID)
	require.NoError(t, err)

	_, err = f.events.Publish(f.ctx, draft.ID, baseTime)
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestSchedulePublish(t *testing.T) {
	f := newFixture(t)
	draft, err := f.events.CreateDraft(f.ctx, validDraftInput())
	require.NoError(t, err)

	publishAt := baseTime.Add(-2 * time.Hour)
	scheduled, err := f.events.SchedulePublish(f.ctx, draft.ID, publishAt)
	require.NoError(t, err)
	require.NotNil(t, scheduled.PlannedPublishAt)
	assert.Equal(t, publishAt, *scheduled.PlannedPublishAt)

	// The sweeper consumes the schedule through this listing.
	err = f.mem.View(f.ctx, func(st repo.Store) error {
		due, err := st.ListDueScheduledPublications(f.ctx, publishAt)
		require.NoError(t, err)
		assert.Equal(t, []int64{draft.ID}, due)

		due, err = st.ListDueScheduledPublications(f.ctx, publishAt.Add(-time.Minute))
		require.NoError(t, err)
		assert.Empty(t, due)
		return nil
	})
	require.NoError(t, err)

	// Publication clears the schedule so it cannot fire twice.
	published, err := f.events.Publish(f.ctx, draft.ID, publishAt)
	require.NoError(t, err)
	assert.Nil(t, published.PlannedPublishAt)

	_, err = f.events.SchedulePublish(f.ctx, draft.ID, publishAt)
	assert.ErrorIs(t, err, service.ErrValidation, "only drafts can be scheduled")
}

func TestEventNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.events.Get(f.ctx, 99)
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.events.Publish(f.ctx, 99, baseTime)
	assert.ErrorIs(t, err, service.ErrNotFound)
}
