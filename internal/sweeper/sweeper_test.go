package sweeper_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/repo"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/service"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/sweeper"
)

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type stubNotifier struct {
	calls map[model.DeliveryKind]int
}

func newStubNotifier() *stubNotifier {
	return &stubNotifier{calls: make(map[model.DeliveryKind]int)}
}

func (s *stubNotifier) note(kind model.DeliveryKind) (int, error) {
	s.calls[kind]++
	return 0, nil
}

func (s *stubNotifier) NotifyNewEvent(context.Context, *model.Event) (int, error) {
	return s.note(model.DeliveryNewEvent)
}
func (s *stubNotifier) NotifyRegistrationStarted(context.Context, *model.Event) (int, error) {
	return s.note(model.DeliveryRegistrationStarted)
}
func (s *stubNotifier) NotifyRegistrationEndsSoon(context.Context, *model.Event) (int, error) {
	return s.note(model.DeliveryRegistrationEndsSoon)
}
func (s *stubNotifier) NotifyWaitlistInvites(context.Context, *model.Event) (int, error) {
	return s.note(model.DeliveryWaitlistInvite)
}
func (s *stubNotifier) NotifyConfirmations(context.Context, *model.Event) (int, error) {
	return s.note(model.DeliveryConfirmationRequest)
}
func (s *stubNotifier) NotifyEventReminder(context.Context, *model.Event) (int, error) {
	return s.note(model.DeliveryEventReminder)
}
func (s *stubNotifier) NotifyPassportReminder(context.Context, *model.Event) (int, error) {
	return s.note(model.DeliveryPassportReminder)
}

type sweepFixture struct {
	mem    *repo.Memory
	regs   *service.RegistrationService
	events *service.EventService
	stub   *stubNotifier
	sweep  *sweeper.Sweeper
	ctx    context.Context
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	mem := repo.NewMemory()
	log := zerolog.Nop()
	regs := service.NewRegistrationService(mem, &log, "v1")
	events := service.NewEventService(mem, &log)
	stub := newStubNotifier()
	return &sweepFixture{
		mem:    mem,
		regs:   regs,
		events: events,
		stub:   stub,
		sweep:  sweeper.New(sweeper.DefaultConfig(time.Minute), mem, regs, events, stub, &log),
		ctx:    context.Background(),
	}
}

func TestRunOnceQuietTickIsNoOp(t *testing.T) {
	f := newSweepFixture(t)
	require.NoError(t, f.sweep.RunOnce(f.ctx, baseTime))
	assert.Empty(t, f.stub.calls)
}

func TestRunOncePublishesScheduledDrafts(t *testing.T) {
	f := newSweepFixture(t)
	draft, err := f.events.CreateDraft(f.ctx, model.EventInput{
		Type:                model.EventTypeSolo,
		Title:               "Лекция",
		Location:            "Аудитория 113",
		RegistrationStartAt: baseTime.Add(time.Hour),
		RegistrationEndAt:   baseTime.Add(24 * time.Hour),
		StartAt:             baseTime.Add(48 * time.Hour),
		Capacity:            10,
	})
	require.NoError(t, err)
	_, err = f.events.SchedulePublish(f.ctx, draft.ID, baseTime.Add(-time.Minute))
	require.NoError(t, err)

	require.NoError(t, f.sweep.RunOnce(f.ctx, baseTime))

	published, err := f.events.Get(f.ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusPublished, published.Status)
	assert.Nil(t, published.PlannedPublishAt)
	assert.Equal(t, 1, f.stub.calls[model.DeliveryNewEvent])

	// Second tick finds nothing scheduled anymore.
	require.NoError(t, f.sweep.RunOnce(f.ctx, baseTime.Add(time.Minute)))
	assert.Equal(t, 1, f.stub.calls[model.DeliveryNewEvent])
}

func TestRunOnceExpiresInvites(t *testing.T) {
	f := newSweepFixture(t)
	event, err := f.events.CreateDraft(f.ctx, model.EventInput{
		Type:                model.EventTypeSolo,
		Title:               "Семинар",
		Location:            "Аудитория 5",
		RegistrationStartAt: baseTime.Add(-time.Hour),
		RegistrationEndAt:   baseTime.Add(24 * time.Hour),
		StartAt:             baseTime.Add(48 * time.Hour),
		Capacity:            1,
	})
	require.NoError(t, err)
	_, err = f.events.Publish(f.ctx, event.ID, baseTime.Add(-time.Hour))
	require.NoError(t, err)

	holderID := f.mem.SeedUser(model.User{Email: "a@example.com", IsReachable: true}).ID
	queuedID := f.mem.SeedUser(model.User{Email: "b@example.com", IsReachable: true}).ID

	in := model.RegistrationInput{CaptainOrSolo: model.PersonInput{LastName: "Иванов", FirstName: "Иван"}}
	holder, err := f.regs.CreateRegistration(f.ctx, holderID, event.ID, in, baseTime)
	require.NoError(t, err)
	queued, err := f.regs.CreateRegistration(f.ctx, queuedID, event.ID, in, baseTime.Add(time.Minute))
	require.NoError(t, err)

	cancelAt := baseTime.Add(time.Hour)
	_, err = f.regs.CancelRegistration(f.ctx, holderID, holder.ID, cancelAt)
	require.NoError(t, err)

	require.NoError(t, f.sweep.RunOnce(f.ctx, cancelAt.Add(service.WaitlistResponseTimeout)))

	expired, err := f.regs.GetRegistration(f.ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAutoDeclined, expired.Status)
}

func TestRunOncePostsWindowNoticesOnce(t *testing.T) {
	f := newSweepFixture(t)
	event, err := f.events.CreateDraft(f.ctx, model.EventInput{
		Type:                model.EventTypeSolo,
		Title:               "Турнир",
		Location:            "Спортзал",
		RegistrationStartAt: baseTime,
		RegistrationEndAt:   baseTime.Add(12 * time.Hour),
		StartAt:             baseTime.Add(14 * 24 * time.Hour),
		Capacity:            10,
	})
	require.NoError(t, err)
	_, err = f.events.Publish(f.ctx, event.ID, baseTime.Add(-time.Hour))
	require.NoError(t, err)

	require.NoError(t, f.sweep.RunOnce(f.ctx, baseTime))
	require.NoError(t, f.sweep.RunOnce(f.ctx, baseTime.Add(time.Minute)))
	assert.Equal(t, 1, f.stub.calls[model.DeliveryRegistrationStarted], "open notice posted once")
	assert.Zero(t, f.stub.calls[model.DeliveryRegistrationEndsSoon])

	closeSoon := baseTime.Add(12 * time.Hour).Add(-30 * time.Minute)
	require.NoError(t, f.sweep.RunOnce(f.ctx, closeSoon))
	require.NoError(t, f.sweep.RunOnce(f.ctx, closeSoon.Add(time.Minute)))
	assert.Equal(t, 1, f.stub.calls[model.DeliveryRegistrationEndsSoon], "close-soon notice posted once")
}
