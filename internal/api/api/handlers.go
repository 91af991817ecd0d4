package api

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/dto"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/export"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/notifier"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/service"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/pkg/validator"
)

type Handlers struct {
	events   *service.EventService
	regs     *service.RegistrationService
	notifier *notifier.Notifier
	admins   map[int64]struct{}
	log      *zerolog.Logger
}

func NewHandlers(
	events *service.EventService,
	regs *service.RegistrationService,
	n *notifier.Notifier,
	adminIDs []int64,
	log *zerolog.Logger,
) *Handlers {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Handlers{events: events, regs: regs, notifier: n, admins: admins, log: log}
}

func (h *Handlers) CreateEvent(c *ginext.Context) {
	var req dto.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(c, dto.FieldBadFormat, "Invalid JSON body")
		return
	}
	if err := validator.Validate(c.Request.Context(), req); err != nil {
		dto.BadResponseError(c, dto.FieldIncorrect, err.Error())
		return
	}

	event, err := h.events.CreateDraft(c.Request.Context(), model.EventInput{
		Type:                req.Type,
		Title:               req.Title,
		Description:         req.Description,
		Location:            req.Location,
		RegistrationStartAt: req.RegistrationStartAt,
		RegistrationEndAt:   req.RegistrationEndAt,
		StartAt:             req.StartAt,
		Capacity:            req.Capacity,
		TeamMinSize:         req.TeamMinSize,
		TeamMaxSize:         req.TeamMaxSize,
		PlannedPublishAt:    req.PlannedPublishAt,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	dto.SuccessCreatedResponse(c, event)
}

func (h *Handlers) PublishEvent(c *ginext.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	event, err := h.events.Publish(c.Request.Context(), id, time.Now().UTC())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if _, err := h.notifier.NotifyNewEvent(c.Request.Context(), event); err != nil {
		h.log.Error().Err(err).Int64("event_id", id).Msg("new event notification failed")
	}
	dto.SuccessResponse(c, event)
}

func (h *Handlers) SchedulePublish(c *ginext.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.SchedulePublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(c, dto.FieldBadFormat, "Invalid JSON body")
		return
	}
	if err := validator.Validate(c.Request.Context(), req); err != nil {
		dto.BadResponseError(c, dto.FieldIncorrect, err.Error())
		return
	}
	event, err := h.events.SchedulePublish(c.Request.Context(), id, req.PublishAt)
	if err != nil {
		h.respondError(c, err)
		return
	}
	dto.SuccessResponse(c, event)
}

func (h *Handlers) ArchiveEvent(c *ginext.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	event, err := h.events.Archive(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	dto.SuccessResponse(c, event)
}

func (h *Handlers) ListEvents(c *ginext.Context) {
	events, err := h.events.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	dto.SuccessResponse(c, events)
}

func (h *Handlers) GetEvent(c *ginext.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	event, err := h.events.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	counters, err := h.regs.StatusCounters(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	occupied := 0
	countersOut := make(map[string]int, len(counters))
	for status, n := range counters {
		countersOut[string(status)] = n
		if status.Occupying() {
			occupied += n
		}
	}
	available := event.Capacity - occupied
	if available < 0 {
		available = 0
	}

	resp := dto.EventInfoResponse{
		ID:                  event.ID,
		Type:                event.Type,
		Status:              event.Status,
		Title:               event.Title,
		Description:         event.Description,
		Location:            event.Location,
		RegistrationStartAt: event.RegistrationStartAt,
		RegistrationEndAt:   event.RegistrationEndAt,
		StartAt:             event.StartAt,
		Capacity:            event.Capacity,
		AvailableSeats:      available,
		Counters:            countersOut,
	}

	if h.isAdmin(c) {
		regs, err := h.regs.ListByEvent(c.Request.Context(), id)
		if err != nil {
			h.respondError(c, err)
			return
		}
		resp.Registrations = make([]dto.RegistrationResponse, 0, len(regs))
		for _, reg := range regs {
			resp.Registrations = append(resp.Registrations, dto.NewRegistrationResponse(reg))
		}
	}
	dto.SuccessResponse(c, resp)
}

func (h *Handlers) ExportEvent(c *ginext.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if _, err := h.events.Get(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	regs, err := h.regs.ListByEvent(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	onlyConfirmed := c.Query("all") == ""
	data, err := export.CSV(regs, onlyConfirmed)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="event_%d.csv"`, id))
	c.Data(200, "text/csv; charset=utf-8", data)
}

func (h *Handlers) ListWaitlist(c *ginext.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	regs, err := h.regs.ListWaitlist(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]dto.RegistrationResponse, 0, len(regs))
	for _, reg := range regs {
		out = append(out, dto.NewRegistrationResponse(reg))
	}
	dto.SuccessResponse(c, out)
}

func (h *Handlers) CreateRegistration(c *ginext.Context) {
	eventID, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.CreateRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(c, dto.FieldBadFormat, "Invalid JSON body")
		return
	}
	if err := validator.Validate(c.Request.Context(), req); err != nil {
		dto.BadResponseError(c, dto.FieldIncorrect, err.Error())
		return
	}

	reg, err := h.regs.CreateRegistration(c.Request.Context(), req.UserID, eventID, req.Input, time.Now().UTC())
	if err != nil {
		h.respondError(c, err)
		return
	}
	dto.SuccessCreatedResponse(c, dto.NewRegistrationResponse(reg))
}

func (h *Handlers) CancelRegistration(c *ginext.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.CancelRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(c, dto.FieldBadFormat, "Invalid JSON body")
		return
	}
	reg, err := h.regs.CancelRegistration(c.Request.Context(), req.UserID, id, time.Now().UTC())
	if err != nil {
		h.respondRegError(c, err)
		return
	}
	dto.SuccessResponse(c, dto.NewRegistrationResponse(reg))
}

func (h *Handlers) RespondWaitlist(c *ginext.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.WaitlistResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(c, dto.FieldBadFormat, "Invalid JSON body")
		return
	}
	if !h.ownsRegistration(c, id, req.UserID) {
		return
	}
	reg, err := h.regs.RespondWaitlistInvite(c.Request.Context(), id, req.Accepted, time.Now().UTC())
	if err != nil {
		h.respondRegError(c, err)
		return
	}
	dto.SuccessResponse(c, dto.NewRegistrationResponse(reg))
}

func (h *Handlers) RespondConfirmation(c *ginext.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.ConfirmationResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(c, dto.FieldBadFormat, "Invalid JSON body")
		return
	}
	if !h.ownsRegistration(c, id, req.UserID) {
		return
	}
	reg, err := h.regs.RespondConfirmation(c.Request.Context(), id, req.Going, time.Now().UTC())
	if err != nil {
		h.respondRegError(c, err)
		return
	}
	dto.SuccessResponse(c, dto.NewRegistrationResponse(reg))
}

func (h *Handlers) GetRegistration(c *ginext.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	reg, err := h.regs.GetRegistration(c.Request.Context(), id)
	if err != nil {
		h.respondRegError(c, err)
		return
	}
	dto.SuccessResponse(c, dto.NewRegistrationResponse(reg))
}

func (h *Handlers) ListUserRegistrations(c *ginext.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	regs, err := h.regs.ListByUser(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]dto.RegistrationResponse, 0, len(regs))
	for _, reg := range regs {
		out = append(out, dto.NewRegistrationResponse(reg))
	}
	dto.SuccessResponse(c, out)
}

// ownsRegistration rejects responses submitted on someone else's registration.
func (h *Handlers) ownsRegistration(c *ginext.Context, registrationID, userID int64) bool {
	reg, err := h.regs.GetRegistration(c.Request.Context(), registrationID)
	if err != nil {
		h.respondRegError(c, err)
		return false
	}
	if reg.UserID != userID {
		dto.ForbiddenError(c, "Registration belongs to another user")
		return false
	}
	return true
}

func (h *Handlers) isAdmin(c *ginext.Context) bool {
	raw := c.GetHeader("X-Admin-ID")
	if raw == "" {
		return false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	_, ok := h.admins[id]
	return ok
}

func (h *Handlers) respondError(c *ginext.Context, err error) {
	h.respondErrorCode(c, err, dto.EventNotFound, "Event not found")
}

func (h *Handlers) respondRegError(c *ginext.Context, err error) {
	h.respondErrorCode(c, err, dto.RegistrationNotFound, "Registration not found")
}

func (h *Handlers) respondErrorCode(c *ginext.Context, err error, notFoundCode, notFoundDesc string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		dto.NotFoundError(c, notFoundCode, notFoundDesc)
	case errors.Is(err, service.ErrPermissionDenied):
		dto.ForbiddenError(c, "Operation not permitted")
	case errors.Is(err, service.ErrValidation):
		dto.BadResponseError(c, dto.ValidationFailed, err.Error())
	default:
		h.log.Error().Err(err).Msg("request failed")
		dto.InternalServerError(c)
	}
}

func pathID(c *ginext.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		dto.BadResponseError(c, dto.FieldBadFormat, "Invalid id")
		return 0, false
	}
	return id, true
}
