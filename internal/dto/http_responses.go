package dto

import (
	"time"

	"github.com/wb-go/wbf/ginext"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	EventNotFound        = "EVENT_NOT_FOUND"
	RegistrationNotFound = "REGISTRATION_NOT_FOUND"
	PermissionDenied     = "PERMISSION_DENIED"
	ValidationFailed     = "VALIDATION_FAILED"
)

type CreateEventRequest struct {
	Type                model.EventType `json:"type" validate:"required"`
	Title               string          `json:"title" validate:"required,max=255"`
	Description         string          `json:"description"`
	Location            string          `json:"location" validate:"required,max=255"`
	RegistrationStartAt time.Time       `json:"registration_start_at" validate:"required"`
	RegistrationEndAt   time.Time       `json:"registration_end_at" validate:"required"`
	StartAt             time.Time       `json:"start_at" validate:"required,future"`
	Capacity            int             `json:"capacity" validate:"positive"`
	TeamMinSize         *int            `json:"team_min_size,omitempty"`
	TeamMaxSize         *int            `json:"team_max_size,omitempty"`
	PlannedPublishAt    *time.Time      `json:"planned_publish_at,omitempty"`
}

type SchedulePublishRequest struct {
	PublishAt time.Time `json:"publish_at" validate:"required,future"`
}

type CreateRegistrationRequest struct {
	UserID int64                   `json:"user_id" validate:"positive"`
	Input  model.RegistrationInput `json:"input" validate:"required"`
}

type CancelRegistrationRequest struct {
	UserID int64 `json:"user_id" validate:"positive"`
}

type WaitlistResponseRequest struct {
	UserID   int64 `json:"user_id" validate:"positive"`
	Accepted bool  `json:"accepted"`
}

type ConfirmationResponseRequest struct {
	UserID int64 `json:"user_id" validate:"positive"`
	Going  bool  `json:"going"`
}

type RegistrationResponse struct {
	ID                    int64                    `json:"id"`
	EventID               int64                    `json:"event_id"`
	UserID                int64                    `json:"user_id"`
	Status                model.RegistrationStatus `json:"status"`
	TeamName              *string                  `json:"team_name,omitempty"`
	TeamSize              *int                     `json:"team_size,omitempty"`
	WaitlistExpiresAt     *time.Time               `json:"waitlist_expires_at,omitempty"`
	ConfirmationExpiresAt *time.Time               `json:"confirmation_expires_at,omitempty"`
	CreatedAt             time.Time                `json:"created_at"`
}

func NewRegistrationResponse(r *model.Registration) RegistrationResponse {
	return RegistrationResponse{
		ID:                    r.ID,
		EventID:               r.EventID,
		UserID:                r.UserID,
		Status:                r.Status,
		TeamName:              r.TeamName,
		TeamSize:              r.TeamSize,
		WaitlistExpiresAt:     r.WaitlistExpiresAt,
		ConfirmationExpiresAt: r.ConfirmationExpiresAt,
		CreatedAt:             r.CreatedAt,
	}
}

type EventInfoResponse struct {
	ID                  int64                  `json:"id"`
	Type                model.EventType        `json:"type"`
	Status              model.EventStatus      `json:"status"`
	Title               string                 `json:"title"`
	Description         string                 `json:"description,omitempty"`
	Location            string                 `json:"location"`
	RegistrationStartAt time.Time              `json:"registration_start_at"`
	RegistrationEndAt   time.Time              `json:"registration_end_at"`
	StartAt             time.Time              `json:"start_at"`
	Capacity            int                    `json:"capacity"`
	AvailableSeats      int                    `json:"available_seats"`
	Counters            map[string]int         `json:"counters,omitempty"`
	Registrations       []RegistrationResponse `json:"registrations,omitempty"`
}

// NotificationJob is the message the notifier publishes and the worker
// consumes; PayloadRef keeps the ledger row traceable to the job.
type NotificationJob struct {
	UserID     int64              `json:"user_id"`
	EventID    *int64             `json:"event_id,omitempty"`
	Kind       model.DeliveryKind `json:"kind"`
	EventTitle string             `json:"event_title"`
	Email      string             `json:"email"`
	PayloadRef *string            `json:"payload_ref,omitempty"`
}

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func BadResponseError(c *ginext.Context, code, desc string) {
	c.JSON(400, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func InternalServerError(c *ginext.Context) {
	c.JSON(500, Response{
		Status: "error",
		Error: &Error{
			Code: ServiceUnavailable,
			Desc: InternalError,
		},
	})
}

func NotFoundError(c *ginext.Context, code, desc string) {
	c.JSON(404, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func ForbiddenError(c *ginext.Context, desc string) {
	c.JSON(403, Response{
		Status: "error",
		Error: &Error{
			Code: PermissionDenied,
			Desc: desc,
		},
	})
}

func EventNotFoundError(c *ginext.Context) {
	NotFoundError(c, EventNotFound, "Event not found")
}

func RegistrationNotFoundError(c *ginext.Context) {
	NotFoundError(c, RegistrationNotFound, "Registration not found")
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(200, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(201, Response{
		Status: "ok",
		Data:   data,
	})
}
