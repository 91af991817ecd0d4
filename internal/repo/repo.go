package repo

import (
	"context"
	"errors"
	"time"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
)

var (
	ErrEventNotFound        = errors.New("event not found")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrUserNotFound         = errors.New("user not found")
)

// Repository runs units of work. Every engine mutation that reads occupancy
// and writes back must happen inside a single WithinTx call; the Store handed
// to fn provides the row-locking reads that make the read-compute-write
// sequence safe against concurrent writers.
type Repository interface {
	WithinTx(ctx context.Context, fn func(s Store) error) error

	// View runs read-only queries outside any lock.
	View(ctx context.Context, fn func(s Store) error) error
}

// Store is the query surface available inside a unit of work.
type Store interface {
	// Events.
	InsertEvent(ctx context.Context, e *model.Event) (int64, error)
	GetEvent(ctx context.Context, id int64) (*model.Event, error)
	// GetEventForUpdate locks the event row until the transaction ends.
	// Callers locking several events must do so in ascending id order.
	GetEventForUpdate(ctx context.Context, id int64) (*model.Event, error)
	UpdateEvent(ctx context.Context, e *model.Event) error
	ListEvents(ctx context.Context) ([]model.Event, error)
	ListDueScheduledPublications(ctx context.Context, now time.Time) ([]int64, error)
	ListPublishedUpcoming(ctx context.Context, now time.Time, horizon time.Duration) ([]model.Event, error)

	// Registrations.
	InsertRegistration(ctx context.Context, r *model.Registration) (int64, error)
	GetRegistration(ctx context.Context, id int64) (*model.Registration, error)
	GetRegistrationForUpdate(ctx context.Context, id int64) (*model.Registration, error)
	UpdateRegistration(ctx context.Context, r *model.Registration) error
	ActiveRegistrationForUserEvent(ctx context.Context, userID, eventID int64) (*model.Registration, error)
	OccupiedCount(ctx context.Context, eventID int64) (int, error)
	FirstWaitlisted(ctx context.Context, eventID int64) (*model.Registration, error)
	DueWaitlistTimeouts(ctx context.Context, now time.Time) ([]*model.Registration, error)
	DueConfirmationTimeouts(ctx context.Context, now time.Time) ([]*model.Registration, error)
	NeedsConfirmation(ctx context.Context, eventID int64) ([]*model.Registration, error)
	ListRegistrationsByEvent(ctx context.Context, eventID int64) ([]*model.Registration, error)
	ListRegistrationsByUser(ctx context.Context, userID int64) ([]*model.Registration, error)
	ListRegistrationsByEventAndStatus(ctx context.Context, eventID int64, statuses ...model.RegistrationStatus) ([]*model.Registration, error)

	// Users.
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListReachableUsers(ctx context.Context) ([]model.User, error)
	UpsertUserProfile(ctx context.Context, userID int64, p model.PersonInput) error
	MarkUserUnreachable(ctx context.Context, userID int64) error

	// Delivery ledger.
	DeliveryExists(ctx context.Context, userID int64, eventID *int64, kind model.DeliveryKind) (bool, error)
	// InsertDelivery is idempotent: a uniqueness conflict on
	// (user_id, event_id, kind) is swallowed and reported as inserted=false.
	InsertDelivery(ctx context.Context, userID int64, eventID *int64, kind model.DeliveryKind, payloadRef *string) (bool, error)
}
