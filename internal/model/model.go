package model

import "time"

type EventType string

const (
	EventTypeSolo EventType = "solo"
	EventTypeTeam EventType = "team"
)

type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusPublished EventStatus = "published"
	EventStatusArchived  EventStatus = "archived"
)

type RegistrationStatus string

const (
	StatusRegistered          RegistrationStatus = "registered"
	StatusWaitlist            RegistrationStatus = "waitlist"
	StatusInvitedFromWaitlist RegistrationStatus = "invited_from_waitlist"
	StatusConfirmed           RegistrationStatus = "confirmed"
	StatusDeclined            RegistrationStatus = "declined"
	StatusAutoDeclined        RegistrationStatus = "auto_declined"
	StatusCancelledByUser     RegistrationStatus = "cancelled_by_user"
)

// Occupying reports whether the status counts against event capacity.
func (s RegistrationStatus) Occupying() bool {
	switch s {
	case StatusRegistered, StatusConfirmed, StatusInvitedFromWaitlist:
		return true
	}
	return false
}

// Active reports whether the registration still holds a seat or a queue slot,
// which blocks the user from creating another registration for the same event.
func (s RegistrationStatus) Active() bool {
	switch s {
	case StatusRegistered, StatusWaitlist, StatusInvitedFromWaitlist, StatusConfirmed:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave the status.
// Confirmed is terminal for attendance but the user may still back out,
// so it is deliberately absent here; see the transitions table.
func (s RegistrationStatus) Terminal() bool {
	switch s {
	case StatusDeclined, StatusAutoDeclined, StatusCancelledByUser:
		return true
	}
	return false
}

// transitions encodes the registration state machine. Same-status writes are
// treated as no-ops by CanTransition, everything else must be listed here.
var transitions = map[RegistrationStatus][]RegistrationStatus{
	StatusRegistered: {
		StatusConfirmed, StatusDeclined, StatusAutoDeclined, StatusCancelledByUser,
	},
	StatusWaitlist: {
		StatusInvitedFromWaitlist, StatusCancelledByUser,
	},
	StatusInvitedFromWaitlist: {
		StatusRegistered, StatusConfirmed, StatusDeclined, StatusAutoDeclined, StatusCancelledByUser,
	},
	// Confirmed attendees can still decline or cancel.
	StatusConfirmed: {
		StatusDeclined, StatusCancelledByUser,
	},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to RegistrationStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type PersonRole string

const (
	RoleSolo           PersonRole = "solo"
	RoleCaptain        PersonRole = "captain"
	RoleExternalMember PersonRole = "external_member"
)

type DeliveryKind string

const (
	DeliveryNewEvent             DeliveryKind = "new_event"
	DeliveryRegistrationStarted  DeliveryKind = "registration_started"
	DeliveryRegistrationEndsSoon DeliveryKind = "registration_ends_soon"
	DeliveryPassportReminder     DeliveryKind = "passport_reminder"
	DeliveryConfirmationRequest  DeliveryKind = "confirmation_request"
	DeliveryEventReminder        DeliveryKind = "event_reminder"
	DeliveryWaitlistInvite       DeliveryKind = "waitlist_invite"
)

type Event struct {
	ID          int64       `db:"id" json:"id"`
	Type        EventType   `db:"type" json:"type"`
	Status      EventStatus `db:"status" json:"status"`
	Title       string      `db:"title" json:"title"`
	Description string      `db:"description" json:"description,omitempty"`
	Location    string      `db:"location" json:"location"`

	RegistrationStartAt time.Time `db:"registration_start_at" json:"registration_start_at"`
	RegistrationEndAt   time.Time `db:"registration_end_at" json:"registration_end_at"`
	StartAt             time.Time `db:"start_at" json:"start_at"`

	Capacity    int  `db:"capacity" json:"capacity"`
	TeamMinSize *int `db:"team_min_size" json:"team_min_size,omitempty"`
	TeamMaxSize *int `db:"team_max_size" json:"team_max_size,omitempty"`

	PlannedPublishAt     *time.Time `db:"planned_publish_at" json:"planned_publish_at,omitempty"`
	PublishedAt          *time.Time `db:"published_at" json:"published_at,omitempty"`
	ChannelPostMessageID *int64     `db:"channel_post_message_id" json:"channel_post_message_id,omitempty"`

	RegistrationOpenNotifiedAt      *time.Time `db:"registration_open_notified_at" json:"-"`
	RegistrationCloseSoonNotifiedAt *time.Time `db:"registration_close_soon_notified_at" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RegistrationOpen reports whether now falls inside the registration window.
func (e *Event) RegistrationOpen(now time.Time) bool {
	return !now.Before(e.RegistrationStartAt) && !now.After(e.RegistrationEndAt)
}

// Started reports whether the event has already begun at the given instant.
func (e *Event) Started(now time.Time) bool {
	return !e.StartAt.After(now)
}

type Registration struct {
	ID      int64 `db:"id" json:"id"`
	EventID int64 `db:"event_id" json:"event_id"`
	UserID  int64 `db:"user_id" json:"user_id"`

	Status RegistrationStatus `db:"status" json:"status"`

	TeamName           *string `db:"team_name" json:"team_name,omitempty"`
	TeamSize           *int    `db:"team_size" json:"team_size,omitempty"`
	HasExternalMembers bool    `db:"has_external_members" json:"has_external_members"`

	ConsentAt      *time.Time `db:"consent_at" json:"consent_at,omitempty"`
	ConsentVersion *string    `db:"consent_version" json:"consent_version,omitempty"`

	WaitlistInvitedAt *time.Time `db:"waitlist_invited_at" json:"waitlist_invited_at,omitempty"`
	WaitlistExpiresAt *time.Time `db:"waitlist_expires_at" json:"waitlist_expires_at,omitempty"`

	ConfirmationRequestedAt *time.Time `db:"confirmation_requested_at" json:"confirmation_requested_at,omitempty"`
	ConfirmationExpiresAt   *time.Time `db:"confirmation_expires_at" json:"confirmation_expires_at,omitempty"`

	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`

	People []RegistrationPerson `db:"-" json:"people,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type RegistrationPerson struct {
	ID             int64      `db:"id" json:"id"`
	RegistrationID int64      `db:"registration_id" json:"registration_id"`
	Role           PersonRole `db:"role" json:"role"`

	LastName   string  `db:"last_name" json:"last_name"`
	FirstName  string  `db:"first_name" json:"first_name"`
	MiddleName *string `db:"middle_name" json:"middle_name,omitempty"`
	Contact    *string `db:"contact" json:"contact,omitempty"`
	GroupName  *string `db:"group_name" json:"group_name,omitempty"`
	IsExternal bool    `db:"is_external" json:"is_external"`

	PassportSeries       *string    `db:"passport_series" json:"passport_series,omitempty"`
	PassportNumber       *string    `db:"passport_number" json:"passport_number,omitempty"`
	PassportIssuedBy     *string    `db:"passport_issued_by" json:"passport_issued_by,omitempty"`
	PassportDivisionCode *string    `db:"passport_division_code" json:"passport_division_code,omitempty"`
	PassportIssueDate    *time.Time `db:"passport_issue_date" json:"passport_issue_date,omitempty"`
	BirthDate            *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	BirthPlace           *string    `db:"birth_place" json:"birth_place,omitempty"`
	RegistrationAddress  *string    `db:"registration_address" json:"registration_address,omitempty"`
}

type User struct {
	ID          int64   `db:"id" json:"id"`
	Email       string  `db:"email" json:"email"`
	IsReachable bool    `db:"is_reachable" json:"is_reachable"`
	LastName    *string `db:"last_name" json:"last_name,omitempty"`
	FirstName   *string `db:"first_name" json:"first_name,omitempty"`
	MiddleName  *string `db:"middle_name" json:"middle_name,omitempty"`
	Contact     *string `db:"contact" json:"contact,omitempty"`
	GroupName   *string `db:"group_name" json:"group_name,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type NotificationDelivery struct {
	ID         int64        `db:"id" json:"id"`
	UserID     int64        `db:"user_id" json:"user_id"`
	EventID    *int64       `db:"event_id" json:"event_id,omitempty"`
	Kind       DeliveryKind `db:"kind" json:"kind"`
	PayloadRef *string      `db:"payload_ref" json:"payload_ref,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// PassportInput carries the identity record required for an external person.
type PassportInput struct {
	Series              string    `json:"series"`
	Number              string    `json:"number"`
	IssuedBy            string    `json:"issued_by"`
	DivisionCode        string    `json:"division_code"`
	IssueDate           time.Time `json:"issue_date"`
	BirthDate           time.Time `json:"birth_date"`
	BirthPlace          string    `json:"birth_place"`
	RegistrationAddress string    `json:"registration_address"`
}

type PersonInput struct {
	LastName   string         `json:"last_name"`
	FirstName  string         `json:"first_name"`
	MiddleName *string        `json:"middle_name,omitempty"`
	Contact    *string        `json:"contact,omitempty"`
	GroupName  *string        `json:"group_name,omitempty"`
	IsExternal bool           `json:"is_external"`
	Passport   *PassportInput `json:"passport,omitempty"`
}

// RegistrationInput is what the intake collector hands to the engine.
type RegistrationInput struct {
	CaptainOrSolo   PersonInput   `json:"captain_or_solo"`
	TeamName        *string       `json:"team_name,omitempty"`
	TeamSize        *int          `json:"team_size,omitempty"`
	ExternalMembers []PersonInput `json:"external_members,omitempty"`
	Consent         bool          `json:"consent"`
	ConsentVersion  *string       `json:"consent_version,omitempty"`
}

// HasExternal reports whether any attached person requires passport handling.
func (in *RegistrationInput) HasExternal() bool {
	if in.CaptainOrSolo.IsExternal {
		return true
	}
	for _, m := range in.ExternalMembers {
		if m.IsExternal {
			return true
		}
	}
	return false
}

type EventInput struct {
	Type                EventType  `json:"type"`
	Title               string     `json:"title"`
	Description         string     `json:"description,omitempty"`
	Location            string     `json:"location"`
	RegistrationStartAt time.Time  `json:"registration_start_at"`
	RegistrationEndAt   time.Time  `json:"registration_end_at"`
	StartAt             time.Time  `json:"start_at"`
	Capacity            int        `json:"capacity"`
	TeamMinSize         *int       `json:"team_min_size,omitempty"`
	TeamMaxSize         *int       `json:"team_max_size,omitempty"`
	PlannedPublishAt    *time.Time `json:"planned_publish_at,omitempty"`
}
