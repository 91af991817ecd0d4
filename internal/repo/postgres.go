package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
)

// Postgres implements Repository on top of wbf/dbpg. Writes go to the master
// inside explicit transactions; event-scoped mutations take a row lock via
// SELECT ... FOR UPDATE before touching occupancy.
type Postgres struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewPostgres(db *dbpg.DB, log *zerolog.Logger) (*Postgres, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &Postgres{db: db, log: log}, nil
}

func (r *Postgres) MigrateUp(migrationsDir string) error {
	return r.applyMigrations(migrationsDir, "*.up.sql")
}

func (r *Postgres) MigrateDown(migrationsDir string) error {
	return r.applyMigrations(migrationsDir, "*.down.sql")
}

func (r *Postgres) applyMigrations(dir, pattern string) error {
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}
	r.log.Info().Msgf("Migrations applied from %s (%s)", dir, pattern)
	return nil
}

func (r *Postgres) WithinTx(ctx context.Context, fn func(s Store) error) error {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&pgStore{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *Postgres) View(ctx context.Context, fn func(s Store) error) error {
	return fn(&pgStore{q: r.db})
}

// queryer is satisfied by both *sql.Tx and *dbpg.DB.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type pgStore struct {
	q queryer
}

const eventColumns = `
	id, type, status, title, description, location,
	registration_start_at, registration_end_at, start_at,
	capacity, team_min_size, team_max_size,
	planned_publish_at, published_at, channel_post_message_id,
	registration_open_notified_at, registration_close_soon_notified_at,
	created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	err := row.Scan(
		&e.ID, &e.Type, &e.Status, &e.Title, &e.Description, &e.Location,
		&e.RegistrationStartAt, &e.RegistrationEndAt, &e.StartAt,
		&e.Capacity, &e.TeamMinSize, &e.TeamMaxSize,
		&e.PlannedPublishAt, &e.PublishedAt, &e.ChannelPostMessageID,
		&e.RegistrationOpenNotifiedAt, &e.RegistrationCloseSoonNotifiedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *pgStore) InsertEvent(ctx context.Context, e *model.Event) (int64, error) {
	query := `
		INSERT INTO events (
			type, status, title, description, location,
			registration_start_at, registration_end_at, start_at,
			capacity, team_min_size, team_max_size, planned_publish_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`
	var id int64
	err := s.q.QueryRowContext(ctx, query,
		e.Type, e.Status, e.Title, e.Description, e.Location,
		e.RegistrationStartAt, e.RegistrationEndAt, e.StartAt,
		e.Capacity, e.TeamMinSize, e.TeamMaxSize, e.PlannedPublishAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	return id, nil
}

func (s *pgStore) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	e, err := scanEvent(s.q.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

func (s *pgStore) GetEventForUpdate(ctx context.Context, id int64) (*model.Event, error) {
	e, err := scanEvent(s.q.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to lock event row: %w", err)
	}
	return e, nil
}

func (s *pgStore) UpdateEvent(ctx context.Context, e *model.Event) error {
	query := `
		UPDATE events
		SET type = $1, status = $2, title = $3, description = $4, location = $5,
		    registration_start_at = $6, registration_end_at = $7, start_at = $8,
		    capacity = $9, team_min_size = $10, team_max_size = $11,
		    planned_publish_at = $12, published_at = $13, channel_post_message_id = $14,
		    registration_open_notified_at = $15, registration_close_soon_notified_at = $16,
		    updated_at = NOW()
		WHERE id = $17
	`
	res, err := s.q.ExecContext(ctx, query,
		e.Type, e.Status, e.Title, e.Description, e.Location,
		e.RegistrationStartAt, e.RegistrationEndAt, e.StartAt,
		e.Capacity, e.TeamMinSize, e.TeamMaxSize,
		e.PlannedPublishAt, e.PublishedAt, e.ChannelPostMessageID,
		e.RegistrationOpenNotifiedAt, e.RegistrationCloseSoonNotifiedAt,
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (s *pgStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (s *pgStore) ListDueScheduledPublications(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id FROM events
		WHERE status = 'draft'
		  AND planned_publish_at IS NOT NULL
		  AND planned_publish_at <= $1
		ORDER BY id ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled publications: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *pgStore) ListPublishedUpcoming(ctx context.Context, now time.Time, horizon time.Duration) ([]model.Event, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE status = 'published' AND start_at > $1 ORDER BY start_at ASC`,
		now.Add(-horizon))
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

const registrationColumns = `
	id, event_id, user_id, status, team_name, team_size, has_external_members,
	consent_at, consent_version,
	waitlist_invited_at, waitlist_expires_at,
	confirmation_requested_at, confirmation_expires_at,
	cancelled_at, created_at, updated_at`

func scanRegistration(row interface{ Scan(...any) error }) (*model.Registration, error) {
	var reg model.Registration
	err := row.Scan(
		&reg.ID, &reg.EventID, &reg.UserID, &reg.Status,
		&reg.TeamName, &reg.TeamSize, &reg.HasExternalMembers,
		&reg.ConsentAt, &reg.ConsentVersion,
		&reg.WaitlistInvitedAt, &reg.WaitlistExpiresAt,
		&reg.ConfirmationRequestedAt, &reg.ConfirmationExpiresAt,
		&reg.CancelledAt, &reg.CreatedAt, &reg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *pgStore) InsertRegistration(ctx context.Context, r *model.Registration) (int64, error) {
	query := `
		INSERT INTO registrations (
			event_id, user_id, status, team_name, team_size, has_external_members,
			consent_at, consent_version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := s.q.QueryRowContext(ctx, query,
		r.EventID, r.UserID, r.Status, r.TeamName, r.TeamSize, r.HasExternalMembers,
		r.ConsentAt, r.ConsentVersion,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert registration: %w", err)
	}

	for i := range r.People {
		p := &r.People[i]
		p.RegistrationID = r.ID
		err := s.q.QueryRowContext(ctx, `
			INSERT INTO registration_people (
				registration_id, role, last_name, first_name, middle_name,
				contact, group_name, is_external,
				passport_series, passport_number, passport_issued_by,
				passport_division_code, passport_issue_date,
				birth_date, birth_place, registration_address
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id
		`,
			p.RegistrationID, p.Role, p.LastName, p.FirstName, p.MiddleName,
			p.Contact, p.GroupName, p.IsExternal,
			p.PassportSeries, p.PassportNumber, p.PassportIssuedBy,
			p.PassportDivisionCode, p.PassportIssueDate,
			p.BirthDate, p.BirthPlace, p.RegistrationAddress,
		).Scan(&p.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to insert registration person: %w", err)
		}
	}
	return r.ID, nil
}

func (s *pgStore) GetRegistration(ctx context.Context, id int64) (*model.Registration, error) {
	reg, err := scanRegistration(s.q.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}
	if err := s.loadPeople(ctx, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *pgStore) GetRegistrationForUpdate(ctx context.Context, id int64) (*model.Registration, error) {
	reg, err := scanRegistration(s.q.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to lock registration row: %w", err)
	}
	if err := s.loadPeople(ctx, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *pgStore) loadPeople(ctx context.Context, reg *model.Registration) error {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, registration_id, role, last_name, first_name, middle_name,
		       contact, group_name, is_external,
		       passport_series, passport_number, passport_issued_by,
		       passport_division_code, passport_issue_date,
		       birth_date, birth_place, registration_address
		FROM registration_people
		WHERE registration_id = $1
		ORDER BY id ASC
	`, reg.ID)
	if err != nil {
		return fmt.Errorf("failed to load registration people: %w", err)
	}
	defer rows.Close()

	reg.People = reg.People[:0]
	for rows.Next() {
		var p model.RegistrationPerson
		if err := rows.Scan(
			&p.ID, &p.RegistrationID, &p.Role, &p.LastName, &p.FirstName, &p.MiddleName,
			&p.Contact, &p.GroupName, &p.IsExternal,
			&p.PassportSeries, &p.PassportNumber, &p.PassportIssuedBy,
			&p.PassportDivisionCode, &p.PassportIssueDate,
			&p.BirthDate, &p.BirthPlace, &p.RegistrationAddress,
		); err != nil {
			return fmt.Errorf("failed to scan registration person: %w", err)
		}
		reg.People = append(reg.People, p)
	}
	return rows.Err()
}

func (s *pgStore) UpdateRegistration(ctx context.Context, r *model.Registration) error {
	query := `
		UPDATE registrations
		SET status = $1,
		    consent_at = $2, consent_version = $3,
		    waitlist_invited_at = $4, waitlist_expires_at = $5,
		    confirmation_requested_at = $6, confirmation_expires_at = $7,
		    cancelled_at = $8, updated_at = NOW()
		WHERE id = $9
	`
	res, err := s.q.ExecContext(ctx, query,
		r.Status,
		r.ConsentAt, r.ConsentVersion,
		r.WaitlistInvitedAt, r.WaitlistExpiresAt,
		r.ConfirmationRequestedAt, r.ConfirmationExpiresAt,
		r.CancelledAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update registration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRegistrationNotFound
	}
	return nil
}

func (s *pgStore) ActiveRegistrationForUserEvent(ctx context.Context, userID, eventID int64) (*model.Registration, error) {
	reg, err := scanRegistration(s.q.QueryRowContext(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE user_id = $1 AND event_id = $2
		  AND status IN ('registered', 'waitlist', 'invited_from_waitlist', 'confirmed')
		LIMIT 1
	`, userID, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check active registration: %w", err)
	}
	return reg, nil
}

func (s *pgStore) OccupiedCount(ctx context.Context, eventID int64) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM registrations
		WHERE event_id = $1
		  AND status IN ('registered', 'confirmed', 'invited_from_waitlist')
	`, eventID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count occupied seats: %w", err)
	}
	return count, nil
}

func (s *pgStore) FirstWaitlisted(ctx context.Context, eventID int64) (*model.Registration, error) {
	reg, err := scanRegistration(s.q.QueryRowContext(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = $1 AND status = 'waitlist'
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pick waitlist head: %w", err)
	}
	return reg, nil
}

func (s *pgStore) DueWaitlistTimeouts(ctx context.Context, now time.Time) ([]*model.Registration, error) {
	return s.queryRegistrations(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE status = 'invited_from_waitlist'
		  AND waitlist_expires_at IS NOT NULL
		  AND waitlist_expires_at <= $1
		ORDER BY id ASC
	`, now)
}

func (s *pgStore) DueConfirmationTimeouts(ctx context.Context, now time.Time) ([]*model.Registration, error) {
	// Confirmed rows are excluded: a confirmed attendee never auto-declines.
	return s.queryRegistrations(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE status IN ('registered', 'invited_from_waitlist')
		  AND confirmation_requested_at IS NOT NULL
		  AND confirmation_expires_at IS NOT NULL
		  AND confirmation_expires_at <= $1
		ORDER BY id ASC
	`, now)
}

func (s *pgStore) NeedsConfirmation(ctx context.Context, eventID int64) ([]*model.Registration, error) {
	return s.queryRegistrations(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = $1
		  AND status IN ('registered', 'invited_from_waitlist', 'confirmed')
		  AND confirmation_requested_at IS NULL
		ORDER BY id ASC
	`, eventID)
}

func (s *pgStore) ListRegistrationsByEvent(ctx context.Context, eventID int64) ([]*model.Registration, error) {
	regs, err := s.queryRegistrations(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = $1
		ORDER BY created_at ASC, id ASC
	`, eventID)
	if err != nil {
		return nil, err
	}
	for _, reg := range regs {
		if err := s.loadPeople(ctx, reg); err != nil {
			return nil, err
		}
	}
	return regs, nil
}

func (s *pgStore) ListRegistrationsByUser(ctx context.Context, userID int64) ([]*model.Registration, error) {
	return s.queryRegistrations(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
}

func (s *pgStore) ListRegistrationsByEventAndStatus(ctx context.Context, eventID int64, statuses ...model.RegistrationStatus) ([]*model.Registration, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := []any{eventID}
	placeholders := ""
	for i, st := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+2)
		args = append(args, st)
	}
	return s.queryRegistrations(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = $1 AND status IN (`+placeholders+`)
		ORDER BY created_at ASC, id ASC
	`, args...)
}

func (s *pgStore) queryRegistrations(ctx context.Context, query string, args ...any) ([]*model.Registration, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query registrations: %w", err)
	}
	defer rows.Close()

	var regs []*model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

const userColumns = `
	id, email, is_reachable, last_name, first_name, middle_name,
	contact, group_name, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID, &u.Email, &u.IsReachable, &u.LastName, &u.FirstName, &u.MiddleName,
		&u.Contact, &u.GroupName, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *pgStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *pgStore) ListReachableUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE is_reachable ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *pgStore) UpsertUserProfile(ctx context.Context, userID int64, p model.PersonInput) error {
	// Best-effort profile reuse for future auto-fill; a missing user is not
	// an error of the enclosing registration.
	_, err := s.q.ExecContext(ctx, `
		UPDATE users
		SET last_name = $1, first_name = $2, middle_name = $3,
		    contact = $4, group_name = $5, updated_at = NOW()
		WHERE id = $6
	`, p.LastName, p.FirstName, p.MiddleName, p.Contact, p.GroupName, userID)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	return nil
}

func (s *pgStore) MarkUserUnreachable(ctx context.Context, userID int64) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE users SET is_reachable = FALSE, updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to mark user unreachable: %w", err)
	}
	return nil
}

func (s *pgStore) DeliveryExists(ctx context.Context, userID int64, eventID *int64, kind model.DeliveryKind) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notification_deliveries
			WHERE user_id = $1 AND event_id IS NOT DISTINCT FROM $2 AND kind = $3
		)
	`, userID, eventID, kind).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check delivery: %w", err)
	}
	return exists, nil
}

func (s *pgStore) InsertDelivery(ctx context.Context, userID int64, eventID *int64, kind model.DeliveryKind, payloadRef *string) (bool, error) {
	// A concurrent writer inserting the same triple is not an error; the
	// conflict is swallowed and reported as inserted=false.
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO notification_deliveries (user_id, event_id, kind, payload_ref)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, COALESCE(event_id, 0), kind) DO NOTHING
	`, userID, eventID, kind, payloadRef)
	if err != nil {
		return false, fmt.Errorf("failed to insert delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delivery insert result: %w", err)
	}
	return n > 0, nil
}
