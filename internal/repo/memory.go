package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
)

// Memory implements Repository without a database. Event- and
// registration-scoped row locks are replaced by sharded in-process mutexes:
// a unit of work that calls GetEventForUpdate holds that event's mutex until
// the unit ends, so no two concurrent operations can observe and act on the
// same occupancy count. Mutations apply through immediately; the engine
// validates before it writes, so rollback replay is not needed here.
type Memory struct {
	mu sync.Mutex

	events     map[int64]*model.Event
	regs       map[int64]*model.Registration
	users      map[int64]*model.User
	deliveries map[deliveryKey]struct{}

	eventLocks map[int64]*sync.Mutex
	regLocks   map[int64]*sync.Mutex

	nextEventID int64
	nextRegID   int64
	nextUserID  int64

	seq int64 // creation order tie-breaker when clocks collide
}

type deliveryKey struct {
	userID   int64
	eventID  int64
	hasEvent bool
	kind     model.DeliveryKind
}

func NewMemory() *Memory {
	return &Memory{
		events:     make(map[int64]*model.Event),
		regs:       make(map[int64]*model.Registration),
		users:      make(map[int64]*model.User),
		deliveries: make(map[deliveryKey]struct{}),
		eventLocks: make(map[int64]*sync.Mutex),
		regLocks:   make(map[int64]*sync.Mutex),
	}
}

func (m *Memory) WithinTx(ctx context.Context, fn func(s Store) error) error {
	tx := &memStore{m: m, heldEvents: make(map[int64]*sync.Mutex), heldRegs: make(map[int64]*sync.Mutex)}
	defer tx.release()
	return fn(tx)
}

func (m *Memory) View(ctx context.Context, fn func(s Store) error) error {
	return m.WithinTx(ctx, fn)
}

// MigrateUp and MigrateDown keep the driver interchangeable with Postgres in
// main's wiring; there is no schema to manage.
func (m *Memory) MigrateUp(string) error   { return nil }
func (m *Memory) MigrateDown(string) error { return nil }

// SeedUser registers a user directly; intake of users is outside the engine.
func (m *Memory) SeedUser(u model.User) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextUserID++
	u.ID = m.nextUserID
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	m.users[u.ID] = &u
	cp := u
	return &cp
}

type memStore struct {
	m          *Memory
	heldEvents map[int64]*sync.Mutex
	heldRegs   map[int64]*sync.Mutex
}

func (s *memStore) release() {
	for _, mu := range s.heldRegs {
		mu.Unlock()
	}
	for _, mu := range s.heldEvents {
		mu.Unlock()
	}
}

func (s *memStore) lockEvent(id int64) {
	if _, held := s.heldEvents[id]; held {
		return
	}
	s.m.mu.Lock()
	mu, ok := s.m.eventLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.m.eventLocks[id] = mu
	}
	s.m.mu.Unlock()
	mu.Lock()
	s.heldEvents[id] = mu
}

func (s *memStore) lockRegistration(id int64) {
	if _, held := s.heldRegs[id]; held {
		return
	}
	s.m.mu.Lock()
	mu, ok := s.m.regLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.m.regLocks[id] = mu
	}
	s.m.mu.Unlock()
	mu.Lock()
	s.heldRegs[id] = mu
}

func copyEvent(e *model.Event) *model.Event {
	cp := *e
	return &cp
}

func copyRegistration(r *model.Registration) *model.Registration {
	cp := *r
	cp.People = append([]model.RegistrationPerson(nil), r.People...)
	return &cp
}

func (s *memStore) InsertEvent(ctx context.Context, e *model.Event) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.nextEventID++
	e.ID = s.m.nextEventID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.UpdatedAt = e.CreatedAt
	s.m.events[e.ID] = copyEvent(e)
	return e.ID, nil
}

func (s *memStore) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	e, ok := s.m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return copyEvent(e), nil
}

func (s *memStore) GetEventForUpdate(ctx context.Context, id int64) (*model.Event, error) {
	s.m.mu.Lock()
	_, ok := s.m.events[id]
	s.m.mu.Unlock()
	if !ok {
		return nil, ErrEventNotFound
	}
	s.lockEvent(id)
	return s.GetEvent(ctx, id)
}

func (s *memStore) UpdateEvent(ctx context.Context, e *model.Event) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.events[e.ID]; !ok {
		return ErrEventNotFound
	}
	e.UpdatedAt = time.Now().UTC()
	s.m.events[e.ID] = copyEvent(e)
	return nil
}

func (s *memStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	events := make([]model.Event, 0, len(s.m.events))
	for _, e := range s.m.events {
		events = append(events, *copyEvent(e))
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
	return events, nil
}

func (s *memStore) ListDueScheduledPublications(ctx context.Context, now time.Time) ([]int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var ids []int64
	for _, e := range s.m.events {
		if e.Status == model.EventStatusDraft && e.PlannedPublishAt != nil && !e.PlannedPublishAt.After(now) {
			ids = append(ids, e.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *memStore) ListPublishedUpcoming(ctx context.Context, now time.Time, horizon time.Duration) ([]model.Event, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cutoff := now.Add(-horizon)
	var events []model.Event
	for _, e := range s.m.events {
		if e.Status == model.EventStatusPublished && e.StartAt.After(cutoff) {
			events = append(events, *copyEvent(e))
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].StartAt.Before(events[j].StartAt) })
	return events, nil
}

func (s *memStore) InsertRegistration(ctx context.Context, r *model.Registration) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.nextRegID++
	r.ID = s.m.nextRegID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.UpdatedAt = r.CreatedAt
	for i := range r.People {
		r.People[i].RegistrationID = r.ID
		r.People[i].ID = int64(i + 1)
	}
	s.m.regs[r.ID] = copyRegistration(r)
	return r.ID, nil
}

func (s *memStore) GetRegistration(ctx context.Context, id int64) (*model.Registration, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	r, ok := s.m.regs[id]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	return copyRegistration(r), nil
}

func (s *memStore) GetRegistrationForUpdate(ctx context.Context, id int64) (*model.Registration, error) {
	s.m.mu.Lock()
	_, ok := s.m.regs[id]
	s.m.mu.Unlock()
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	s.lockRegistration(id)
	return s.GetRegistration(ctx, id)
}

func (s *memStore) UpdateRegistration(ctx context.Context, r *model.Registration) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	stored, ok := s.m.regs[r.ID]
	if !ok {
		return ErrRegistrationNotFound
	}
	cp := copyRegistration(r)
	cp.CreatedAt = stored.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	s.m.regs[r.ID] = cp
	return nil
}

func (s *memStore) ActiveRegistrationForUserEvent(ctx context.Context, userID, eventID int64) (*model.Registration, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, r := range s.m.regs {
		if r.UserID == userID && r.EventID == eventID && r.Status.Active() {
			return copyRegistration(r), nil
		}
	}
	return nil, nil
}

func (s *memStore) OccupiedCount(ctx context.Context, eventID int64) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	count := 0
	for _, r := range s.m.regs {
		if r.EventID == eventID && r.Status.Occupying() {
			count++
		}
	}
	return count, nil
}

func (s *memStore) FirstWaitlisted(ctx context.Context, eventID int64) (*model.Registration, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var head *model.Registration
	for _, r := range s.m.regs {
		if r.EventID != eventID || r.Status != model.StatusWaitlist {
			continue
		}
		if head == nil || earlier(r, head) {
			head = r
		}
	}
	if head == nil {
		return nil, nil
	}
	return copyRegistration(head), nil
}

// earlier orders by creation time, id ascending on ties.
func earlier(a, b *model.Registration) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *memStore) DueWaitlistTimeouts(ctx context.Context, now time.Time) ([]*model.Registration, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var due []*model.Registration
	for _, r := range s.m.regs {
		if r.Status == model.StatusInvitedFromWaitlist &&
			r.WaitlistExpiresAt != nil && !r.WaitlistExpiresAt.After(now) {
			due = append(due, copyRegistration(r))
		}
	}
	sortByID(due)
	return due, nil
}

func (s *memStore) DueConfirmationTimeouts(ctx context.Context, now time.Time) ([]*model.Registration, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var due []*model.Registration
	for _, r := range s.m.regs {
		if (r.Status == model.StatusRegistered || r.Status == model.StatusInvitedFromWaitlist) &&
			r.ConfirmationRequestedAt != nil &&
			r.ConfirmationExpiresAt != nil && !r.ConfirmationExpiresAt.After(now) {
			due = append(due, copyRegistration(r))
		}
	}
	sortByID(due)
	return due, nil
}

func (s *memStore) NeedsConfirmation(ctx context.Context, eventID int64) ([]*model.Registration, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var regs []*model.Registration
	for _, r := range s.m.regs {
		if r.EventID == eventID && r.Status.Occupying() && r.ConfirmationRequestedAt == nil {
			regs = append(regs, copyRegistration(r))
		}
	}
	sortByID(regs)
	return regs, nil
}

func (s *memStore) ListRegistrationsByEvent(ctx context.Context, eventID int64) ([]*model.Registration, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var regs []*model.Registration
	for _, r := range s.m.regs {
		if r.EventID == eventID {
			regs = append(regs, copyRegistration(r))
		}
	}
	sort.Slice(regs, func(i, j int) bool { return earlier(regs[i], regs[j]) })
	return regs, nil
}

func (s *memStore) ListRegistrationsByUser(ctx context.Context, userID int64) ([]*model.Registration, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var regs []*model.Registration
	for _, r := range s.m.regs {
		if r.UserID == userID {
			regs = append(regs, copyRegistration(r))
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].CreatedAt.After(regs[j].CreatedAt) })
	return regs, nil
}

func (s *memStore) ListRegistrationsByEventAndStatus(ctx context.Context, eventID int64, statuses ...model.RegistrationStatus) ([]*model.Registration, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	match := make(map[model.RegistrationStatus]struct{}, len(statuses))
	for _, st := range statuses {
		match[st] = struct{}{}
	}
	var regs []*model.Registration
	for _, r := range s.m.regs {
		if r.EventID != eventID {
			continue
		}
		if _, ok := match[r.Status]; ok {
			regs = append(regs, copyRegistration(r))
		}
	}
	sort.Slice(regs, func(i, j int) bool { return earlier(regs[i], regs[j]) })
	return regs, nil
}

func sortByID(regs []*model.Registration) {
	sort.Slice(regs, func(i, j int) bool { return regs[i].ID < regs[j].ID })
}

func (s *memStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) ListReachableUsers(ctx context.Context) ([]model.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var users []model.User
	for _, u := range s.m.users {
		if u.IsReachable {
			users = append(users, *u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *memStore) UpsertUserProfile(ctx context.Context, userID int64, p model.PersonInput) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[userID]
	if !ok {
		return nil
	}
	u.LastName = strPtr(p.LastName)
	u.FirstName = strPtr(p.FirstName)
	u.MiddleName = p.MiddleName
	u.Contact = p.Contact
	u.GroupName = p.GroupName
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) MarkUserUnreachable(ctx context.Context, userID int64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if u, ok := s.m.users[userID]; ok {
		u.IsReachable = false
	}
	return nil
}

func strPtr(v string) *string { return &v }

func (s *memStore) DeliveryExists(ctx context.Context, userID int64, eventID *int64, kind model.DeliveryKind) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	_, ok := s.m.deliveries[makeDeliveryKey(userID, eventID, kind)]
	return ok, nil
}

func (s *memStore) InsertDelivery(ctx context.Context, userID int64, eventID *int64, kind model.DeliveryKind, payloadRef *string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	key := makeDeliveryKey(userID, eventID, kind)
	if _, ok := s.m.deliveries[key]; ok {
		return false, nil
	}
	s.m.deliveries[key] = struct{}{}
	return true, nil
}

func makeDeliveryKey(userID int64, eventID *int64, kind model.DeliveryKind) deliveryKey {
	key := deliveryKey{userID: userID, kind: kind}
	if eventID != nil {
		key.eventID = *eventID
		key.hasEvent = true
	}
	return key
}
