// Package memory is an embedded BookingStore. Slot rows are guarded by a
// per-key lock table instead of database row locks, and transactions buffer
// their writes until commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NIvanov17/AppointmentSystem/internal/domain"
	"github.com/NIvanov17/AppointmentSystem/internal/store"
)

type workingDayKey struct {
	providerID uuid.UUID
	dayOfWeek  int16
}

type Store struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]domain.User
	usersByEmail map[string]uuid.UUID
	services     map[uuid.UUID]domain.Service
	workingDays  map[workingDayKey]domain.WorkingDay
	slots        map[uuid.UUID]domain.Schedule
	slotsByKey   map[string]uuid.UUID
	appointments map[uuid.UUID]domain.Appointment

	locks       *lockTable
	lockTimeout time.Duration
}

var _ store.BookingStore = (*Store)(nil)

// New returns an empty store. lockTimeout bounds every slot lock wait; zero
// waits until the caller's context ends.
func New(lockTimeout time.Duration) *Store {
	return &Store{
		users:        make(map[uuid.UUID]domain.User),
		usersByEmail: make(map[string]uuid.UUID),
		services:     make(map[uuid.UUID]domain.Service),
		workingDays:  make(map[workingDayKey]domain.WorkingDay),
		slots:        make(map[uuid.UUID]domain.Schedule),
		slotsByKey:   make(map[string]uuid.UUID),
		appointments: make(map[uuid.UUID]domain.Appointment),
		locks:        newLockTable(),
		lockTimeout:  lockTimeout,
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) AddUser(u domain.User) error {
	if u.ID == uuid.Nil {
		return fmt.Errorf("user id is required")
	}
	if _, ok := domain.ParseRole(string(u.Role)); !ok {
		return fmt.Errorf("user %s: invalid role %q", u.ID, u.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(u.Email)
	if key == "" {
		return fmt.Errorf("user %s: email is required", u.ID)
	}
	if existing, ok := s.usersByEmail[key]; ok && existing != u.ID {
		return fmt.Errorf("user %s: email %q already taken", u.ID, u.Email)
	}
	s.users[u.ID] = u
	s.usersByEmail[key] = u.ID
	return nil
}

func (s *Store) AddService(svc domain.Service) error {
	if svc.ID == uuid.Nil {
		return fmt.Errorf("service id is required")
	}
	if svc.DurationMinutes <= 0 {
		return fmt.Errorf("service %s: duration must be positive", svc.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[svc.ProviderID]; !ok {
		return fmt.Errorf("service %s: unknown provider %s", svc.ID, svc.ProviderID)
	}
	s.services[svc.ID] = svc
	return nil
}

func (s *Store) AddWorkingDay(wd domain.WorkingDay) error {
	if err := wd.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[wd.ProviderID]; !ok {
		return fmt.Errorf("working day: unknown provider %s", wd.ProviderID)
	}
	s.workingDays[workingDayKey{providerID: wd.ProviderID, dayOfWeek: wd.DayOfWeek}] = wd
	return nil
}

func (s *Store) GetService(ctx context.Context, id uuid.UUID) (domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[id]
	if !ok {
		return domain.Service{}, store.ErrNotFound
	}
	return svc, nil
}

func (s *Store) GetWorkingDay(ctx context.Context, providerID uuid.UUID, dayOfWeek int16) (domain.WorkingDay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wd, ok := s.workingDays[workingDayKey{providerID: providerID, dayOfWeek: dayOfWeek}]
	if !ok {
		return domain.WorkingDay{}, store.ErrNotFound
	}
	return wd, nil
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[emailKey(email)]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) ListBookedIntervals(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]domain.Interval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := domain.Interval{Start: from, End: to}
	var out []domain.Interval
	for _, a := range s.appointments {
		if a.ProviderID != providerID {
			continue
		}
		slot, ok := s.slots[a.ScheduleID]
		if !ok {
			continue
		}
		iv := domain.Interval{Start: slot.StartTime, End: slot.EndTime}
		if iv.Overlaps(window) {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *Store) ListAppointments(ctx context.Context, userID uuid.UUID, role domain.Role) ([]domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Appointment
	for _, a := range s.appointments {
		switch role {
		case domain.RoleClient:
			if a.ClientID != userID {
				continue
			}
		case domain.RoleProvider:
			if a.ProviderID != userID {
				continue
			}
		default:
			return nil, fmt.Errorf("unsupported role %q", role)
		}
		out = append(out, s.populate(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Schedule.StartTime.Equal(out[j].Schedule.StartTime) {
			return out[i].Schedule.StartTime.Before(out[j].Schedule.StartTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Slots returns a copy of every committed slot, ordered by start.
func (s *Store) Slots() []domain.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Schedule, 0, len(s.slots))
	for _, slot := range s.slots {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// populate must be called with s.mu held.
func (s *Store) populate(a domain.Appointment) domain.Appointment {
	if u, ok := s.users[a.ClientID]; ok {
		a.Client = &u
	}
	if u, ok := s.users[a.ProviderID]; ok {
		a.Provider = &u
	}
	if svc, ok := s.services[a.ServiceID]; ok {
		a.Service = &svc
	}
	if slot, ok := s.slots[a.ScheduleID]; ok {
		a.Schedule = &slot
	} else {
		a.Schedule = &domain.Schedule{}
	}
	return a
}

func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context, tx store.LedgerTx) error) error {
	t := newTx(s)
	defer t.releaseAll()

	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.commit()
}
