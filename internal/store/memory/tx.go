package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/NIvanov17/AppointmentSystem/internal/domain"
	"github.com/NIvanov17/AppointmentSystem/internal/store"
)

// tx buffers writes until commit. Reads see committed state overlaid with the
// transaction's own staged writes.
type tx struct {
	s    *Store
	held map[string]struct{}

	slots       map[uuid.UUID]domain.Schedule
	slotKeys    map[string]uuid.UUID
	newAppts    map[uuid.UUID]domain.Appointment
	deletedAppt map[uuid.UUID]struct{}
}

var _ store.LedgerTx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:           s,
		held:        make(map[string]struct{}),
		slots:       make(map[uuid.UUID]domain.Schedule),
		slotKeys:    make(map[string]uuid.UUID),
		newAppts:    make(map[uuid.UUID]domain.Appointment),
		deletedAppt: make(map[uuid.UUID]struct{}),
	}
}

// lock acquires key unless the transaction already holds it. fresh reports
// whether this call took the lock.
func (t *tx) lock(ctx context.Context, key string) (fresh bool, err error) {
	if _, ok := t.held[key]; ok {
		return false, nil
	}
	if err := t.s.locks.acquire(ctx, key, t.s.lockTimeout); err != nil {
		return false, err
	}
	t.held[key] = struct{}{}
	return true, nil
}

func (t *tx) unlock(key string) {
	if _, ok := t.held[key]; !ok {
		return
	}
	delete(t.held, key)
	t.s.locks.release(key)
}

func (t *tx) releaseAll() {
	for key := range t.held {
		t.s.locks.release(key)
	}
	clear(t.held)
}

func appointmentLockKey(id uuid.UUID) string {
	return "appt:" + id.String()
}

func (t *tx) slotByKey(key string) (domain.Schedule, bool) {
	if id, ok := t.slotKeys[key]; ok {
		return t.slots[id], true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	id, ok := t.s.slotsByKey[key]
	if !ok {
		return domain.Schedule{}, false
	}
	if staged, ok := t.slots[id]; ok {
		return staged, true
	}
	return t.s.slots[id], true
}

func (t *tx) slotByID(id uuid.UUID) (domain.Schedule, bool) {
	if staged, ok := t.slots[id]; ok {
		return staged, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	slot, ok := t.s.slots[id]
	return slot, ok
}

// LockSlot holds no lock when the slot does not exist, the same as a
// SELECT ... FOR UPDATE that matches no row.
func (t *tx) LockSlot(ctx context.Context, key domain.SlotKey) (domain.Schedule, error) {
	k := key.String()
	fresh, err := t.lock(ctx, k)
	if err != nil {
		return domain.Schedule{}, err
	}
	slot, ok := t.slotByKey(k)
	if !ok {
		if fresh {
			t.unlock(k)
		}
		return domain.Schedule{}, store.ErrNotFound
	}
	return slot, nil
}

func (t *tx) LockSlotByID(ctx context.Context, id uuid.UUID) (domain.Schedule, error) {
	slot, ok := t.slotByID(id)
	if !ok {
		return domain.Schedule{}, store.ErrNotFound
	}
	if _, err := t.lock(ctx, slot.Key().String()); err != nil {
		return domain.Schedule{}, err
	}
	// re-read: the row may have moved while we waited
	slot, _ = t.slotByID(id)
	return slot, nil
}

// InsertSlot waits for any transaction holding the key, then reports
// ErrDuplicateSlot if the key exists by then. A losing insert keeps no lock.
func (t *tx) InsertSlot(ctx context.Context, slot domain.Schedule) (domain.Schedule, error) {
	k := slot.Key().String()
	fresh, err := t.lock(ctx, k)
	if err != nil {
		return domain.Schedule{}, err
	}
	if _, exists := t.slotByKey(k); exists {
		if fresh {
			t.unlock(k)
		}
		return domain.Schedule{}, store.ErrDuplicateSlot
	}

	now := time.Now().UTC()
	if slot.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Schedule{}, err
		}
		slot.ID = id
	}
	if slot.Version == 0 {
		slot.Version = 1
	}
	slot.CreatedAt = now
	slot.UpdatedAt = now
	t.slots[slot.ID] = slot
	t.slotKeys[k] = slot.ID
	return slot, nil
}

func (t *tx) SetSlotAvailable(ctx context.Context, slot domain.Schedule, available bool) (domain.Schedule, error) {
	current, ok := t.slotByID(slot.ID)
	if !ok {
		return domain.Schedule{}, store.ErrNotFound
	}
	if current.Version != slot.Version {
		return domain.Schedule{}, store.ErrStaleSlot
	}

	current.Available = available
	current.Version++
	current.UpdatedAt = time.Now().UTC()
	t.slots[current.ID] = current
	return current, nil
}

func (t *tx) HasOverlappingAppointment(ctx context.Context, providerID, serviceID uuid.UUID, span domain.Interval) (bool, error) {
	for _, a := range t.liveAppointments() {
		if a.ProviderID != providerID || a.ServiceID != serviceID {
			continue
		}
		slot, ok := t.slotByID(a.ScheduleID)
		if !ok {
			continue
		}
		if span.Overlaps(domain.Interval{Start: slot.StartTime, End: slot.EndTime}) {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) liveAppointments() []domain.Appointment {
	t.s.mu.RLock()
	out := make([]domain.Appointment, 0, len(t.s.appointments)+len(t.newAppts))
	for id, a := range t.s.appointments {
		if _, gone := t.deletedAppt[id]; gone {
			continue
		}
		out = append(out, a)
	}
	t.s.mu.RUnlock()

	for _, a := range t.newAppts {
		out = append(out, a)
	}
	return out
}

func (t *tx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	for _, a := range t.liveAppointments() {
		if a.ScheduleID == appt.ScheduleID {
			return domain.Appointment{}, store.ErrConflict
		}
	}
	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	}
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = time.Now().UTC()
	}
	appt.Client, appt.Provider, appt.Service, appt.Schedule = nil, nil, nil, nil
	t.newAppts[appt.ID] = appt
	return appt, nil
}

func (t *tx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	k := appointmentLockKey(id)
	fresh, err := t.lock(ctx, k)
	if err != nil {
		return domain.Appointment{}, err
	}

	a, ok := t.newAppts[id]
	if !ok {
		if _, gone := t.deletedAppt[id]; !gone {
			t.s.mu.RLock()
			a, ok = t.s.appointments[id]
			t.s.mu.RUnlock()
		}
	}
	if !ok {
		if fresh {
			t.unlock(k)
		}
		return domain.Appointment{}, store.ErrNotFound
	}

	t.s.mu.RLock()
	client, ok := t.s.users[a.ClientID]
	t.s.mu.RUnlock()
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	a.Client = &client
	return a, nil
}

func (t *tx) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.newAppts[id]; ok {
		delete(t.newAppts, id)
		return nil
	}
	if _, gone := t.deletedAppt[id]; gone {
		return store.ErrNotFound
	}

	t.s.mu.RLock()
	_, ok := t.s.appointments[id]
	t.s.mu.RUnlock()
	if !ok {
		return store.ErrNotFound
	}
	t.deletedAppt[id] = struct{}{}
	return nil
}

// commit applies the staged writes atomically. Claimed slots are checked
// against every other claimed slot of the same provider and service, so an
// overlap that slipped past per-slot locking fails here with ErrOverlap.
func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, slot := range t.slots {
		if slot.Available {
			continue
		}
		span := domain.Interval{Start: slot.StartTime, End: slot.EndTime}
		for otherID, other := range s.slots {
			if otherID == id {
				continue
			}
			if staged, ok := t.slots[otherID]; ok {
				other = staged
			}
			if other.Available || other.ProviderID != slot.ProviderID || other.ServiceID != slot.ServiceID {
				continue
			}
			if span.Overlaps(domain.Interval{Start: other.StartTime, End: other.EndTime}) {
				return store.ErrOverlap
			}
		}
		for otherID, other := range t.slots {
			if otherID == id || other.Available || other.ProviderID != slot.ProviderID || other.ServiceID != slot.ServiceID {
				continue
			}
			if span.Overlaps(domain.Interval{Start: other.StartTime, End: other.EndTime}) {
				return store.ErrOverlap
			}
		}
	}

	for key := range t.slotKeys {
		if _, taken := s.slotsByKey[key]; taken {
			return store.ErrDuplicateSlot
		}
	}

	for key, id := range t.slotKeys {
		s.slotsByKey[key] = id
	}
	for id, slot := range t.slots {
		s.slots[id] = slot
	}
	for id := range t.deletedAppt {
		delete(s.appointments, id)
	}
	for id, a := range t.newAppts {
		s.appointments[id] = a
	}
	return nil
}
