package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NIvanov17/AppointmentSystem/internal/domain"
	"github.com/NIvanov17/AppointmentSystem/internal/store"
)

type fakeStore struct {
	getServiceFn          func(ctx context.Context, id uuid.UUID) (domain.Service, error)
	getWorkingDayFn       func(ctx context.Context, providerID uuid.UUID, dayOfWeek int16) (domain.WorkingDay, error)
	getUserByIDFn         func(ctx context.Context, id uuid.UUID) (domain.User, error)
	getUserByEmailFn      func(ctx context.Context, email string) (domain.User, error)
	inTransactionFn       func(ctx context.Context, fn func(ctx context.Context, tx store.LedgerTx) error) error
	listBookedIntervalsFn func(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]domain.Interval, error)
	listAppointmentsFn    func(ctx context.Context, userID uuid.UUID, role domain.Role) ([]domain.Appointment, error)
}

func (f *fakeStore) GetService(ctx context.Context, id uuid.UUID) (domain.Service, error) {
	if f.getServiceFn == nil {
		panic("GetService not configured")
	}
	return f.getServiceFn(ctx, id)
}

func (f *fakeStore) GetWorkingDay(ctx context.Context, providerID uuid.UUID, dayOfWeek int16) (domain.WorkingDay, error) {
	if f.getWorkingDayFn == nil {
		panic("GetWorkingDay not configured")
	}
	return f.getWorkingDayFn(ctx, providerID, dayOfWeek)
}

func (f *fakeStore) GetUserByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	if f.getUserByIDFn == nil {
		panic("GetUserByID not configured")
	}
	return f.getUserByIDFn(ctx, id)
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	if f.getUserByEmailFn == nil {
		panic("GetUserByEmail not configured")
	}
	return f.getUserByEmailFn(ctx, email)
}

func (f *fakeStore) InTransaction(ctx context.Context, fn func(ctx context.Context, tx store.LedgerTx) error) error {
	if f.inTransactionFn == nil {
		panic("InTransaction not configured")
	}
	return f.inTransactionFn(ctx, fn)
}

func (f *fakeStore) ListBookedIntervals(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]domain.Interval, error) {
	if f.listBookedIntervalsFn == nil {
		panic("ListBookedIntervals not configured")
	}
	return f.listBookedIntervalsFn(ctx, providerID, from, to)
}

func (f *fakeStore) ListAppointments(ctx context.Context, userID uuid.UUID, role domain.Role) ([]domain.Appointment, error) {
	if f.listAppointmentsFn == nil {
		panic("ListAppointments not configured")
	}
	return f.listAppointmentsFn(ctx, userID, role)
}

type fakeTx struct {
	lockSlotFn     func(ctx context.Context, key domain.SlotKey) (domain.Schedule, error)
	insertSlotFn   func(ctx context.Context, slot domain.Schedule) (domain.Schedule, error)
	setAvailableFn func(ctx context.Context, slot domain.Schedule, available bool) (domain.Schedule, error)
	hasOverlapFn   func(ctx context.Context, providerID, serviceID uuid.UUID, span domain.Interval) (bool, error)
	createApptFn   func(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	getForUpdateFn func(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	lockSlotByIDFn func(ctx context.Context, id uuid.UUID) (domain.Schedule, error)
	deleteApptFn   func(ctx context.Context, id uuid.UUID) error
}

func (f *fakeTx) LockSlot(ctx context.Context, key domain.SlotKey) (domain.Schedule, error) {
	if f.lockSlotFn == nil {
		panic("LockSlot not configured")
	}
	return f.lockSlotFn(ctx, key)
}

func (f *fakeTx) LockSlotByID(ctx context.Context, id uuid.UUID) (domain.Schedule, error) {
	if f.lockSlotByIDFn == nil {
		panic("LockSlotByID not configured")
	}
	return f.lockSlotByIDFn(ctx, id)
}

func (f *fakeTx) InsertSlot(ctx context.Context, slot domain.Schedule) (domain.Schedule, error) {
	if f.insertSlotFn == nil {
		panic("InsertSlot not configured")
	}
	return f.insertSlotFn(ctx, slot)
}

func (f *fakeTx) SetSlotAvailable(ctx context.Context, slot domain.Schedule, available bool) (domain.Schedule, error) {
	if f.setAvailableFn == nil {
		panic("SetSlotAvailable not configured")
	}
	return f.setAvailableFn(ctx, slot, available)
}

func (f *fakeTx) HasOverlappingAppointment(ctx context.Context, providerID, serviceID uuid.UUID, span domain.Interval) (bool, error) {
	if f.hasOverlapFn == nil {
		panic("HasOverlappingAppointment not configured")
	}
	return f.hasOverlapFn(ctx, providerID, serviceID, span)
}

func (f *fakeTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if f.createApptFn == nil {
		panic("CreateAppointment not configured")
	}
	return f.createApptFn(ctx, appt)
}

func (f *fakeTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	if f.getForUpdateFn == nil {
		panic("GetAppointmentForUpdate not configured")
	}
	return f.getForUpdateFn(ctx, id)
}

func (f *fakeTx) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	if f.deleteApptFn == nil {
		panic("DeleteAppointment not configured")
	}
	return f.deleteApptFn(ctx, id)
}

type cacheKey struct {
	providerID uuid.UUID
	date       string
	serviceID  uuid.UUID
}

type dayKey struct {
	providerID uuid.UUID
	date       string
}

// fakeCache is an in-process AvailabilityCache that can be told to fail.
type fakeCache struct {
	mu          sync.Mutex
	entries     map[cacheKey][]string
	generations map[dayKey]int64
	hits        int
	misses      int
	refused     int
	invalidated []string
	err         error
	// afterGet runs outside the lock after every successful Get.
	afterGet func()
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries:     make(map[cacheKey][]string),
		generations: make(map[dayKey]int64),
	}
}

func (c *fakeCache) Get(ctx context.Context, providerID uuid.UUID, date string, serviceID uuid.UUID) ([]string, int64, bool, error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, 0, false, c.err
	}
	slots, ok := c.entries[cacheKey{providerID, date, serviceID}]
	gen := c.generations[dayKey{providerID, date}]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	afterGet := c.afterGet
	c.mu.Unlock()

	if afterGet != nil {
		afterGet()
	}
	return slots, gen, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, providerID uuid.UUID, date string, serviceID uuid.UUID, gen int64, slots []string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	if c.generations[dayKey{providerID, date}] != gen {
		c.refused++
		return false, nil
	}
	c.entries[cacheKey{providerID, date, serviceID}] = append([]string(nil), slots...)
	return true, nil
}

func (c *fakeCache) Invalidate(ctx context.Context, providerID uuid.UUID, date string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, date)
	if c.err != nil {
		return c.err
	}
	c.generations[dayKey{providerID, date}]++
	for k := range c.entries {
		if k.providerID == providerID && k.date == date {
			delete(c.entries, k)
		}
	}
	return nil
}
