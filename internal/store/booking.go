package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/NIvanov17/AppointmentSystem/internal/domain"
)

// Catalog is the read-only view of services and working hours.
type Catalog interface {
	GetService(ctx context.Context, id uuid.UUID) (domain.Service, error)
	GetWorkingDay(ctx context.Context, providerID uuid.UUID, dayOfWeek int16) (domain.WorkingDay, error)
}

// Directory resolves identities handed over by the identity provider.
type Directory interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
}

// Ledger is the durable record of slots and appointments.
type Ledger interface {
	// InTransaction runs fn in one transaction. Row locks taken through tx are
	// held until fn returns; a non-nil error rolls every write back.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error

	// ListBookedIntervals returns the slot intervals of the provider's live
	// appointments that intersect [from, to). No locks are taken.
	ListBookedIntervals(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]domain.Interval, error)

	// ListAppointments returns the user's appointments in the given role with
	// Client, Provider, Service and Schedule populated, ordered by start.
	ListAppointments(ctx context.Context, userID uuid.UUID, role domain.Role) ([]domain.Appointment, error)
}

type LedgerTx interface {
	// LockSlot takes an exclusive lock on the slot row for key, blocking while
	// another transaction holds it. ErrNotFound when no such row exists.
	LockSlot(ctx context.Context, key domain.SlotKey) (domain.Schedule, error)
	LockSlotByID(ctx context.Context, id uuid.UUID) (domain.Schedule, error)

	// InsertSlot persists a new slot. ErrDuplicateSlot when another
	// transaction already created the same key; the transaction stays usable.
	InsertSlot(ctx context.Context, slot domain.Schedule) (domain.Schedule, error)

	// SetSlotAvailable updates a locked slot, guarded by slot.Version.
	// ErrStaleSlot when the version moved.
	SetSlotAvailable(ctx context.Context, slot domain.Schedule, available bool) (domain.Schedule, error)

	HasOverlappingAppointment(ctx context.Context, providerID, serviceID uuid.UUID, span domain.Interval) (bool, error)
	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)

	// GetAppointmentForUpdate locks the appointment row and returns it with
	// Client populated.
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
}

type BookingStore interface {
	Catalog
	Directory
	Ledger
}
