package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NIvanov17/AppointmentSystem/internal/domain"
	"github.com/NIvanov17/AppointmentSystem/internal/store"
)

type CreateAppointmentInput struct {
	ClientEmail string
	ServiceID   uuid.UUID
	ProviderID  uuid.UUID
	StartAt     time.Time
}

type Confirmation struct {
	AppointmentID   uuid.UUID
	ServiceID       uuid.UUID
	ProviderID      uuid.UUID
	ClientID        uuid.UUID
	StartAt         time.Time
	DurationMinutes int
	Status          string
}

// CreateAppointment books the slot starting at in.StartAt. Exclusion between
// concurrent bookings of the same slot comes from the store's row lock on
// (provider, service, start); nothing here serializes callers.
func (s *Service) CreateAppointment(ctx context.Context, in CreateAppointmentInput) (Confirmation, error) {
	ctx, span := s.tracer.Start(ctx, "booking.CreateAppointment", trace.WithAttributes(
		attribute.String("service.id", in.ServiceID.String()),
		attribute.String("provider.id", in.ProviderID.String()),
	))
	conf, err := s.createAppointment(ctx, in)
	endSpan(span, err)
	s.count(ctx, s.bookings, err)
	return conf, err
}

func (s *Service) createAppointment(ctx context.Context, in CreateAppointmentInput) (Confirmation, error) {
	email := strings.TrimSpace(in.ClientEmail)
	if email == "" {
		return Confirmation{}, newError(KindInvalid, "client email is required")
	}
	if in.ServiceID == uuid.Nil {
		return Confirmation{}, newError(KindInvalid, "service id is required")
	}
	if in.ProviderID == uuid.Nil {
		return Confirmation{}, newError(KindInvalid, "provider id is required")
	}
	if in.StartAt.IsZero() {
		return Confirmation{}, newError(KindInvalid, "start time is required")
	}

	svc, err := s.store.GetService(ctx, in.ServiceID)
	if errors.Is(err, store.ErrNotFound) {
		return Confirmation{}, newError(KindNotFound, "service not found")
	}
	if err != nil {
		return Confirmation{}, err
	}
	if svc.ProviderID != in.ProviderID {
		return Confirmation{}, newError(KindNotFound, "service is not offered by this provider")
	}

	client, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return Confirmation{}, newError(KindNotFound, "client not found")
	}
	if err != nil {
		return Confirmation{}, err
	}
	provider, err := s.store.GetUserByID(ctx, in.ProviderID)
	if errors.Is(err, store.ErrNotFound) {
		return Confirmation{}, newError(KindNotFound, "provider not found")
	}
	if err != nil {
		return Confirmation{}, err
	}

	startAt := in.StartAt.In(s.loc)
	endAt := startAt.Add(time.Duration(svc.DurationMinutes) * time.Minute)
	if !endAt.After(startAt) {
		return Confirmation{}, newError(KindInvalid, "service duration must be positive")
	}
	if err := s.validateWorkingWindow(ctx, provider.ID, startAt, endAt); err != nil {
		return Confirmation{}, err
	}

	key := domain.SlotKey{ProviderID: provider.ID, ServiceID: svc.ID, StartTime: startAt}
	interval := domain.Interval{Start: startAt, End: endAt}

	var created domain.Appointment
	err = s.store.InTransaction(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		slot, err := s.lockOrCreateSlot(ctx, tx, key, endAt)
		if err != nil {
			return err
		}
		if !slot.Available {
			return newError(KindAlreadyBooked, "time slot already booked")
		}

		overlap, err := tx.HasOverlappingAppointment(ctx, provider.ID, svc.ID, interval)
		if err != nil {
			return err
		}
		if overlap {
			return newError(KindOverlap, "overlapping appointment exists")
		}

		claimed, err := tx.SetSlotAvailable(ctx, slot, false)
		if err != nil {
			return err
		}

		created, err = tx.CreateAppointment(ctx, domain.Appointment{
			ClientID:   client.ID,
			ProviderID: provider.ID,
			ServiceID:  svc.ID,
			ScheduleID: claimed.ID,
		})
		return err
	})
	if err != nil {
		return Confirmation{}, classify(err)
	}

	s.invalidate(ctx, provider.ID, startAt)
	s.log.Info("appointment booked",
		slog.String("appointment_id", created.ID.String()),
		slog.String("service_id", svc.ID.String()),
		slog.String("provider_id", provider.ID.String()),
		slog.Time("start_at", startAt),
	)

	return Confirmation{
		AppointmentID:   created.ID,
		ServiceID:       svc.ID,
		ProviderID:      provider.ID,
		ClientID:        client.ID,
		StartAt:         startAt,
		DurationMinutes: svc.DurationMinutes,
		Status:          domain.AppointmentStatusConfirmed,
	}, nil
}

// validateWorkingWindow runs before any write. [startAt, endAt) must sit on
// one local calendar day inside that weekday's working window.
func (s *Service) validateWorkingWindow(ctx context.Context, providerID uuid.UUID, startAt, endAt time.Time) error {
	wd, err := s.store.GetWorkingDay(ctx, providerID, domain.ISOWeekday(startAt))
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindOutOfPolicy, "provider does not work on this day")
	}
	if err != nil {
		return err
	}

	if !sameDate(startAt, endAt) {
		return newError(KindOutOfPolicy, "appointment crosses midnight")
	}

	window := wd.Window(startAt)
	if startAt.Before(window.Start) || endAt.After(window.End) {
		return newError(KindOutOfPolicy, "outside working hours")
	}
	return nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// lockOrCreateSlot returns the locked slot for key, creating it first when it
// does not exist yet. Losing the creation race to another transaction is
// expected; the follow-up lock then waits for the winner.
func (s *Service) lockOrCreateSlot(ctx context.Context, tx store.LedgerTx, key domain.SlotKey, endAt time.Time) (domain.Schedule, error) {
	slot, err := tx.LockSlot(ctx, key)
	if err == nil || !errors.Is(err, store.ErrNotFound) {
		return slot, err
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		_, err = tx.InsertSlot(ctx, domain.Schedule{
			ProviderID: key.ProviderID,
			ServiceID:  key.ServiceID,
			StartTime:  key.StartTime,
			EndTime:    endAt,
			Available:  true,
		})
		if errors.Is(err, store.ErrDuplicateSlot) {
			s.log.Debug("slot created concurrently", slog.String("slot", key.String()))
		} else if err != nil {
			return domain.Schedule{}, err
		}

		slot, err = tx.LockSlot(ctx, key)
		if err == nil || !errors.Is(err, store.ErrNotFound) {
			return slot, err
		}
	}
	return domain.Schedule{}, newError(KindConflict, "slot creation race, please retry")
}
