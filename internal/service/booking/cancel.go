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

	"github.com/NIvanov17/AppointmentSystem/internal/store"
)

// CancelAppointment frees the appointment's slot and deletes the appointment
// in one transaction. Only the booking client may cancel.
func (s *Service) CancelAppointment(ctx context.Context, appointmentID uuid.UUID, actorEmail string) error {
	ctx, span := s.tracer.Start(ctx, "booking.CancelAppointment", trace.WithAttributes(
		attribute.String("appointment.id", appointmentID.String()),
	))
	err := s.cancelAppointment(ctx, appointmentID, actorEmail)
	endSpan(span, err)
	s.count(ctx, s.cancellations, err)
	return err
}

func (s *Service) cancelAppointment(ctx context.Context, appointmentID uuid.UUID, actorEmail string) error {
	if appointmentID == uuid.Nil {
		return newError(KindInvalid, "appointment id is required")
	}
	actor := strings.TrimSpace(actorEmail)
	if actor == "" {
		return newError(KindInvalid, "actor email is required")
	}

	var (
		providerID uuid.UUID
		startAt    time.Time
	)
	err := s.store.InTransaction(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, appointmentID)
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindNotFound, "appointment not found")
		}
		if err != nil {
			return err
		}
		if appt.Client == nil || !strings.EqualFold(appt.Client.Email, actor) {
			return newError(KindForbidden, "you are not allowed to cancel this appointment")
		}
		providerID = appt.ProviderID

		slot, err := tx.LockSlotByID(ctx, appt.ScheduleID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.log.Warn("appointment without slot", slog.String("appointment_id", appt.ID.String()))
		case err != nil:
			return err
		default:
			startAt = slot.StartTime
			if _, err := tx.SetSlotAvailable(ctx, slot, true); err != nil {
				return err
			}
		}

		return tx.DeleteAppointment(ctx, appt.ID)
	})
	if err != nil {
		return classify(err)
	}

	if !startAt.IsZero() {
		s.invalidate(ctx, providerID, startAt)
	}
	s.log.Info("appointment cancelled", slog.String("appointment_id", appointmentID.String()))
	return nil
}
