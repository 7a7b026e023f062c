package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NIvanov17/AppointmentSystem/internal/domain"
	"github.com/NIvanov17/AppointmentSystem/internal/store"
)

type AppointmentSummary struct {
	ID              uuid.UUID
	ServiceName     string
	CounterpartName string
	DurationMinutes int
	Price           float64
	ServiceType     domain.ServiceType
	StartAt         time.Time
	EndAt           time.Time
}

// ListAppointments returns the principal's appointments ordered by start. A
// client sees each provider's name, a provider sees each client's name.
func (s *Service) ListAppointments(ctx context.Context, email string, role domain.Role) ([]AppointmentSummary, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, newError(KindInvalid, "email is required")
	}
	if role != domain.RoleClient && role != domain.RoleProvider {
		return nil, newError(KindInvalid, "unsupported role")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(KindNotFound, "user not found")
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.store.ListAppointments(ctx, user.ID, role)
	if err != nil {
		return nil, err
	}

	out := make([]AppointmentSummary, 0, len(rows))
	for _, a := range rows {
		sum := AppointmentSummary{ID: a.ID}
		if a.Service != nil {
			sum.ServiceName = a.Service.Name
			sum.DurationMinutes = a.Service.DurationMinutes
			sum.Price = a.Service.Price
			sum.ServiceType = a.Service.Type
		}
		counterpart := a.Provider
		if role == domain.RoleProvider {
			counterpart = a.Client
		}
		if counterpart != nil {
			sum.CounterpartName = counterpart.FullName()
		}
		if a.Schedule != nil {
			sum.StartAt = a.Schedule.StartTime.In(s.loc)
			sum.EndAt = a.Schedule.EndTime.In(s.loc)
		}
		out = append(out, sum)
	}
	return out, nil
}
