package booking

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/NIvanov17/AppointmentSystem/internal/domain"
	"github.com/NIvanov17/AppointmentSystem/internal/store"
)

type Availability struct {
	ServiceID       uuid.UUID
	ProviderID      uuid.UUID
	Date            string
	Timezone        string
	DurationMinutes int
	// Slots are "HH:MM" local start times, ascending.
	Slots []string
}

// GetAvailability lists the free slot starts of a service on the calendar
// day of date (its year, month and day; the zone is ignored). A closed day
// yields no slots rather than an error. The result is advisory: nothing is
// locked, and a slot listed here can still be lost to a concurrent booking.
func (s *Service) GetAvailability(ctx context.Context, serviceID uuid.UUID, date time.Time) (Availability, error) {
	if serviceID == uuid.Nil {
		return Availability{}, newError(KindInvalid, "service id is required")
	}
	if date.IsZero() {
		return Availability{}, newError(KindInvalid, "date is required")
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.loc)

	// Concurrent callers for the same day share one computation. It runs
	// detached from the caller that started it; each caller still stops
	// waiting when its own context ends.
	key := serviceID.String() + "/" + day.Format(time.DateOnly)
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.availability(shared, serviceID, day)
	})

	select {
	case <-ctx.Done():
		return Availability{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Availability{}, res.Err
		}
		a := res.Val.(Availability)
		a.Slots = slices.Clone(a.Slots)
		return a, nil
	}
}

func (s *Service) availability(ctx context.Context, serviceID uuid.UUID, day time.Time) (Availability, error) {
	ctx, span := s.tracer.Start(ctx, "booking.GetAvailability", trace.WithAttributes(
		attribute.String("service.id", serviceID.String()),
		attribute.String("date", day.Format(time.DateOnly)),
	))
	var err error
	defer func() { endSpan(span, err) }()

	svc, err := s.store.GetService(ctx, serviceID)
	if errors.Is(err, store.ErrNotFound) {
		err = newError(KindNotFound, "service not found")
		return Availability{}, err
	}
	if err != nil {
		return Availability{}, err
	}

	out := Availability{
		ServiceID:       svc.ID,
		ProviderID:      svc.ProviderID,
		Date:            day.Format(time.DateOnly),
		Timezone:        s.loc.String(),
		DurationMinutes: svc.DurationMinutes,
		Slots:           []string{},
	}

	wd, err := s.store.GetWorkingDay(ctx, svc.ProviderID, domain.ISOWeekday(day))
	if errors.Is(err, store.ErrNotFound) {
		err = nil
		return out, nil
	}
	if err != nil {
		return Availability{}, err
	}

	slots, gen, ok := s.cachedSlots(ctx, svc, out.Date)
	if ok {
		out.Slots = slots
		return out, nil
	}

	booked, err := s.store.ListBookedIntervals(ctx, svc.ProviderID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return Availability{}, err
	}

	length := time.Duration(svc.DurationMinutes) * time.Minute
	for c := range domain.SlotStarts(wd.StartTime, wd.EndTime, svc.DurationMinutes) {
		start := c.On(day)
		candidate := domain.Interval{Start: start, End: start.Add(length)}
		if !overlapsAny(candidate, booked) {
			out.Slots = append(out.Slots, c.String())
		}
	}

	s.storeSlots(ctx, svc, out.Date, gen, out.Slots)
	return out, nil
}

func overlapsAny(candidate domain.Interval, booked []domain.Interval) bool {
	for _, b := range booked {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}

func (s *Service) cachedSlots(ctx context.Context, svc domain.Service, date string) ([]string, int64, bool) {
	if s.cache == nil {
		return nil, 0, false
	}
	slots, gen, ok, err := s.cache.Get(ctx, svc.ProviderID, date, svc.ID)
	if err != nil {
		s.log.Warn("availability cache read failed",
			slog.String("provider_id", svc.ProviderID.String()),
			slog.String("date", date),
			slog.Any("err", err),
		)
		return nil, -1, false
	}
	result := "miss"
	if ok {
		result = "hit"
	}
	s.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	if !ok {
		return nil, gen, false
	}
	if slots == nil {
		slots = []string{}
	}
	return slots, gen, true
}

// storeSlots is skipped after a failed read: without a generation the write
// could land on top of a newer invalidation.
func (s *Service) storeSlots(ctx context.Context, svc domain.Service, date string, gen int64, slots []string) {
	if s.cache == nil || gen < 0 {
		return
	}
	stored, err := s.cache.Set(ctx, svc.ProviderID, date, svc.ID, gen, slots)
	if err != nil {
		s.log.Warn("availability cache write failed",
			slog.String("provider_id", svc.ProviderID.String()),
			slog.String("date", date),
			slog.Any("err", err),
		)
		return
	}
	if !stored {
		s.log.Debug("availability snapshot superseded",
			slog.String("provider_id", svc.ProviderID.String()),
			slog.String("date", date),
		)
	}
}
