// Package booking is the appointment booking engine: availability, the slot
// reservation protocol, cancellation and listing.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/NIvanov17/AppointmentSystem/internal/store"
)

const instrumentationName = "github.com/NIvanov17/AppointmentSystem/internal/service/booking"

// AvailabilityCache stores computed free slots per provider and local date.
// Implementations may drop entries at any time. Get reports the day's
// generation even on a miss; Set refuses the write once Invalidate has moved
// the generation past it.
type AvailabilityCache interface {
	Get(ctx context.Context, providerID uuid.UUID, date string, serviceID uuid.UUID) (slots []string, gen int64, ok bool, err error)
	Set(ctx context.Context, providerID uuid.UUID, date string, serviceID uuid.UUID, gen int64, slots []string) (bool, error)
	Invalidate(ctx context.Context, providerID uuid.UUID, date string) error
}

type Options struct {
	// Location is the business time zone. Working hours and slot times are
	// wall-clock times in it. Defaults to UTC.
	Location *time.Location
	// SlotLockRetries is how many times a booking re-acquires the slot lock
	// after trying to create the slot. Values below 1 mean 1.
	SlotLockRetries int
	Cache           AvailabilityCache
	Logger          *slog.Logger
}

type Service struct {
	store   store.BookingStore
	loc     *time.Location
	retries int
	cache   AvailabilityCache
	log     *slog.Logger
	group   singleflight.Group

	tracer        trace.Tracer
	bookings      metric.Int64Counter
	cancellations metric.Int64Counter
	cacheLookups  metric.Int64Counter
}

func NewService(st store.BookingStore, opts Options) *Service {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	retries := opts.SlotLockRetries
	if retries < 1 {
		retries = 1
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		store:   st,
		loc:     loc,
		retries: retries,
		cache:   opts.Cache,
		log:     log.With(slog.String("component", "booking")),
		tracer:  otel.Tracer(instrumentationName),
	}
	s.initMetrics()
	return s
}

func (s *Service) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error

	s.bookings, err = meter.Int64Counter(
		"booking.create.count",
		metric.WithDescription("Booking attempts by outcome"),
	)
	if err != nil {
		s.log.Warn("metric init failed", slog.String("metric", "booking.create.count"), slog.Any("err", err))
		s.bookings = noop.Int64Counter{}
	}

	s.cancellations, err = meter.Int64Counter(
		"booking.cancel.count",
		metric.WithDescription("Cancellation attempts by outcome"),
	)
	if err != nil {
		s.log.Warn("metric init failed", slog.String("metric", "booking.cancel.count"), slog.Any("err", err))
		s.cancellations = noop.Int64Counter{}
	}

	s.cacheLookups, err = meter.Int64Counter(
		"booking.availability_cache.count",
		metric.WithDescription("Availability cache lookups by result"),
	)
	if err != nil {
		s.log.Warn("metric init failed", slog.String("metric", "booking.availability_cache.count"), slog.Any("err", err))
		s.cacheLookups = noop.Int64Counter{}
	}
}

// Location is the business time zone the service validates and renders in.
func (s *Service) Location() *time.Location {
	return s.loc
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// classify turns store sentinels that escaped a transaction into booking
// errors. Errors that are already classified pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrOverlap):
		return wrapError(KindOverlap, "overlapping appointment exists", err)
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrStaleSlot), errors.Is(err, store.ErrDuplicateSlot):
		return wrapError(KindConflict, "concurrent update, please retry", err)
	case errors.Is(err, store.ErrNotFound):
		return wrapError(KindNotFound, "record not found", err)
	}
	return err
}

func (s *Service) dateKey(t time.Time) string {
	return t.In(s.loc).Format(time.DateOnly)
}

// invalidate drops the cached availability of a provider's day. Failures
// only cost freshness, so they are logged and ignored.
func (s *Service) invalidate(ctx context.Context, providerID uuid.UUID, at time.Time) {
	if s.cache == nil {
		return
	}
	// The write already committed; a caller hanging up must not leave the
	// old snapshot in place.
	date := s.dateKey(at)
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), providerID, date); err != nil {
		s.log.Warn("availability cache invalidate failed",
			slog.String("provider_id", providerID.String()),
			slog.String("date", date),
			slog.Any("err", err),
		)
	}
}

func (s *Service) count(ctx context.Context, c metric.Int64Counter, err error) {
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))
}
