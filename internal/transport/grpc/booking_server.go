package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/NIvanov17/AppointmentSystem/internal/domain"
	"github.com/NIvanov17/AppointmentSystem/internal/service/booking"
)

type BookingServer struct {
	svc bookingService
	log *slog.Logger
}

type bookingService interface {
	GetAvailability(ctx context.Context, serviceID uuid.UUID, date time.Time) (booking.Availability, error)
	CreateAppointment(ctx context.Context, in booking.CreateAppointmentInput) (booking.Confirmation, error)
	ListAppointments(ctx context.Context, email string, role domain.Role) ([]booking.AppointmentSummary, error)
	CancelAppointment(ctx context.Context, appointmentID uuid.UUID, actorEmail string) error
	Location() *time.Location
}

var _ BookingServiceServer = (*BookingServer)(nil)

func NewBookingServer(svc bookingService, log *slog.Logger) *BookingServer {
	if log == nil {
		log = slog.Default()
	}
	return &BookingServer{
		svc: svc,
		log: log.With(slog.String("component", "grpc.booking")),
	}
}

func (s *BookingServer) GetAvailability(ctx context.Context, req *GetAvailabilityRequest) (*GetAvailabilityResponse, error) {
	log := s.log.With(slog.String("rpc", "GetAvailability"))

	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	serviceID, err := uuid.Parse(strings.TrimSpace(req.ServiceID))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_service_id"))
		return nil, status.Error(codes.InvalidArgument, "service_id must be a UUID")
	}
	date, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(req.Date), s.svc.Location())
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_date"), slog.String("date", req.Date))
		return nil, status.Error(codes.InvalidArgument, "date must be YYYY-MM-DD")
	}

	a, err := s.svc.GetAvailability(ctx, serviceID, date)
	if err != nil {
		return nil, s.statusFromError(log, err, slog.String("service_id", serviceID.String()))
	}

	log.Debug(
		"availability listed",
		slog.String("service_id", serviceID.String()),
		slog.String("date", a.Date),
		slog.Int("count", len(a.Slots)),
	)

	return &GetAvailabilityResponse{
		ServiceID:       a.ServiceID.String(),
		ProviderID:      a.ProviderID.String(),
		Date:            a.Date,
		Timezone:        a.Timezone,
		DurationMinutes: a.DurationMinutes,
		Slots:           a.Slots,
	}, nil
}

func (s *BookingServer) CreateAppointment(ctx context.Context, req *CreateAppointmentRequest) (*CreateAppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "CreateAppointment"))

	p, ok := principalFromContext(ctx)
	if !ok {
		log.Warn("unauthenticated request")
		return nil, status.Error(codes.Unauthenticated, "principal is required")
	}
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	serviceID, err := uuid.Parse(strings.TrimSpace(req.ServiceID))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_service_id"))
		return nil, status.Error(codes.InvalidArgument, "service_id must be a UUID")
	}
	providerID, err := uuid.Parse(strings.TrimSpace(req.ProviderID))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_provider_id"))
		return nil, status.Error(codes.InvalidArgument, "provider_id must be a UUID")
	}
	startAt, err := parseStartTime(req.StartTime, s.svc.Location())
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_start_time"), slog.String("start_time", req.StartTime))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	conf, err := s.svc.CreateAppointment(ctx, booking.CreateAppointmentInput{
		ClientEmail: p.Email,
		ServiceID:   serviceID,
		ProviderID:  providerID,
		StartAt:     startAt,
	})
	if err != nil {
		return nil, s.statusFromError(log, err,
			slog.String("service_id", serviceID.String()),
			slog.String("provider_id", providerID.String()),
			slog.Time("start_time", startAt),
		)
	}

	return &CreateAppointmentResponse{
		AppointmentID:   conf.AppointmentID.String(),
		ServiceID:       conf.ServiceID.String(),
		ProviderID:      conf.ProviderID.String(),
		ClientID:        conf.ClientID.String(),
		StartTime:       conf.StartAt.In(s.svc.Location()).Format(time.RFC3339),
		DurationMinutes: conf.DurationMinutes,
		Status:          conf.Status,
	}, nil
}

func (s *BookingServer) ListAppointments(ctx context.Context, req *ListAppointmentsRequest) (*ListAppointmentsResponse, error) {
	log := s.log.With(slog.String("rpc", "ListAppointments"))

	p, ok := principalFromContext(ctx)
	if !ok {
		log.Warn("unauthenticated request")
		return nil, status.Error(codes.Unauthenticated, "principal is required")
	}

	summaries, err := s.svc.ListAppointments(ctx, p.Email, p.Role)
	if err != nil {
		return nil, s.statusFromError(log, err, slog.String("role", string(p.Role)))
	}

	loc := s.svc.Location()
	out := make([]Appointment, 0, len(summaries))
	for _, a := range summaries {
		out = append(out, Appointment{
			ID:              a.ID.String(),
			ServiceName:     a.ServiceName,
			CounterpartName: a.CounterpartName,
			DurationMinutes: a.DurationMinutes,
			Price:           a.Price,
			ServiceType:     string(a.ServiceType),
			StartTime:       a.StartAt.In(loc).Format(time.RFC3339),
			EndTime:         a.EndAt.In(loc).Format(time.RFC3339),
		})
	}

	log.Debug("appointments listed", slog.String("role", string(p.Role)), slog.Int("count", len(out)))
	return &ListAppointmentsResponse{Appointments: out}, nil
}

func (s *BookingServer) CancelAppointment(ctx context.Context, req *CancelAppointmentRequest) (*CancelAppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "CancelAppointment"))

	p, ok := principalFromContext(ctx)
	if !ok {
		log.Warn("unauthenticated request")
		return nil, status.Error(codes.Unauthenticated, "principal is required")
	}
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := uuid.Parse(strings.TrimSpace(req.AppointmentID))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "appointment_id must be a UUID")
	}

	if err := s.svc.CancelAppointment(ctx, id, p.Email); err != nil {
		return nil, s.statusFromError(log, err, slog.String("appointment_id", id.String()))
	}
	return &CancelAppointmentResponse{}, nil
}

// statusFromError maps booking failures onto gRPC codes. Anything
// unclassified is logged and hidden behind Internal.
func (s *BookingServer) statusFromError(log *slog.Logger, err error, attrs ...any) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("request deadline exceeded", attrs...)
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		log.Info("request canceled", attrs...)
		return status.Error(codes.Canceled, "request canceled")
	}

	var bErr *booking.Error
	if !errors.As(err, &bErr) {
		log.Error("request failed", append([]any{slog.Any("err", err)}, attrs...)...)
		return status.Error(codes.Internal, "internal error")
	}

	code := codeForKind(bErr.Kind)
	if code == codes.Internal {
		log.Error("request failed", append([]any{slog.Any("err", err)}, attrs...)...)
		return status.Error(codes.Internal, "internal error")
	}
	log.Info("request rejected", append([]any{slog.String("kind", string(bErr.Kind)), slog.Any("err", err)}, attrs...)...)
	return status.Error(code, bErr.Message)
}

func codeForKind(k booking.Kind) codes.Code {
	switch k {
	case booking.KindInvalid:
		return codes.InvalidArgument
	case booking.KindNotFound:
		return codes.NotFound
	case booking.KindOutOfPolicy:
		return codes.OutOfRange
	case booking.KindAlreadyBooked:
		return codes.AlreadyExists
	case booking.KindOverlap:
		return codes.FailedPrecondition
	case booking.KindConflict:
		return codes.Aborted
	case booking.KindForbidden:
		return codes.PermissionDenied
	default:
		return codes.Internal
	}
}

var localStartLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04"}

// parseStartTime accepts RFC 3339, or a wall-clock time without offset which
// is read in loc.
func parseStartTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("start_time is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localStartLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("start_time %q must be RFC 3339 or YYYY-MM-DDTHH:MM[:SS]", s)
}
