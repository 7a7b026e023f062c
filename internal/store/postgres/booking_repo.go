package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"github.com/NIvanov17/AppointmentSystem/internal/domain"
	"github.com/NIvanov17/AppointmentSystem/internal/store"
)

const (
	pgUniqueViolation        = "23505"
	pgExclusionViolation     = "23P01"
	pgSerializationFailure   = "40001"
	pgDeadlockDetected       = "40P01"
	pgLockNotAvailable       = "55P03"
	pgQueryCanceled          = "57014"
	slotOverlapConstraint    = "schedules_no_overlap"
	slotUniqueConflictTarget = "(provider_id, service_id, start_time)"
)

type BookingRepo struct {
	db          *bun.DB
	lockTimeout time.Duration
}

var _ store.BookingStore = (*BookingRepo)(nil)

// NewBookingRepo returns a repo whose transactions wait at most lockTimeout
// for a row lock. Zero leaves the server default in place.
func NewBookingRepo(db *bun.DB, lockTimeout time.Duration) *BookingRepo {
	return &BookingRepo{db: db, lockTimeout: lockTimeout}
}

type ledgerTx struct {
	tx bun.Tx
}

func (r *BookingRepo) GetService(ctx context.Context, id uuid.UUID) (domain.Service, error) {
	var s domain.Service
	err := r.db.NewSelect().
		Model(&s).
		Where("svc.id = ?", id).
		Scan(ctx)
	if err != nil {
		return domain.Service{}, mapError(err)
	}
	return s, nil
}

func (r *BookingRepo) GetWorkingDay(ctx context.Context, providerID uuid.UUID, dayOfWeek int16) (domain.WorkingDay, error) {
	var wd domain.WorkingDay
	err := r.db.NewSelect().
		Model(&wd).
		Where("wd.provider_id = ?", providerID).
		Where("wd.day_of_week = ?", dayOfWeek).
		Scan(ctx)
	if err != nil {
		return domain.WorkingDay{}, mapError(err)
	}
	return wd, nil
}

func (r *BookingRepo) GetUserByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	var u domain.User
	err := r.db.NewSelect().
		Model(&u).
		Where("u.id = ?", id).
		Scan(ctx)
	if err != nil {
		return domain.User{}, mapError(err)
	}
	return u, nil
}

func (r *BookingRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	err := r.db.NewSelect().
		Model(&u).
		Where("u.email = ?", email).
		Scan(ctx)
	if err != nil {
		return domain.User{}, mapError(err)
	}
	return u, nil
}

func (r *BookingRepo) InTransaction(ctx context.Context, fn func(ctx context.Context, tx store.LedgerTx) error) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := setLockTimeout(ctx, tx, r.lockTimeout); err != nil {
			return err
		}
		return fn(ctx, ledgerTx{tx: tx})
	})
	return mapError(err)
}

func setLockTimeout(ctx context.Context, tx bun.Tx, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	_, err := tx.NewRaw("SET LOCAL lock_timeout = ?", fmt.Sprintf("%dms", timeout.Milliseconds())).Exec(ctx)
	return err
}

func (r *BookingRepo) ListBookedIntervals(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]domain.Interval, error) {
	var rows []domain.Schedule
	err := r.db.NewSelect().
		Model(&rows).
		Join("JOIN appointments AS a ON a.schedule_id = s.id").
		Where("a.provider_id = ?", providerID).
		Where("s.start_time < ?", to.UTC()).
		Where("s.end_time > ?", from.UTC()).
		OrderExpr("s.start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]domain.Interval, 0, len(rows))
	for _, s := range rows {
		out = append(out, domain.Interval{Start: s.StartTime, End: s.EndTime})
	}
	return out, nil
}

func (r *BookingRepo) ListAppointments(ctx context.Context, userID uuid.UUID, role domain.Role) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	q := r.db.NewSelect().
		Model(&rows).
		Relation("Client").
		Relation("Provider").
		Relation("Service").
		Relation("Schedule")

	switch role {
	case domain.RoleClient:
		q = q.Where("a.client_id = ?", userID)
	case domain.RoleProvider:
		q = q.Where("a.provider_id = ?", userID)
	default:
		return nil, fmt.Errorf("unsupported role %q", role)
	}

	if err := q.OrderExpr(`"schedule"."start_time" ASC`).Scan(ctx); err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func (t ledgerTx) LockSlot(ctx context.Context, key domain.SlotKey) (domain.Schedule, error) {
	var s domain.Schedule
	err := t.tx.NewSelect().
		Model(&s).
		Where("s.provider_id = ?", key.ProviderID).
		Where("s.service_id = ?", key.ServiceID).
		Where("s.start_time = ?", key.StartTime.UTC()).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return domain.Schedule{}, mapError(err)
	}
	return s, nil
}

func (t ledgerTx) LockSlotByID(ctx context.Context, id uuid.UUID) (domain.Schedule, error) {
	var s domain.Schedule
	err := t.tx.NewSelect().
		Model(&s).
		Where("s.id = ?", id).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return domain.Schedule{}, mapError(err)
	}
	return s, nil
}

// InsertSlot relies on ON CONFLICT DO NOTHING rather than a unique violation:
// a violation would abort the surrounding transaction and make the caller's
// re-lock impossible. When a concurrent transaction holds an uncommitted row
// for the same key, Postgres waits for it to finish before deciding.
func (t ledgerTx) InsertSlot(ctx context.Context, slot domain.Schedule) (domain.Schedule, error) {
	m := domain.Schedule{
		ID:         slot.ID,
		ProviderID: slot.ProviderID,
		ServiceID:  slot.ServiceID,
		StartTime:  slot.StartTime.UTC(),
		EndTime:    slot.EndTime.UTC(),
		Available:  slot.Available,
		Version:    slot.Version,
	}

	res, err := t.tx.NewInsert().
		Model(&m).
		On("CONFLICT " + slotUniqueConflictTarget + " DO NOTHING").
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Schedule{}, store.ErrDuplicateSlot
		}
		return domain.Schedule{}, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Schedule{}, err
	}
	if affected == 0 {
		return domain.Schedule{}, store.ErrDuplicateSlot
	}
	return m, nil
}

func (t ledgerTx) SetSlotAvailable(ctx context.Context, slot domain.Schedule, available bool) (domain.Schedule, error) {
	next := slot
	next.Available = available
	next.Version = slot.Version + 1

	res, err := t.tx.NewUpdate().
		Model(&next).
		Column("available", "version", "updated_at").
		Where("s.id = ?", slot.ID).
		Where("s.version = ?", slot.Version).
		Exec(ctx)
	if err != nil {
		return domain.Schedule{}, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Schedule{}, err
	}
	if affected == 0 {
		return domain.Schedule{}, store.ErrStaleSlot
	}
	return next, nil
}

func (t ledgerTx) HasOverlappingAppointment(ctx context.Context, providerID, serviceID uuid.UUID, span domain.Interval) (bool, error) {
	exists, err := t.tx.NewSelect().
		Model((*domain.Appointment)(nil)).
		Join("JOIN schedules AS s ON s.id = a.schedule_id").
		Where("a.provider_id = ?", providerID).
		Where("a.service_id = ?", serviceID).
		Where("s.start_time < ?", span.End.UTC()).
		Where("s.end_time > ?", span.Start.UTC()).
		Exists(ctx)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

func (t ledgerTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := domain.Appointment{
		ID:         appt.ID,
		ClientID:   appt.ClientID,
		ProviderID: appt.ProviderID,
		ServiceID:  appt.ServiceID,
		ScheduleID: appt.ScheduleID,
		CreatedAt:  appt.CreatedAt,
	}

	if _, err := t.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Appointment{}, mapError(err)
	}
	return m, nil
}

func (t ledgerTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var a domain.Appointment
	err := t.tx.NewSelect().
		Model(&a).
		Where("a.id = ?", id).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, mapError(err)
	}

	var client domain.User
	err = t.tx.NewSelect().
		Model(&client).
		Where("u.id = ?", a.ClientID).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, mapError(err)
	}
	a.Client = &client
	return a, nil
}

func (t ledgerTx) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	res, err := t.tx.NewDelete().
		Model((*domain.Appointment)(nil)).
		Where("a.id = ?", id).
		Exec(ctx)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// mapError translates driver errors into store sentinels and passes every
// other error through untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgExclusionViolation:
		if strings.HasPrefix(pgErr.ConstraintName, slotOverlapConstraint) {
			return fmt.Errorf("%w: %s", store.ErrOverlap, pgErr.Message)
		}
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	case pgQueryCanceled:
		// statement_timeout or lock_timeout expressed as a cancel
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	}
	return err
}
