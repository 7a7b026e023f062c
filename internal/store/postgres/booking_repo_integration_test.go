package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/NIvanov17/AppointmentSystem/internal/domain"
	"github.com/NIvanov17/AppointmentSystem/internal/service/booking"
	"github.com/NIvanov17/AppointmentSystem/internal/store"
)

type fixture struct {
	client   domain.User
	provider domain.User
	service  domain.Service
}

// openTestSchema creates a throwaway schema, applies the migrations and
// returns a pool whose connections all resolve tables in that schema.
func openTestSchema(t *testing.T) *bun.DB {
	t.Helper()

	databaseURL := strings.TrimSpace(os.Getenv("BOOKING_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("BOOKING_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := Open(ctx, databaseURL, Options{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(admin)
	})

	schema := "booking_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	err = admin.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema + ", public").Exec(ctx); err != nil {
			return err
		}
		return applyMigrations(ctx, tx)
	})
	if err != nil {
		t.Fatalf("migrate error: %v", err)
	}

	scopedURL, err := withSearchPath(databaseURL, schema+",public")
	if err != nil {
		t.Fatalf("withSearchPath error: %v", err)
	}
	db, err := Open(ctx, scopedURL, Options{MaxOpenConns: 16, LockTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Open scoped error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})
	return db
}

func seedFixture(t *testing.T, db *bun.DB) fixture {
	t.Helper()
	ctx := context.Background()

	f := fixture{
		client:   domain.User{ID: uuid.New(), Email: "client@example.com", FirstName: "Cara", LastName: "Client", Role: domain.RoleClient},
		provider: domain.User{ID: uuid.New(), Email: "provider@example.com", FirstName: "Petar", LastName: "Provider", Role: domain.RoleProvider},
	}
	f.service = domain.Service{
		ID:              uuid.New(),
		ProviderID:      f.provider.ID,
		Type:            domain.ServiceTypeHaircut,
		Name:            "Haircut",
		Price:           30,
		DurationMinutes: 60,
	}

	if _, err := db.NewInsert().Model(&[]domain.User{f.client, f.provider}).Exec(ctx); err != nil {
		t.Fatalf("insert users: %v", err)
	}
	if _, err := db.NewInsert().Model(&f.service).Exec(ctx); err != nil {
		t.Fatalf("insert service: %v", err)
	}
	days := make([]domain.WorkingDay, 0, 7)
	for d := int16(1); d <= 7; d++ {
		days = append(days, domain.WorkingDay{ProviderID: f.provider.ID, DayOfWeek: d, StartTime: domain.NewClock(9, 0), EndTime: domain.NewClock(12, 0)})
	}
	if _, err := db.NewInsert().Model(&days).Exec(ctx); err != nil {
		t.Fatalf("insert working days: %v", err)
	}
	return f
}

func TestPostgresIntegration_LedgerSlotLifecycle(t *testing.T) {
	db := openTestSchema(t)
	f := seedFixture(t, db)
	repo := NewBookingRepo(db, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	key := domain.SlotKey{ProviderID: f.provider.ID, ServiceID: f.service.ID, StartTime: start}

	var apptID uuid.UUID
	err := repo.InTransaction(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		if _, err := tx.LockSlot(ctx, key); !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("LockSlot on empty ledger err = %v, want %v", err, store.ErrNotFound)
		}

		slot, err := tx.InsertSlot(ctx, domain.Schedule{
			ProviderID: f.provider.ID,
			ServiceID:  f.service.ID,
			StartTime:  start,
			EndTime:    start.Add(time.Hour),
			Available:  true,
		})
		if err != nil {
			return err
		}
		if slot.Version != 1 {
			return fmt.Errorf("new slot version = %d, want 1", slot.Version)
		}

		_, err = tx.InsertSlot(ctx, domain.Schedule{
			ProviderID: f.provider.ID,
			ServiceID:  f.service.ID,
			StartTime:  start,
			EndTime:    start.Add(time.Hour),
			Available:  true,
		})
		if !errors.Is(err, store.ErrDuplicateSlot) {
			return fmt.Errorf("duplicate InsertSlot err = %v, want %v", err, store.ErrDuplicateSlot)
		}

		locked, err := tx.LockSlot(ctx, key)
		if err != nil {
			return fmt.Errorf("LockSlot after duplicate insert: %w", err)
		}
		if locked.ID != slot.ID {
			return fmt.Errorf("locked id = %s, want %s", locked.ID, slot.ID)
		}

		claimed, err := tx.SetSlotAvailable(ctx, locked, false)
		if err != nil {
			return err
		}
		if claimed.Version != 2 || claimed.Available {
			return fmt.Errorf("claimed = %+v", claimed)
		}
		if _, err := tx.SetSlotAvailable(ctx, locked, false); !errors.Is(err, store.ErrStaleSlot) {
			return fmt.Errorf("stale SetSlotAvailable err = %v, want %v", err, store.ErrStaleSlot)
		}

		appt, err := tx.CreateAppointment(ctx, domain.Appointment{
			ClientID:   f.client.ID,
			ProviderID: f.provider.ID,
			ServiceID:  f.service.ID,
			ScheduleID: slot.ID,
		})
		if err != nil {
			return err
		}
		apptID = appt.ID

		overlap, err := tx.HasOverlappingAppointment(ctx, f.provider.ID, f.service.ID, domain.Interval{
			Start: start.Add(30 * time.Minute),
			End:   start.Add(90 * time.Minute),
		})
		if err != nil {
			return err
		}
		if !overlap {
			return fmt.Errorf("expected overlap against the claimed slot")
		}

		adjacent, err := tx.HasOverlappingAppointment(ctx, f.provider.ID, f.service.ID, domain.Interval{
			Start: start.Add(time.Hour),
			End:   start.Add(2 * time.Hour),
		})
		if err != nil {
			return err
		}
		if adjacent {
			return fmt.Errorf("back-to-back interval reported as overlapping")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx error: %v", err)
	}

	booked, err := repo.ListBookedIntervals(ctx, f.provider.ID, start.Truncate(24*time.Hour), start.Truncate(24*time.Hour).Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ListBookedIntervals error: %v", err)
	}
	if len(booked) != 1 || !booked[0].Start.Equal(start) || !booked[0].End.Equal(start.Add(time.Hour)) {
		t.Fatalf("booked = %+v", booked)
	}

	rows, err := repo.ListAppointments(ctx, f.client.ID, domain.RoleClient)
	if err != nil {
		t.Fatalf("ListAppointments error: %v", err)
	}
	if len(rows) != 1 || rows[0].Provider == nil || rows[0].Service == nil || rows[0].Schedule == nil {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].Provider.FullName() != "Petar Provider" || rows[0].Service.Name != "Haircut" {
		t.Fatalf("relations = %+v %+v", rows[0].Provider, rows[0].Service)
	}

	err = repo.InTransaction(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, apptID)
		if err != nil {
			return err
		}
		if appt.Client == nil || appt.Client.Email != f.client.Email {
			return fmt.Errorf("client = %+v", appt.Client)
		}
		slot, err := tx.LockSlotByID(ctx, appt.ScheduleID)
		if err != nil {
			return err
		}
		if _, err := tx.SetSlotAvailable(ctx, slot, true); err != nil {
			return err
		}
		return tx.DeleteAppointment(ctx, apptID)
	})
	if err != nil {
		t.Fatalf("cancel tx error: %v", err)
	}

	booked, err = repo.ListBookedIntervals(ctx, f.provider.ID, start.Add(-time.Hour), start.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("ListBookedIntervals error: %v", err)
	}
	if len(booked) != 0 {
		t.Fatalf("booked after cancel = %+v", booked)
	}
}

func TestPostgresIntegration_ExclusionConstraintMapsToOverlap(t *testing.T) {
	db := openTestSchema(t)
	f := seedFixture(t, db)
	repo := NewBookingRepo(db, 2*time.Second)
	ctx := context.Background()

	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	claim := func(at time.Time) error {
		return repo.InTransaction(ctx, func(ctx context.Context, tx store.LedgerTx) error {
			slot, err := tx.InsertSlot(ctx, domain.Schedule{
				ProviderID: f.provider.ID,
				ServiceID:  f.service.ID,
				StartTime:  at,
				EndTime:    at.Add(time.Hour),
				Available:  true,
			})
			if err != nil {
				return err
			}
			_, err = tx.SetSlotAvailable(ctx, slot, false)
			return err
		})
	}

	if err := claim(start); err != nil {
		t.Fatalf("first claim error: %v", err)
	}
	if err := claim(start.Add(30 * time.Minute)); !errors.Is(err, store.ErrOverlap) {
		t.Fatalf("off-grid claim err = %v, want %v", err, store.ErrOverlap)
	}
	if err := claim(start.Add(time.Hour)); err != nil {
		t.Fatalf("adjacent claim error: %v", err)
	}
}

func TestPostgresIntegration_ParallelBookingsOfOneSlot(t *testing.T) {
	db := openTestSchema(t)
	f := seedFixture(t, db)
	svc := booking.NewService(NewBookingRepo(db, 5*time.Second), booking.Options{Location: time.UTC})

	const n = 10
	start := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateAppointment(context.Background(), booking.CreateAppointmentInput{
				ClientEmail: f.client.Email,
				ServiceID:   f.service.ID,
				ProviderID:  f.provider.ID,
				StartAt:     start,
			})
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case booking.KindOf(err) == booking.KindAlreadyBooked, booking.KindOf(err) == booking.KindConflict:
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("successful bookings = %d, want 1", ok)
	}
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

func withSearchPath(databaseURL, searchPath string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("search_path", searchPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

func applyMigrations(ctx context.Context, exec rawExecutor) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type mig struct {
		name string
		path string
	}
	migs := make([]mig, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		migs = append(migs, mig{name: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].name < migs[j].name })

	for _, m := range migs {
		b, err := os.ReadFile(m.path)
		if err != nil {
			return err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return err
		}
		for _, stmt := range splitSQLStatements(upSQL) {
			if normalized, ok := normalizeExtensionStatement(stmt); ok {
				stmt = normalized
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return fmt.Errorf("%s: %w", m.name, err)
			}
		}
	}

	return nil
}

func migrationsDir() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime.Caller failed")
	}
	base := filepath.Dir(file)
	return filepath.Clean(filepath.Join(base, "..", "..", "..", "migrations")), nil
}

func extractGooseUp(sql string) (string, error) {
	upMarker := "-- +goose Up"
	downMarker := "-- +goose Down"

	upIdx := strings.Index(sql, upMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := strings.TrimLeft(sql[upIdx+len(upMarker):], "\r\n")

	downIdx := strings.Index(afterUp, downMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

// normalizeExtensionStatement pins btree_gist to public so every test schema
// shares one installation.
func normalizeExtensionStatement(stmt string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if !strings.Contains(upper, "BTREE_GIST") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA public", true
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
