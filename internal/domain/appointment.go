package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const AppointmentStatusConfirmed = "CONFIRMED"

// Appointment owns exactly one Schedule row; the two share a lifecycle.
type Appointment struct {
	bun.BaseModel `bun:"table:appointments,alias:a"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	ClientID   uuid.UUID `bun:"client_id,notnull,type:uuid"`
	ProviderID uuid.UUID `bun:"provider_id,notnull,type:uuid"`
	ServiceID  uuid.UUID `bun:"service_id,notnull,type:uuid"`
	ScheduleID uuid.UUID `bun:"schedule_id,notnull,type:uuid"`
	CreatedAt  time.Time `bun:"created_at,notnull"`

	Client   *User     `bun:"rel:belongs-to,join:client_id=id"`
	Provider *User     `bun:"rel:belongs-to,join:provider_id=id"`
	Service  *Service  `bun:"rel:belongs-to,join:service_id=id"`
	Schedule *Schedule `bun:"rel:belongs-to,join:schedule_id=id"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); !ok {
		return nil
	}
	if a.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		a.ID = id
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}
