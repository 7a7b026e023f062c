package domain

import (
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ServiceType string

const (
	ServiceTypeHaircut           ServiceType = "HAIRCUT"
	ServiceTypeConsultation      ServiceType = "CONSULTATION"
	ServiceTypeMakeup            ServiceType = "MAKEUP"
	ServiceTypeManicure          ServiceType = "MANICURE"
	ServiceTypeMassage           ServiceType = "MASSAGE"
	ServiceTypePersonalTraining  ServiceType = "PERSONAL_TRAINING"
	ServiceTypePhysiotherapy     ServiceType = "PHYSIOTHERAPY"
	ServiceTypeMusicLesson       ServiceType = "MUSIC_LESSON"
	ServiceTypeWorkshop          ServiceType = "WORKSHOP"
	ServiceTypeGardenMaintenance ServiceType = "GARDEN_MAINTENANCE"
)

var serviceTypes = map[ServiceType]struct{}{
	ServiceTypeHaircut:           {},
	ServiceTypeConsultation:      {},
	ServiceTypeMakeup:            {},
	ServiceTypeManicure:          {},
	ServiceTypeMassage:           {},
	ServiceTypePersonalTraining:  {},
	ServiceTypePhysiotherapy:     {},
	ServiceTypeMusicLesson:       {},
	ServiceTypeWorkshop:          {},
	ServiceTypeGardenMaintenance: {},
}

func ParseServiceType(s string) (ServiceType, bool) {
	t := ServiceType(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := serviceTypes[t]
	return t, ok
}

// Service is a catalog entry. Its duration sizes every slot booked for it.
type Service struct {
	bun.BaseModel `bun:"table:services,alias:svc"`

	ID              uuid.UUID   `bun:"id,pk,type:uuid"`
	ProviderID      uuid.UUID   `bun:"provider_id,notnull,type:uuid"`
	Type            ServiceType `bun:"service_type,notnull"`
	Name            string      `bun:"name,notnull"`
	Description     string      `bun:"description,notnull"`
	Price           float64     `bun:"price,notnull"`
	DurationMinutes int         `bun:"duration_minutes,notnull"`
}
