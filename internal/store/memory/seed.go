package memory

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/NIvanov17/AppointmentSystem/internal/domain"
)

// Seed is the catalog and directory content of a memory store, as read from
// a YAML (or any viper-supported) file.
type Seed struct {
	Users       []SeedUser       `mapstructure:"users"`
	Services    []SeedService    `mapstructure:"services"`
	WorkingDays []SeedWorkingDay `mapstructure:"working_days"`
}

type SeedUser struct {
	ID        string `mapstructure:"id"`
	Email     string `mapstructure:"email"`
	FirstName string `mapstructure:"first_name"`
	LastName  string `mapstructure:"last_name"`
	Role      string `mapstructure:"role"`
}

type SeedService struct {
	ID              string  `mapstructure:"id"`
	ProviderID      string  `mapstructure:"provider_id"`
	Type            string  `mapstructure:"type"`
	Name            string  `mapstructure:"name"`
	Description     string  `mapstructure:"description"`
	Price           float64 `mapstructure:"price"`
	DurationMinutes int     `mapstructure:"duration_minutes"`
}

type SeedWorkingDay struct {
	ProviderID string `mapstructure:"provider_id"`
	DayOfWeek  int16  `mapstructure:"day_of_week"`
	Start      string `mapstructure:"start"`
	End        string `mapstructure:"end"`
}

func LoadSeedFile(path string) (Seed, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Seed{}, fmt.Errorf("read seed %s: %w", path, err)
	}

	var seed Seed
	if err := v.Unmarshal(&seed); err != nil {
		return Seed{}, fmt.Errorf("decode seed %s: %w", path, err)
	}
	return seed, nil
}

// Apply loads users first, then services and working days that refer to them.
func (s *Store) Apply(seed Seed) error {
	for i, su := range seed.Users {
		id, err := uuid.Parse(su.ID)
		if err != nil {
			return fmt.Errorf("users[%d]: id: %w", i, err)
		}
		role, ok := domain.ParseRole(su.Role)
		if !ok {
			return fmt.Errorf("users[%d]: invalid role %q", i, su.Role)
		}
		err = s.AddUser(domain.User{
			ID:        id,
			Email:     su.Email,
			FirstName: su.FirstName,
			LastName:  su.LastName,
			Role:      role,
		})
		if err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
	}

	for i, ss := range seed.Services {
		id, err := uuid.Parse(ss.ID)
		if err != nil {
			return fmt.Errorf("services[%d]: id: %w", i, err)
		}
		providerID, err := uuid.Parse(ss.ProviderID)
		if err != nil {
			return fmt.Errorf("services[%d]: provider_id: %w", i, err)
		}
		typ, ok := domain.ParseServiceType(ss.Type)
		if !ok {
			return fmt.Errorf("services[%d]: invalid type %q", i, ss.Type)
		}
		err = s.AddService(domain.Service{
			ID:              id,
			ProviderID:      providerID,
			Type:            typ,
			Name:            ss.Name,
			Description:     ss.Description,
			Price:           ss.Price,
			DurationMinutes: ss.DurationMinutes,
		})
		if err != nil {
			return fmt.Errorf("services[%d]: %w", i, err)
		}
	}

	for i, sw := range seed.WorkingDays {
		providerID, err := uuid.Parse(sw.ProviderID)
		if err != nil {
			return fmt.Errorf("working_days[%d]: provider_id: %w", i, err)
		}
		start, err := domain.ParseClock(sw.Start)
		if err != nil {
			return fmt.Errorf("working_days[%d]: start: %w", i, err)
		}
		end, err := domain.ParseClock(sw.End)
		if err != nil {
			return fmt.Errorf("working_days[%d]: end: %w", i, err)
		}
		err = s.AddWorkingDay(domain.WorkingDay{
			ProviderID: providerID,
			DayOfWeek:  sw.DayOfWeek,
			StartTime:  start,
			EndTime:    end,
		})
		if err != nil {
			return fmt.Errorf("working_days[%d]: %w", i, err)
		}
	}
	return nil
}
