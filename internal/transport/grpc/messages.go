package grpc

type GetAvailabilityRequest struct {
	ServiceID string `json:"service_id"`
	// Date is a business-local calendar day, YYYY-MM-DD.
	Date string `json:"date"`
}

type GetAvailabilityResponse struct {
	ServiceID       string   `json:"service_id"`
	ProviderID      string   `json:"provider_id"`
	Date            string   `json:"date"`
	Timezone        string   `json:"timezone"`
	DurationMinutes int      `json:"duration_minutes"`
	Slots           []string `json:"slots"`
}

type CreateAppointmentRequest struct {
	ServiceID  string `json:"service_id"`
	ProviderID string `json:"provider_id"`
	// StartTime is RFC 3339, or YYYY-MM-DDTHH:MM[:SS] in the business zone.
	StartTime string `json:"start_time"`
}

type CreateAppointmentResponse struct {
	AppointmentID   string `json:"appointment_id"`
	ServiceID       string `json:"service_id"`
	ProviderID      string `json:"provider_id"`
	ClientID        string `json:"client_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
}

type ListAppointmentsRequest struct{}

type Appointment struct {
	ID              string  `json:"id"`
	ServiceName     string  `json:"service_name"`
	CounterpartName string  `json:"counterpart_name"`
	DurationMinutes int     `json:"duration_minutes"`
	Price           float64 `json:"price"`
	ServiceType     string  `json:"service_type"`
	StartTime       string  `json:"start_time"`
	EndTime         string  `json:"end_time"`
}

type ListAppointmentsResponse struct {
	Appointments []Appointment `json:"appointments"`
}

type CancelAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type CancelAppointmentResponse struct{}
