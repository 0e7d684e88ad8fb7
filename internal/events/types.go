package events

import "time"

// BookingCreatedV1 is emitted after a booking transaction commits.
type BookingCreatedV1 struct {
	AppointmentID string    `json:"appointment_id"`
	TenantID      string    `json:"tenant_id"`
	EmployeeID    string    `json:"employee_id"`
	ServiceID     string    `json:"service_id"`
	ClientID      string    `json:"client_id"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

func (BookingCreatedV1) EventType() string {
	return "booking.created.v1"
}

// BookingCanceledV1 is emitted when an appointment moves to CANCELED.
type BookingCanceledV1 struct {
	AppointmentID string    `json:"appointment_id"`
	TenantID      string    `json:"tenant_id"`
	EmployeeID    string    `json:"employee_id"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	Reason        string    `json:"reason,omitempty"`
	CanceledAt    time.Time `json:"canceled_at"`
}

func (BookingCanceledV1) EventType() string {
	return "booking.canceled.v1"
}

// BookingStatusChangedV1 covers every other lifecycle transition.
type BookingStatusChangedV1 struct {
	AppointmentID string    `json:"appointment_id"`
	TenantID      string    `json:"tenant_id"`
	EmployeeID    string    `json:"employee_id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Reason        string    `json:"reason,omitempty"`
	ChangedAt     time.Time `json:"changed_at"`
}

func (BookingStatusChangedV1) EventType() string {
	return "booking.status_changed.v1"
}
