package bookings

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/appointment-engine/internal/calendar"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusConfirmed   Status = "CONFIRMED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusCanceled    Status = "CANCELED"
	StatusNoShow      Status = "NO_SHOW"
	StatusRescheduled Status = "RESCHEDULED"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCanceled, StatusRescheduled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCanceled, StatusRescheduled, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

// ParseStatus accepts any casing of a known status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCanceled, StatusNoShow, StatusRescheduled:
		return s, nil
	}
	return "", fmt.Errorf("bookings: unknown status %q", raw)
}

// Occupies reports whether appointments in this status block the employee.
// Only cancellation frees the time.
func (s Status) Occupies() bool {
	return s != StatusCanceled
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Appointment is a booked service. Occupied is the service interval widened
// by the service buffers and is what conflict checks compare.
type Appointment struct {
	ID           uuid.UUID         `json:"id"`
	TenantID     string            `json:"tenant_id"`
	EmployeeID   string            `json:"employee_id"`
	ClientID     string            `json:"client_id"`
	ServiceID    string            `json:"service_id"`
	Date         calendar.Date     `json:"date"`
	StartTime    calendar.Minute   `json:"start_time"`
	EndTime      calendar.Minute   `json:"end_time"`
	Occupied     calendar.Interval `json:"occupied"`
	Status       Status            `json:"status"`
	StatusReason string            `json:"status_reason,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (a *Appointment) key() DayKey {
	return DayKey{TenantID: a.TenantID, EmployeeID: a.EmployeeID, Date: a.Date}
}

// DayKey identifies the unit of booking serialization.
type DayKey struct {
	TenantID   string
	EmployeeID string
	Date       calendar.Date
}

func (k DayKey) String() string {
	return k.TenantID + "/" + k.EmployeeID + "/" + k.Date.String()
}
