// Package clinic holds the per-tenant configuration snapshot the booking
// engine reads: timezone, employees, services, working hours and exceptions.
// The CRUD side writes it; the availability and booking paths only read it.
package clinic

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/wolfman30/appointment-engine/internal/calendar"
)

// DefaultGranularityMinutes is the step between candidate slot starts.
const DefaultGranularityMinutes = 30

var (
	// ErrTenantNotFound is returned when no configuration exists for a tenant.
	ErrTenantNotFound = errors.New("clinic: tenant not found")
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("clinic: invalid config")
	// ErrInvalidService is returned for services with impossible durations.
	ErrInvalidService = errors.New("clinic: invalid service")
)

// Employee is a bookable staff member.
type Employee struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// ServiceIDs restricts the services this employee performs. Empty means all.
	ServiceIDs []string `json:"service_ids,omitempty"`
}

// Offers reports whether the employee performs the service.
func (e Employee) Offers(serviceID string) bool {
	if len(e.ServiceIDs) == 0 {
		return true
	}
	for _, id := range e.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

// Service is a bookable treatment. Buffers occupy the employee without serving.
type Service struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	DurationMinutes     int    `json:"duration_minutes"`
	BufferBeforeMinutes int    `json:"buffer_before_minutes"`
	BufferAfterMinutes  int    `json:"buffer_after_minutes"`
}

// NewService builds a service and rejects non-positive durations or negative buffers.
func NewService(id, name string, duration, bufferBefore, bufferAfter int) (Service, error) {
	s := Service{
		ID:                  strings.TrimSpace(id),
		Name:                name,
		DurationMinutes:     duration,
		BufferBeforeMinutes: bufferBefore,
		BufferAfterMinutes:  bufferAfter,
	}
	if err := s.Validate(); err != nil {
		return Service{}, err
	}
	return s, nil
}

func (s Service) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id required", ErrInvalidService)
	}
	if s.DurationMinutes <= 0 {
		return fmt.Errorf("%w: %s duration must be positive", ErrInvalidService, s.ID)
	}
	if s.BufferBeforeMinutes < 0 || s.BufferAfterMinutes < 0 {
		return fmt.Errorf("%w: %s buffers must not be negative", ErrInvalidService, s.ID)
	}
	if s.TotalOccupancy() > int(calendar.MinutesPerDay) {
		return fmt.Errorf("%w: %s longer than a day", ErrInvalidService, s.ID)
	}
	return nil
}

// TotalOccupancy is duration plus both buffers, in minutes.
func (s Service) TotalOccupancy() int {
	return s.DurationMinutes + s.BufferBeforeMinutes + s.BufferAfterMinutes
}

// Config is the configuration snapshot of one tenant.
type Config struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"` // e.g., "America/New_York"
	// SlotGranularityMinutes is the step between candidate starts. Zero means the default.
	SlotGranularityMinutes int                          `json:"slot_granularity_minutes,omitempty"`
	Employees              []Employee                   `json:"employees"`
	Services               []Service                    `json:"services"`
	WorkingHours           []calendar.WorkingHoursRule  `json:"working_hours"`
	Exceptions             []calendar.CalendarException `json:"exceptions,omitempty"`
}

// DefaultConfig returns an empty configuration for a new tenant.
func DefaultConfig(tenantID string) *Config {
	return &Config{
		TenantID:               tenantID,
		Name:                   "Clinic",
		Timezone:               "America/New_York",
		SlotGranularityMinutes: DefaultGranularityMinutes,
		Employees:              []Employee{},
		Services:               []Service{},
		WorkingHours:           []calendar.WorkingHoursRule{},
	}
}

// Validate rejects configurations the engine could not evaluate. Invalid
// working hours are caught here, at write time, not when slots are queried.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("%w: tenant id required", ErrInvalidConfig)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil || strings.TrimSpace(c.Timezone) == "" {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidConfig, c.Timezone)
	}
	if c.SlotGranularityMinutes < 0 || c.SlotGranularityMinutes > int(calendar.MinutesPerDay) {
		return fmt.Errorf("%w: granularity %d", ErrInvalidConfig, c.SlotGranularityMinutes)
	}

	services := make(map[string]struct{}, len(c.Services))
	for _, s := range c.Services {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if _, dup := services[s.ID]; dup {
			return fmt.Errorf("%w: duplicate service %s", ErrInvalidConfig, s.ID)
		}
		services[s.ID] = struct{}{}
	}

	employees := make(map[string]struct{}, len(c.Employees))
	for _, e := range c.Employees {
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("%w: employee id required", ErrInvalidConfig)
		}
		if _, dup := employees[e.ID]; dup {
			return fmt.Errorf("%w: duplicate employee %s", ErrInvalidConfig, e.ID)
		}
		for _, sid := range e.ServiceIDs {
			if _, ok := services[sid]; !ok {
				return fmt.Errorf("%w: employee %s references unknown service %s", ErrInvalidConfig, e.ID, sid)
			}
		}
		employees[e.ID] = struct{}{}
	}

	for _, r := range c.WorkingHours {
		if _, ok := employees[r.EmployeeID]; !ok {
			return fmt.Errorf("%w: working hours for unknown employee %s", ErrInvalidConfig, r.EmployeeID)
		}
	}
	for _, e := range c.Exceptions {
		if !e.BusinessWide() {
			if _, ok := employees[e.EmployeeID]; !ok {
				return fmt.Errorf("%w: exception for unknown employee %s", ErrInvalidConfig, e.EmployeeID)
			}
		}
	}
	if _, err := calendar.New(c.WorkingHours, c.Exceptions); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Location returns the tenant timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Granularity returns the configured slot step, or fallback when unset.
func (c *Config) Granularity(fallback int) int {
	if c.SlotGranularityMinutes > 0 {
		return c.SlotGranularityMinutes
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultGranularityMinutes
}

// Employee looks up an employee by id.
func (c *Config) Employee(id string) (Employee, bool) {
	for _, e := range c.Employees {
		if e.ID == id {
			return e, true
		}
	}
	return Employee{}, false
}

// Service looks up a service by id.
func (c *Config) Service(id string) (Service, bool) {
	for _, s := range c.Services {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}

// Calendar builds the calendar lookup for this snapshot.
func (c *Config) Calendar() (*calendar.Calendar, error) {
	cal, err := calendar.New(c.WorkingHours, c.Exceptions)
	if err != nil {
		return nil, fmt.Errorf("clinic: build calendar for %s: %w", c.TenantID, err)
	}
	return cal, nil
}

// Now returns the tenant-local date and minute of the instant t. Without a
// configured timezone t is read in its own location.
func (c *Config) Now(t time.Time) (calendar.Date, calendar.Minute) {
	if c.Timezone != "" {
		t = t.In(c.Location())
	}
	return calendar.DateOf(t), calendar.MinuteOf(t)
}
