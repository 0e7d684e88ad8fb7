package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/appointment-engine/internal/calendar"
	"github.com/wolfman30/appointment-engine/internal/clinic"
	"github.com/wolfman30/appointment-engine/internal/observability/metrics"
	"github.com/wolfman30/appointment-engine/pkg/logging"
)

// DefaultMaxRangeDays bounds the span of a range query.
const DefaultMaxRangeDays = 90

var tracer = otel.Tracer("booking.internal.availability")

// OccupancyReader returns the intervals an employee is already committed to
// on a date, buffers included, excluding canceled appointments.
type OccupancyReader interface {
	Occupancy(ctx context.Context, tenantID, employeeID string, date calendar.Date) ([]calendar.Interval, error)
}

// DayAvailability is the slot list of one day.
type DayAvailability struct {
	Date  calendar.Date `json:"date"`
	Slots []Slot        `json:"slots"`
}

// DaySummary is one entry of a range query.
type DaySummary struct {
	Date            calendar.Date `json:"date"`
	HasAvailability bool          `json:"has_availability"`
	SlotCount       int           `json:"slot_count"`
}

// Engine answers availability queries for every tenant.
type Engine struct {
	snapshots    clinic.Reader
	occupancy    OccupancyReader
	now          func() time.Time
	granularity  int
	maxRangeDays int
	location     *time.Location
	metrics      *metrics.BookingMetrics
	logger       *logging.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithGranularity sets the slot step used when a tenant does not configure one.
func WithGranularity(minutes int) Option {
	return func(e *Engine) {
		if minutes > 0 {
			e.granularity = minutes
		}
	}
}

// WithMaxRangeDays sets the widest allowed range query.
func WithMaxRangeDays(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.maxRangeDays = days
		}
	}
}

// WithDefaultLocation sets the timezone used for tenants without one.
func WithDefaultLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine wires the tenant snapshot reader and the occupancy index.
func NewEngine(snapshots clinic.Reader, occupancy OccupancyReader, opts ...Option) *Engine {
	if snapshots == nil {
		panic("availability: snapshot reader required")
	}
	if occupancy == nil {
		panic("availability: occupancy reader required")
	}
	e := &Engine{
		snapshots:    snapshots,
		occupancy:    occupancy,
		now:          time.Now,
		granularity:  clinic.DefaultGranularityMinutes,
		maxRangeDays: DefaultMaxRangeDays,
		location:     time.UTC,
		logger:       logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plan is everything needed to evaluate one (employee, service, date)
// without touching storage again.
type Plan struct {
	Tenant      *clinic.Config
	Employee    clinic.Employee
	Service     clinic.Service
	Date        calendar.Date
	Day         calendar.Day
	Shape       Shape
	Granularity int
	Now         Moment
}

// Slots returns the provisional slots of the plan.
func (p *Plan) Slots() []Slot {
	return Generate(p.Day, p.Shape, p.Granularity, p.Now)
}

// Slot returns the provisional slot starting at start, or the reason it is not offered.
func (p *Plan) Slot(start calendar.Minute) (Slot, Reason) {
	if reason := Explain(p.Day, p.Shape, p.Granularity, p.Now, start); reason != ReasonNone {
		return Slot{}, reason
	}
	return Slot{
		Start:     start,
		End:       start + calendar.Minute(p.Shape.Duration),
		Available: true,
		Occupies:  p.Shape.Occupancy(start),
	}, ReasonNone
}

// scope is the per-request part of a plan shared by every date of a range.
type scope struct {
	tenant   *clinic.Config
	employee clinic.Employee
	service  clinic.Service
	calendar *calendar.Calendar
	now      Moment
}

func (s *scope) plan(date calendar.Date, granularity int) *Plan {
	return &Plan{
		Tenant:      s.tenant,
		Employee:    s.employee,
		Service:     s.service,
		Date:        date,
		Day:         s.calendar.WorkingWindowFor(s.employee.ID, date),
		Shape:       ShapeOf(s.service),
		Granularity: s.tenant.Granularity(granularity),
		Now:         s.now,
	}
}

func (e *Engine) load(ctx context.Context, tenantID, employeeID, serviceID string) (*scope, error) {
	switch {
	case strings.TrimSpace(tenantID) == "":
		return nil, invalid("tenant_id", "required")
	case strings.TrimSpace(employeeID) == "":
		return nil, invalid("employee_id", "required")
	case strings.TrimSpace(serviceID) == "":
		return nil, invalid("service_id", "required")
	}

	cfg, err := e.snapshots.Get(ctx, tenantID)
	if errors.Is(err, clinic.ErrTenantNotFound) {
		return nil, notFound("tenant", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("availability: load tenant: %w", err)
	}
	emp, ok := cfg.Employee(employeeID)
	if !ok {
		return nil, notFound("employee", employeeID)
	}
	svc, ok := cfg.Service(serviceID)
	if !ok || !emp.Offers(serviceID) {
		return nil, notFound("service", serviceID)
	}
	cal, err := cfg.Calendar()
	if err != nil {
		return nil, fmt.Errorf("availability: %w", err)
	}

	date, minute := cfg.Now(e.now().In(e.location))
	return &scope{
		tenant:   cfg,
		employee: emp,
		service:  svc,
		calendar: cal,
		now:      Moment{Date: date, Minute: minute},
	}, nil
}

// Prepare resolves the tenant snapshot for one date. The booking path uses
// it before re-reading occupancy inside its transaction.
func (e *Engine) Prepare(ctx context.Context, tenantID, employeeID, serviceID string, date calendar.Date) (*Plan, error) {
	if date.IsZero() {
		return nil, invalid("date", "required")
	}
	s, err := e.load(ctx, tenantID, employeeID, serviceID)
	if err != nil {
		return nil, err
	}
	return s.plan(date, e.granularity), nil
}

// Day returns every slot of the business day, each tagged available or
// occupied. Closed days return an empty list.
func (e *Engine) Day(ctx context.Context, tenantID, employeeID, serviceID string, date calendar.Date) (*DayAvailability, error) {
	ctx, span := tracer.Start(ctx, "availability.day")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.tenant_id", tenantID),
		attribute.String("booking.employee_id", employeeID),
		attribute.String("booking.service_id", serviceID),
		attribute.String("booking.date", date.String()),
	)
	e.metrics.ObserveAvailability("day")

	plan, err := e.Prepare(ctx, tenantID, employeeID, serviceID, date)
	if err != nil {
		return nil, fail(span, err)
	}
	slots, err := e.resolve(ctx, plan)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("booking.slot_count", len(slots)))
	return &DayAvailability{Date: date, Slots: slots}, nil
}

// Range summarizes each day from start to end inclusive.
func (e *Engine) Range(ctx context.Context, tenantID, employeeID, serviceID string, start, end calendar.Date) ([]DaySummary, error) {
	ctx, span := tracer.Start(ctx, "availability.range")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.tenant_id", tenantID),
		attribute.String("booking.employee_id", employeeID),
		attribute.String("booking.start_date", start.String()),
		attribute.String("booking.end_date", end.String()),
	)
	e.metrics.ObserveAvailability("range")

	switch {
	case start.IsZero():
		return nil, fail(span, invalid("start_date", "required"))
	case end.IsZero():
		return nil, fail(span, invalid("end_date", "required"))
	case end.Before(start):
		return nil, fail(span, invalid("end_date", "before start_date"))
	case start.DaysUntil(end) > e.maxRangeDays:
		return nil, fail(span, invalid("end_date", fmt.Sprintf("range exceeds %d days", e.maxRangeDays)))
	}

	s, err := e.load(ctx, tenantID, employeeID, serviceID)
	if err != nil {
		return nil, fail(span, err)
	}

	days := make([]DaySummary, 0, start.DaysUntil(end)+1)
	for d := start; !d.After(end); d = d.AddDays(1) {
		slots, err := e.resolve(ctx, s.plan(d, e.granularity))
		if err != nil {
			return nil, fail(span, err)
		}
		count := 0
		for _, slot := range slots {
			if slot.Available {
				count++
			}
		}
		days = append(days, DaySummary{Date: d, HasAvailability: count > 0, SlotCount: count})
	}
	return days, nil
}

func (e *Engine) resolve(ctx context.Context, plan *Plan) ([]Slot, error) {
	slots := plan.Slots()
	if len(slots) == 0 {
		return slots, nil
	}
	occupied, err := e.occupancy.Occupancy(ctx, plan.Tenant.TenantID, plan.Employee.ID, plan.Date)
	if err != nil {
		e.logger.Error("failed to read occupancy", "tenant_id", plan.Tenant.TenantID, "employee_id", plan.Employee.ID, "date", plan.Date.String(), "error", err)
		return nil, fmt.Errorf("availability: read occupancy: %w", err)
	}
	return ResolveAll(slots, occupied), nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
