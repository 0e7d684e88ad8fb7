package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/appointment-engine/internal/availability"
	"github.com/wolfman30/appointment-engine/internal/calendar"
	"github.com/wolfman30/appointment-engine/internal/events"
	"github.com/wolfman30/appointment-engine/internal/observability/metrics"
	"github.com/wolfman30/appointment-engine/pkg/logging"
)

var bookingsTracer = otel.Tracer("booking.internal.bookings")

// Publisher receives events after a transaction commits. Publish must not
// block; delivery and retries belong to the publisher.
type Publisher interface {
	Publish(aggregate string, evt events.CanonicalEvent, opts ...events.EnvelopeOption) bool
}

// BookRequest is the input of Book.
type BookRequest struct {
	TenantID   string
	EmployeeID string
	ServiceID  string
	ClientID   string
	Date       calendar.Date
	StartTime  calendar.Minute
	// Status is PENDING or CONFIRMED. Empty means PENDING.
	Status   Status
	Metadata map[string]string
}

// Service is the booking write path.
type Service struct {
	engine    *availability.Engine
	repo      Repository
	publisher Publisher
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	now       func() time.Time
}

// NewService constructs a bookings service.
func NewService(engine *availability.Engine, repo Repository, publisher Publisher, m *metrics.BookingMetrics, logger *logging.Logger) *Service {
	if engine == nil {
		panic("bookings: availability engine required")
	}
	if repo == nil {
		panic("bookings: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{engine: engine, repo: repo, publisher: publisher, metrics: m, logger: logger, now: time.Now}
}

// Book commits a new appointment if the requested slot is still free. The
// occupancy check is repeated under the day lock against freshly read
// appointments, so of two concurrent requests for one slot exactly one wins.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.tenant_id", req.TenantID),
		attribute.String("booking.employee_id", req.EmployeeID),
		attribute.String("booking.service_id", req.ServiceID),
		attribute.String("booking.date", req.Date.String()),
		attribute.String("booking.start", req.StartTime.String()),
	)
	started := time.Now()

	appt, err := s.book(ctx, req)
	s.metrics.ObserveBooking(resultLabel(err), time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		s.logOutcome(req, err)
		return nil, err
	}

	s.publish(ctx, appt.ID, events.BookingCreatedV1{
		AppointmentID: appt.ID.String(),
		TenantID:      appt.TenantID,
		EmployeeID:    appt.EmployeeID,
		ServiceID:     appt.ServiceID,
		ClientID:      appt.ClientID,
		Date:          appt.Date.String(),
		StartTime:     appt.StartTime.String(),
		EndTime:       appt.EndTime.String(),
		Status:        string(appt.Status),
		CreatedAt:     appt.CreatedAt,
	})
	s.logger.Info("appointment booked",
		"tenant_id", appt.TenantID,
		"employee_id", appt.EmployeeID,
		"appointment_id", appt.ID,
		"date", appt.Date.String(),
		"start", appt.StartTime.String(),
	)
	return appt, nil
}

func (s *Service) book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if strings.TrimSpace(req.ClientID) == "" {
		return nil, invalid("client_id", "required")
	}
	status := req.Status
	if status == "" {
		status = StatusPending
	}
	if status != StatusPending && status != StatusConfirmed {
		return nil, invalid("status", "must be PENDING or CONFIRMED")
	}
	if !req.StartTime.Valid() {
		return nil, invalid("start_time", "out of range")
	}

	plan, err := s.engine.Prepare(ctx, req.TenantID, req.EmployeeID, req.ServiceID, req.Date)
	if err != nil {
		return nil, err
	}
	if req.Date.Before(plan.Now.Date) {
		return nil, invalid("date", string(availability.ReasonPast))
	}
	slot, reason := plan.Slot(req.StartTime)
	if reason != availability.ReasonNone {
		return nil, invalid("start_time", string(reason))
	}

	now := s.now().UTC()
	appt := &Appointment{
		ID:         uuid.New(),
		TenantID:   req.TenantID,
		EmployeeID: req.EmployeeID,
		ClientID:   req.ClientID,
		ServiceID:  req.ServiceID,
		Date:       req.Date,
		StartTime:  slot.Start,
		EndTime:    slot.End,
		Occupied:   slot.Occupies,
		Status:     status,
		Metadata:   req.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.repo.WithinDay(ctx, appt.key(), func(ctx context.Context, tx DayTx) error {
		occupied, err := tx.Occupancy(ctx)
		if err != nil {
			return err
		}
		if resolved := availability.Resolve(slot, occupied); !resolved.Available {
			return slotTaken(nil)
		}
		return tx.Insert(ctx, appt)
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// Transition moves an appointment to a new status under the same day lock
// as booking. Cancellation frees the occupied time.
func (s *Service) Transition(ctx context.Context, tenantID string, id uuid.UUID, to Status, reason string) (*Appointment, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.tenant_id", tenantID),
		attribute.String("booking.appointment_id", id.String()),
		attribute.String("booking.status", string(to)),
	)

	current, err := s.Get(ctx, tenantID, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var (
		updated *Appointment
		from    Status
	)
	err = s.repo.WithinDay(ctx, current.key(), func(ctx context.Context, tx DayTx) error {
		appt, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if appt.Status.Terminal() {
			return invalid("status", fmt.Sprintf("appointment is %s and can no longer change", appt.Status))
		}
		if !appt.Status.CanTransition(to) {
			return invalid("status", fmt.Sprintf("cannot move from %s to %s", appt.Status, to))
		}
		from = appt.Status
		at := s.now().UTC()
		if err := tx.UpdateStatus(ctx, id, to, reason, at); err != nil {
			return err
		}
		appt.Status, appt.StatusReason, appt.UpdatedAt = to, reason, at
		updated = appt
		return nil
	})
	if errors.Is(err, ErrAppointmentNotFound) {
		err = &NotFoundError{Kind: "appointment", ID: id.String()}
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if to == StatusCanceled {
		s.publish(ctx, id, events.BookingCanceledV1{
			AppointmentID: id.String(),
			TenantID:      updated.TenantID,
			EmployeeID:    updated.EmployeeID,
			Date:          updated.Date.String(),
			StartTime:     updated.StartTime.String(),
			Reason:        reason,
			CanceledAt:    updated.UpdatedAt,
		})
	} else {
		s.publish(ctx, id, events.BookingStatusChangedV1{
			AppointmentID: id.String(),
			TenantID:      updated.TenantID,
			EmployeeID:    updated.EmployeeID,
			From:          string(from),
			To:            string(to),
			Reason:        reason,
			ChangedAt:     updated.UpdatedAt,
		})
	}
	s.logger.Info("appointment status changed", "tenant_id", tenantID, "appointment_id", id, "from", from, "to", to)
	return updated, nil
}

// Get returns one appointment of the tenant.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.Get(ctx, tenantID, id)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, &NotFoundError{Kind: "appointment", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// ListDay returns every appointment of an employee on a date, canceled included.
func (s *Service) ListDay(ctx context.Context, tenantID, employeeID string, date calendar.Date) ([]Appointment, error) {
	if strings.TrimSpace(employeeID) == "" {
		return nil, invalid("employee_id", "required")
	}
	if date.IsZero() {
		return nil, invalid("date", "required")
	}
	appts, err := s.repo.ListDay(ctx, tenantID, employeeID, date)
	if err != nil {
		return nil, err
	}
	if appts == nil {
		appts = []Appointment{}
	}
	return appts, nil
}

// publish tags the event with the request id so consumers can correlate it.
func (s *Service) publish(ctx context.Context, id uuid.UUID, evt events.CanonicalEvent) {
	if s.publisher == nil {
		return
	}
	var opts []events.EnvelopeOption
	if reqID := chimw.GetReqID(ctx); reqID != "" {
		opts = append(opts, events.WithCorrelationID(reqID))
	}
	if !s.publisher.Publish("appointment:"+id.String(), evt, opts...) {
		s.logger.Warn("booking event not queued", "appointment_id", id, "type", evt.EventType())
	}
}

func (s *Service) logOutcome(req BookRequest, err error) {
	attrs := []any{"tenant_id", req.TenantID, "employee_id", req.EmployeeID, "date", req.Date.String(), "start", req.StartTime.String(), "error", err}
	switch resultLabel(err) {
	case "error":
		s.logger.Error("booking failed", attrs...)
	case "lock_timeout", "slot_taken":
		s.logger.Warn("booking rejected", attrs...)
	default:
		s.logger.Debug("booking rejected", attrs...)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrSlotTaken):
		return "slot_taken"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
