package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/appointment-engine/internal/calendar"
)

// PgxPool is the subset of pgxpool.Pool the repository uses.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores appointments in Postgres. A day is serialized
// with a transaction-scoped advisory lock; the partial unique index and the
// exclusion constraint reject anything that slips past it.
type PostgresRepository struct {
	pool        PgxPool
	lockTimeout time.Duration
}

// NewPostgresRepository creates a repository backed by pgx pool.
func NewPostgresRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresRepository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return NewPostgresRepositoryWithPool(pool, lockTimeout)
}

// NewPostgresRepositoryWithPool allows injecting mocks for tests.
func NewPostgresRepositoryWithPool(pool PgxPool, lockTimeout time.Duration) *PostgresRepository {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &PostgresRepository{pool: pool, lockTimeout: lockTimeout}
}

const appointmentColumns = `id, tenant_id, employee_id, client_id, service_id, appointment_date,
	start_minute, end_minute, occupied_from, occupied_until, status,
	COALESCE(status_reason, ''), metadata, created_at, updated_at`

func (r *PostgresRepository) WithinDay(ctx context.Context, key DayKey, fn func(ctx context.Context, tx DayTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("bookings: begin: %w", err)
	}
	rollback := func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }

	// SET does not take bind parameters.
	setTimeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, setTimeout); err != nil {
		rollback()
		return fmt.Errorf("bookings: set lock timeout: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.String()); err != nil {
		rollback()
		if lockErr := asLockTimeout(key, err, true); lockErr != nil {
			return lockErr
		}
		return fmt.Errorf("bookings: acquire day lock: %w", err)
	}

	if err := fn(ctx, &pgDayTx{tx: tx, key: key}); err != nil {
		rollback()
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if mapped, ok := mapWriteError(key, err); ok {
			return mapped
		}
		return fmt.Errorf("bookings: commit: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, tenantID string, id uuid.UUID) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE tenant_id = $1 AND id = $2`
	appt, err := scanAppointment(r.pool.QueryRow(ctx, query, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: get appointment: %w", err)
	}
	return appt, nil
}

func (r *PostgresRepository) ListDay(ctx context.Context, tenantID, employeeID string, date calendar.Date) ([]Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
		WHERE tenant_id = $1 AND employee_id = $2 AND appointment_date = $3
		ORDER BY start_minute, created_at`
	rows, err := r.pool.Query(ctx, query, tenantID, employeeID, pgDate(date))
	if err != nil {
		return nil, fmt.Errorf("bookings: list day: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan appointment: %w", err)
		}
		out = append(out, *appt)
	}
	return out, rows.Err()
}

const occupancyQuery = `
	SELECT occupied_from, occupied_until
	FROM appointments
	WHERE tenant_id = $1 AND employee_id = $2 AND appointment_date = $3 AND status <> 'CANCELED'
	ORDER BY occupied_from
`

func (r *PostgresRepository) Occupancy(ctx context.Context, tenantID, employeeID string, date calendar.Date) ([]calendar.Interval, error) {
	rows, err := r.pool.Query(ctx, occupancyQuery, tenantID, employeeID, pgDate(date))
	if err != nil {
		return nil, fmt.Errorf("bookings: read occupancy: %w", err)
	}
	return scanOccupancy(rows)
}

type pgDayTx struct {
	tx  pgx.Tx
	key DayKey
}

func (t *pgDayTx) Occupancy(ctx context.Context) ([]calendar.Interval, error) {
	rows, err := t.tx.Query(ctx, occupancyQuery, t.key.TenantID, t.key.EmployeeID, pgDate(t.key.Date))
	if err != nil {
		return nil, fmt.Errorf("bookings: read occupancy: %w", err)
	}
	return scanOccupancy(rows)
}

func (t *pgDayTx) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	appt, err := scanAppointment(t.tx.QueryRow(ctx, query, t.key.TenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: get appointment: %w", err)
	}
	return appt, nil
}

func (t *pgDayTx) Insert(ctx context.Context, appt *Appointment) error {
	meta, err := json.Marshal(appt.Metadata)
	if err != nil {
		return fmt.Errorf("bookings: marshal metadata: %w", err)
	}
	if appt.Metadata == nil {
		meta = []byte("{}")
	}
	query := `
		INSERT INTO appointments (id, tenant_id, employee_id, client_id, service_id, appointment_date,
			start_minute, end_minute, occupied_from, occupied_until, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = t.tx.Exec(ctx, query,
		appt.ID, appt.TenantID, appt.EmployeeID, appt.ClientID, appt.ServiceID, pgDate(appt.Date),
		int32(appt.StartTime), int32(appt.EndTime), int32(appt.Occupied.Start), int32(appt.Occupied.End),
		string(appt.Status), meta, appt.CreatedAt, appt.UpdatedAt,
	)
	if err != nil {
		if mapped, ok := mapWriteError(t.key, err); ok {
			return mapped
		}
		return fmt.Errorf("bookings: insert appointment: %w", err)
	}
	return nil
}

func (t *pgDayTx) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, reason string, at time.Time) error {
	query := `
		UPDATE appointments
		SET status = $1, status_reason = NULLIF($2, ''), updated_at = $3
		WHERE tenant_id = $4 AND id = $5
	`
	ct, err := t.tx.Exec(ctx, query, string(status), reason, at, t.key.TenantID, id)
	if err != nil {
		if mapped, ok := mapWriteError(t.key, err); ok {
			return mapped
		}
		return fmt.Errorf("bookings: update status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func scanOccupancy(rows pgx.Rows) ([]calendar.Interval, error) {
	defer rows.Close()
	var out []calendar.Interval
	for rows.Next() {
		var from, until int32
		if err := rows.Scan(&from, &until); err != nil {
			return nil, fmt.Errorf("bookings: scan occupancy: %w", err)
		}
		out = append(out, calendar.Interval{Start: calendar.Minute(from), End: calendar.Minute(until)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: read occupancy: %w", err)
	}
	return out, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		appt                          Appointment
		date                          time.Time
		start, end, occFrom, occUntil int32
		status                        string
		meta                          []byte
	)
	err := row.Scan(&appt.ID, &appt.TenantID, &appt.EmployeeID, &appt.ClientID, &appt.ServiceID, &date,
		&start, &end, &occFrom, &occUntil, &status, &appt.StatusReason, &meta, &appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return nil, err
	}
	appt.Date = calendar.DateOf(date.UTC())
	appt.StartTime = calendar.Minute(start)
	appt.EndTime = calendar.Minute(end)
	appt.Occupied = calendar.Interval{Start: calendar.Minute(occFrom), End: calendar.Minute(occUntil)}
	appt.Status = Status(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &appt.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		if len(appt.Metadata) == 0 {
			appt.Metadata = nil
		}
	}
	return &appt, nil
}

func pgDate(d calendar.Date) time.Time {
	return d.At(0, time.UTC)
}

// mapWriteError turns constraint and lock failures into the engine's error
// taxonomy. ok is false for any other error.
func mapWriteError(key DayKey, err error) (error, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23P01": // unique_violation, exclusion_violation
			return slotTaken(err), true
		}
	}
	if lockErr := asLockTimeout(key, err, false); lockErr != nil {
		return lockErr, true
	}
	return err, false
}

func asLockTimeout(key DayKey, err error, acquiring bool) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return &LockTimeoutError{Key: key, Err: err}
		}
	}
	if acquiring && errors.Is(err, context.DeadlineExceeded) {
		return &LockTimeoutError{Key: key, Err: err}
	}
	return nil
}
