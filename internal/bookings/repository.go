package bookings

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/appointment-engine/internal/calendar"
)

// ErrAppointmentNotFound is returned by repositories for unknown ids.
var ErrAppointmentNotFound = errors.New("bookings: appointment not found")

// DayTx is the view of one (tenant, employee, date) held under its lock.
// Reads see the committed state plus the transaction's own writes.
type DayTx interface {
	Occupancy(ctx context.Context) ([]calendar.Interval, error)
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Insert(ctx context.Context, appt *Appointment) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, reason string, at time.Time) error
}

// Repository is the occupancy index. WithinDay is the only place
// appointments are created or change status.
type Repository interface {
	WithinDay(ctx context.Context, key DayKey, fn func(ctx context.Context, tx DayTx) error) error
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*Appointment, error)
	ListDay(ctx context.Context, tenantID, employeeID string, date calendar.Date) ([]Appointment, error)
	Occupancy(ctx context.Context, tenantID, employeeID string, date calendar.Date) ([]calendar.Interval, error)
}

// MemoryRepository keeps appointments in process. Each day key is guarded by
// a one-slot channel so a waiting writer can give up after lockTimeout.
type MemoryRepository struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]Appointment

	locksMu     sync.Mutex
	locks       map[DayKey]*dayLock
	lockTimeout time.Duration
}

// dayLock is removed from the map once no caller holds or waits on it.
type dayLock struct {
	ch   chan struct{}
	refs int
}

func NewMemoryRepository(lockTimeout time.Duration) *MemoryRepository {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]Appointment),
		locks:        make(map[DayKey]*dayLock),
		lockTimeout:  lockTimeout,
	}
}

func (r *MemoryRepository) lockFor(key DayKey) chan struct{} {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &dayLock{ch: make(chan struct{}, 1)}
		r.locks[key] = l
	}
	l.refs++
	return l.ch
}

func (r *MemoryRepository) releaseLock(key DayKey) {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	if l, ok := r.locks[key]; ok {
		if l.refs--; l.refs <= 0 {
			delete(r.locks, key)
		}
	}
}

func (r *MemoryRepository) lockCount() int {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	return len(r.locks)
}

func (r *MemoryRepository) WithinDay(ctx context.Context, key DayKey, fn func(ctx context.Context, tx DayTx) error) error {
	lock := r.lockFor(key)
	defer r.releaseLock(key)
	timer := time.NewTimer(r.lockTimeout)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
	case <-timer.C:
		return &LockTimeoutError{Key: key}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &LockTimeoutError{Key: key, Err: ctx.Err()}
		}
		return ctx.Err()
	}
	defer func() { <-lock }()

	tx := &memoryTx{repo: r, key: key, staged: make(map[uuid.UUID]Appointment)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, appt := range tx.staged {
		r.appointments[id] = appt
	}
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, tenantID string, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	appt, ok := r.appointments[id]
	if !ok || appt.TenantID != tenantID {
		return nil, ErrAppointmentNotFound
	}
	return cloneAppointment(appt), nil
}

func (r *MemoryRepository) ListDay(_ context.Context, tenantID, employeeID string, date calendar.Date) ([]Appointment, error) {
	key := DayKey{TenantID: tenantID, EmployeeID: employeeID, Date: date}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dayLocked(key, nil), nil
}

func (r *MemoryRepository) Occupancy(ctx context.Context, tenantID, employeeID string, date calendar.Date) ([]calendar.Interval, error) {
	appts, err := r.ListDay(ctx, tenantID, employeeID, date)
	if err != nil {
		return nil, err
	}
	return occupancyOf(appts), nil
}

// dayLocked returns the committed appointments of key with staged writes
// applied, ordered by start time. Callers hold r.mu.
func (r *MemoryRepository) dayLocked(key DayKey, staged map[uuid.UUID]Appointment) []Appointment {
	var out []Appointment
	for id, appt := range r.appointments {
		if _, overridden := staged[id]; overridden {
			continue
		}
		if appt.key() == key {
			out = append(out, *cloneAppointment(appt))
		}
	}
	for _, appt := range staged {
		if appt.key() == key {
			out = append(out, *cloneAppointment(appt))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime == out[j].StartTime {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

type memoryTx struct {
	repo   *MemoryRepository
	key    DayKey
	staged map[uuid.UUID]Appointment
}

func (tx *memoryTx) day() []Appointment {
	tx.repo.mu.RLock()
	defer tx.repo.mu.RUnlock()
	return tx.repo.dayLocked(tx.key, tx.staged)
}

func (tx *memoryTx) Occupancy(_ context.Context) ([]calendar.Interval, error) {
	return occupancyOf(tx.day()), nil
}

func (tx *memoryTx) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	for _, appt := range tx.day() {
		if appt.ID == id {
			return &appt, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

// Insert enforces the same guarantees as the Postgres constraints: one
// active appointment per start time and no overlapping occupancy.
func (tx *memoryTx) Insert(_ context.Context, appt *Appointment) error {
	if appt.key() != tx.key {
		return errors.New("bookings: appointment outside locked day")
	}
	if appt.Status.Occupies() {
		for _, existing := range tx.day() {
			if !existing.Status.Occupies() {
				continue
			}
			if existing.StartTime == appt.StartTime || existing.Occupied.Overlaps(appt.Occupied) {
				return slotTaken(nil)
			}
		}
	}
	tx.staged[appt.ID] = *cloneAppointment(*appt)
	return nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, reason string, at time.Time) error {
	appt, err := tx.Get(ctx, id)
	if err != nil {
		return err
	}
	appt.Status = status
	appt.StatusReason = reason
	appt.UpdatedAt = at
	tx.staged[id] = *appt
	return nil
}

func occupancyOf(appts []Appointment) []calendar.Interval {
	out := make([]calendar.Interval, 0, len(appts))
	for _, appt := range appts {
		if appt.Status.Occupies() {
			out = append(out, appt.Occupied)
		}
	}
	return out
}

func cloneAppointment(appt Appointment) *Appointment {
	if appt.Metadata != nil {
		meta := make(map[string]string, len(appt.Metadata))
		for k, v := range appt.Metadata {
			meta[k] = v
		}
		appt.Metadata = meta
	}
	return &appt
}
