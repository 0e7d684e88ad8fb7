package bookings

import (
	"context"
	"sync"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appointment-engine/internal/availability"
	"github.com/wolfman30/appointment-engine/internal/calendar"
	"github.com/wolfman30/appointment-engine/internal/clinic"
	"github.com/wolfman30/appointment-engine/internal/events"
)

var (
	monday       = calendar.NewDate(2025, 12, 8)
	christmas    = calendar.NewDate(2025, 12, 25)
	decemberDawn = time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)
)

type recordingPublisher struct {
	mu        sync.Mutex
	events    []events.CanonicalEvent
	envelopes []events.Envelope
}

func (p *recordingPublisher) Publish(aggregate string, evt events.CanonicalEvent, opts ...events.EnvelopeOption) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	if env, err := events.NewEnvelope(aggregate, evt, opts...); err == nil {
		p.envelopes = append(p.envelopes, env)
	}
	return true
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

func testConfig(t *testing.T) *clinic.Config {
	t.Helper()
	cfg := &clinic.Config{
		TenantID:  "tenant-1",
		Name:      "Glow",
		Timezone:  "UTC",
		Employees: []clinic.Employee{{ID: "emp-1", Name: "Dana"}},
		Services: []clinic.Service{
			{ID: "svc-botox", Name: "Botox", DurationMinutes: 30},
			{ID: "svc-facial", Name: "Facial", DurationMinutes: 30, BufferAfterMinutes: 15},
		},
		Exceptions: []calendar.CalendarException{{ID: "xmas", Date: christmas, FullDay: true, Recurring: true}},
	}
	breakStart, breakEnd := calendar.MustMinute("14:00"), calendar.MustMinute("15:00")
	for wd := time.Monday; wd <= time.Friday; wd++ {
		rule, err := calendar.NewWorkingHoursRule("emp-1", wd, calendar.MustMinute("09:00"), calendar.MustMinute("18:00"), &breakStart, &breakEnd)
		require.NoError(t, err)
		cfg.WorkingHours = append(cfg.WorkingHours, rule)
	}
	return cfg
}

type fixture struct {
	engine    *availability.Engine
	repo      *MemoryRepository
	publisher *recordingPublisher
	service   *Service
}

func newFixture(t *testing.T, lockTimeout time.Duration) *fixture {
	t.Helper()
	store := clinic.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), testConfig(t)))
	repo := NewMemoryRepository(lockTimeout)
	engine := availability.NewEngine(store, repo, availability.WithClock(func() time.Time { return decemberDawn }))
	pub := &recordingPublisher{}
	svc := NewService(engine, repo, pub, nil, nil)
	svc.now = func() time.Time { return decemberDawn }
	return &fixture{engine: engine, repo: repo, publisher: pub, service: svc}
}

func bookReq(service, start string) BookRequest {
	return BookRequest{
		TenantID:   "tenant-1",
		EmployeeID: "emp-1",
		ServiceID:  service,
		ClientID:   "client-1",
		Date:       monday,
		StartTime:  calendar.MustMinute(start),
	}
}

func TestBook_CreatesPendingAppointment(t *testing.T) {
	f := newFixture(t, time.Second)

	req := bookReq("svc-facial", "09:00")
	req.Metadata = map[string]string{"channel": "web"}
	appt, err := f.service.Book(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, appt.ID)
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, "09:30", appt.EndTime.String())
	assert.Equal(t, calendar.Interval{Start: calendar.MustMinute("09:00"), End: calendar.MustMinute("09:45")}, appt.Occupied)
	assert.Equal(t, decemberDawn, appt.CreatedAt)
	assert.Equal(t, []string{"booking.created.v1"}, f.publisher.types())

	stored, err := f.service.Get(context.Background(), "tenant-1", appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "web", stored.Metadata["channel"])
}

func TestBook_HalfOpenBoundary(t *testing.T) {
	f := newFixture(t, time.Second)
	req := bookReq("svc-botox", "10:00")
	req.Status = StatusConfirmed
	_, err := f.service.Book(context.Background(), req)
	require.NoError(t, err)

	_, err = f.service.Book(context.Background(), bookReq("svc-botox", "10:00"))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, CodeSlotTaken, conflict.Code)

	_, err = f.service.Book(context.Background(), bookReq("svc-botox", "10:30"))
	assert.NoError(t, err)
	_, err = f.service.Book(context.Background(), bookReq("svc-botox", "09:30"))
	assert.NoError(t, err)
}

func TestBook_BufferBlocksFollowingSlot(t *testing.T) {
	f := newFixture(t, time.Second)
	_, err := f.service.Book(context.Background(), bookReq("svc-facial", "09:00"))
	require.NoError(t, err)

	_, err = f.service.Book(context.Background(), bookReq("svc-botox", "09:30"))
	assert.ErrorIs(t, err, ErrSlotTaken, "09:30 falls inside the 09:30-09:45 buffer")

	day, err := f.engine.Day(context.Background(), "tenant-1", "emp-1", "svc-botox", monday)
	require.NoError(t, err)
	byStart := map[string]availability.Slot{}
	for _, s := range day.Slots {
		byStart[s.Start.String()] = s
	}
	assert.False(t, byStart["09:00"].Available)
	assert.False(t, byStart["09:30"].Available)
	assert.True(t, byStart["10:00"].Available)

	_, err = f.service.Book(context.Background(), bookReq("svc-botox", "10:00"))
	assert.NoError(t, err)
}

func TestBook_Validation(t *testing.T) {
	f := newFixture(t, time.Second)

	tests := []struct {
		name   string
		mutate func(r *BookRequest)
		field  string
		reason string
	}{
		{"off grid", func(r *BookRequest) { r.StartTime = calendar.MustMinute("10:15") }, "start_time", "off-grid"},
		{"on break", func(r *BookRequest) { r.StartTime = calendar.MustMinute("14:00") }, "start_time", "on-break"},
		{"before opening", func(r *BookRequest) { r.StartTime = calendar.MustMinute("07:00") }, "start_time", "outside-hours"},
		{"weekend", func(r *BookRequest) { r.Date = calendar.NewDate(2025, 12, 6) }, "start_time", "outside-hours"},
		{"holiday", func(r *BookRequest) { r.Date = christmas }, "start_time", "holiday"},
		{"past date", func(r *BookRequest) { r.Date = calendar.NewDate(2025, 11, 28) }, "date", "past"},
		{"missing client", func(r *BookRequest) { r.ClientID = "" }, "client_id", "required"},
		{"terminal status", func(r *BookRequest) { r.Status = StatusCompleted }, "status", "must be PENDING or CONFIRMED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := bookReq("svc-botox", "10:00")
			tt.mutate(&req)
			_, err := f.service.Book(context.Background(), req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, tt.reason, verr.Reason)
		})
	}
	assert.Empty(t, f.publisher.types())
}

func TestBook_PastSlotToday(t *testing.T) {
	f := newFixture(t, time.Second)
	f.service.now = func() time.Time { return time.Date(2025, 12, 8, 11, 5, 0, 0, time.UTC) }
	engine := availability.NewEngine(mustStore(t), f.repo, availability.WithClock(f.service.now))
	f.service.engine = engine

	_, err := f.service.Book(context.Background(), bookReq("svc-botox", "11:00"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "past", verr.Reason)

	_, err = f.service.Book(context.Background(), bookReq("svc-botox", "11:30"))
	assert.NoError(t, err)
}

func mustStore(t *testing.T) *clinic.MemoryStore {
	store := clinic.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), testConfig(t)))
	return store
}

func TestBook_NotFound(t *testing.T) {
	f := newFixture(t, time.Second)

	for _, req := range []BookRequest{
		{TenantID: "tenant-9", EmployeeID: "emp-1", ServiceID: "svc-botox", ClientID: "c", Date: monday, StartTime: 600},
		{TenantID: "tenant-1", EmployeeID: "emp-9", ServiceID: "svc-botox", ClientID: "c", Date: monday, StartTime: 600},
		{TenantID: "tenant-1", EmployeeID: "emp-1", ServiceID: "svc-9", ClientID: "c", Date: monday, StartTime: 600},
	} {
		_, err := f.service.Book(context.Background(), req)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestBook_ConcurrentSameSlot(t *testing.T) {
	for _, n := range []int{2, 16} {
		f := newFixture(t, 5*time.Second)

		var wg sync.WaitGroup
		results := make(chan error, n)
		startLine := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-startLine
				_, err := f.service.Book(context.Background(), bookReq("svc-botox", "10:00"))
				results <- err
			}()
		}
		close(startLine)
		wg.Wait()
		close(results)

		var ok, conflicts int
		for err := range results {
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, ErrSlotTaken):
				conflicts++
			}
		}
		assert.Equal(t, 1, ok, "exactly one booking wins with %d writers", n)
		assert.Equal(t, n-1, conflicts)
	}
}

func TestBook_ConcurrentMixedSlotsKeepInvariant(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	starts := []string{"09:00", "09:30", "10:00", "10:30", "11:00"}
	services := []string{"svc-botox", "svc-facial"}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.service.Book(context.Background(), bookReq(services[i%2], starts[i%len(starts)]))
		}(i)
	}
	wg.Wait()

	appts, err := f.service.ListDay(context.Background(), "tenant-1", "emp-1", monday)
	require.NoError(t, err)
	require.NotEmpty(t, appts)
	for i := range appts {
		for j := i + 1; j < len(appts); j++ {
			assert.False(t, appts[i].Occupied.Overlaps(appts[j].Occupied),
				"%s overlaps %s", appts[i].Occupied, appts[j].Occupied)
		}
	}
}

func TestBook_LockTimeoutIsDistinctFromConflict(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.repo.WithinDay(context.Background(), DayKey{TenantID: "tenant-1", EmployeeID: "emp-1", Date: monday}, func(ctx context.Context, tx DayTx) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	_, err := f.service.Book(context.Background(), bookReq("svc-botox", "10:00"))
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.NotErrorIs(t, err, ErrSlotTaken)

	close(release)
	<-done
	_, err = f.service.Book(context.Background(), bookReq("svc-botox", "10:00"))
	assert.NoError(t, err, "the identical request succeeds once the lock is free")
}

func TestTransition_CancelFreesSlot(t *testing.T) {
	f := newFixture(t, time.Second)
	appt, err := f.service.Book(context.Background(), bookReq("svc-botox", "10:00"))
	require.NoError(t, err)

	canceled, err := f.service.Transition(context.Background(), "tenant-1", appt.ID, StatusCanceled, "client request")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, canceled.Status)
	assert.Equal(t, "client request", canceled.StatusReason)

	_, err = f.service.Book(context.Background(), bookReq("svc-botox", "10:00"))
	assert.NoError(t, err)

	assert.Equal(t, []string{"booking.created.v1", "booking.canceled.v1", "booking.created.v1"}, f.publisher.types())
	f.publisher.mu.Lock()
	evt := f.publisher.events[1].(events.BookingCanceledV1)
	f.publisher.mu.Unlock()
	assert.Equal(t, appt.ID.String(), evt.AppointmentID)
	assert.Equal(t, "client request", evt.Reason)
}

func TestTransition_RescheduledStillOccupies(t *testing.T) {
	f := newFixture(t, time.Second)
	appt, err := f.service.Book(context.Background(), bookReq("svc-botox", "10:00"))
	require.NoError(t, err)

	_, err = f.service.Transition(context.Background(), "tenant-1", appt.ID, StatusRescheduled, "")
	require.NoError(t, err)

	_, err = f.service.Book(context.Background(), bookReq("svc-botox", "10:00"))
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestTransition_Lifecycle(t *testing.T) {
	f := newFixture(t, time.Second)
	appt, err := f.service.Book(context.Background(), bookReq("svc-botox", "10:00"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = f.service.Transition(ctx, "tenant-1", appt.ID, StatusCompleted, "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "status", verr.Field)

	for _, next := range []Status{StatusConfirmed, StatusInProgress, StatusCompleted} {
		updated, err := f.service.Transition(ctx, "tenant-1", appt.ID, next, "")
		require.NoError(t, err)
		assert.Equal(t, next, updated.Status)
	}

	_, err = f.service.Transition(ctx, "tenant-1", appt.ID, StatusCanceled, "")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "COMPLETED and can no longer change")

	assert.Equal(t, []string{
		"booking.created.v1",
		"booking.status_changed.v1",
		"booking.status_changed.v1",
		"booking.status_changed.v1",
	}, f.publisher.types())
}

func TestPublish_CarriesRequestID(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.WithValue(context.Background(), chimw.RequestIDKey, "req-1")
	appt, err := f.service.Book(ctx, bookReq("svc-botox", "10:00"))
	require.NoError(t, err)
	_, err = f.service.Transition(context.Background(), "tenant-1", appt.ID, StatusConfirmed, "")
	require.NoError(t, err)

	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	require.Len(t, f.publisher.envelopes, 2)
	assert.Equal(t, "req-1", f.publisher.envelopes[0].CorrelationID)
	assert.Equal(t, "appointment:"+appt.ID.String(), f.publisher.envelopes[0].Aggregate)
	assert.Empty(t, f.publisher.envelopes[1].CorrelationID, "no request id, no correlation id")
}

func TestTransition_UnknownAppointment(t *testing.T) {
	f := newFixture(t, time.Second)
	_, err := f.service.Transition(context.Background(), "tenant-1", uuid.New(), StatusCanceled, "")
	var nerr *NotFoundError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "appointment", nerr.Kind)
}

func TestListDay(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	empty, err := f.service.ListDay(ctx, "tenant-1", "emp-1", monday)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, start := range []string{"11:00", "09:00"} {
		_, err := f.service.Book(ctx, bookReq("svc-botox", start))
		require.NoError(t, err)
	}
	appts, err := f.service.ListDay(ctx, "tenant-1", "emp-1", monday)
	require.NoError(t, err)
	require.Len(t, appts, 2)
	assert.Equal(t, "09:00", appts[0].StartTime.String())

	_, err = f.service.ListDay(ctx, "tenant-1", "", monday)
	assert.ErrorIs(t, err, ErrValidation)
}
