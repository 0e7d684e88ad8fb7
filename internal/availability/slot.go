// Package availability turns a tenant's calendar and an employee's occupancy
// into bookable slots. Everything here except Engine is a pure function of
// its inputs; results are computed per request and never cached.
package availability

import (
	"iter"
	"slices"

	"github.com/wolfman30/appointment-engine/internal/calendar"
	"github.com/wolfman30/appointment-engine/internal/clinic"
)

// Reason explains why a slot or a requested start time is not bookable.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonOccupied     Reason = "occupied"
	ReasonPast         Reason = "past"
	ReasonOutsideHours Reason = "outside-hours"
	ReasonOnBreak      Reason = "on-break"
	ReasonHoliday      Reason = "holiday"
	ReasonOffGrid      Reason = "off-grid"
)

// Slot is one candidate appointment. Start and End bound the service itself;
// Occupies adds the buffers and is what overlap checks use.
type Slot struct {
	Start     calendar.Minute   `json:"start"`
	End       calendar.Minute   `json:"end"`
	Available bool              `json:"available"`
	Reason    Reason            `json:"reason"`
	Occupies  calendar.Interval `json:"-"`
}

// Shape is the time footprint of a service.
type Shape struct {
	Duration     int
	BufferBefore int
	BufferAfter  int
}

// ShapeOf returns the footprint of svc.
func ShapeOf(svc clinic.Service) Shape {
	return Shape{
		Duration:     svc.DurationMinutes,
		BufferBefore: svc.BufferBeforeMinutes,
		BufferAfter:  svc.BufferAfterMinutes,
	}
}

// Total is duration plus both buffers.
func (s Shape) Total() int {
	return s.Duration + s.BufferBefore + s.BufferAfter
}

// Occupancy returns the interval an appointment starting at start blocks.
func (s Shape) Occupancy(start calendar.Minute) calendar.Interval {
	return calendar.Interval{
		Start: start - calendar.Minute(s.BufferBefore),
		End:   start + calendar.Minute(s.Duration+s.BufferAfter),
	}
}

// Moment is the tenant-local current date and minute.
type Moment struct {
	Date   calendar.Date
	Minute calendar.Minute
}

// Past reports whether a slot starting at m on d begins strictly before the moment.
func (n Moment) Past(d calendar.Date, m calendar.Minute) bool {
	if d.Before(n.Date) {
		return true
	}
	return d == n.Date && m < n.Minute
}

// Candidates yields the provisional slots of a day in start order. Each
// window is stepped from its own start by granularity while the whole
// occupancy fits; candidates touching a break or starting in the past are
// skipped without shifting the grid. The sequence can be ranged over any
// number of times.
func Candidates(day calendar.Day, shape Shape, granularity int, now Moment) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		if day.Reason != calendar.ClosedNone || granularity <= 0 || shape.Duration <= 0 {
			return
		}
		total := calendar.Minute(shape.Total())
		for _, w := range day.Windows {
			for occStart := w.Start; occStart+total <= w.End; occStart += calendar.Minute(granularity) {
				start := occStart + calendar.Minute(shape.BufferBefore)
				occ := calendar.Interval{Start: occStart, End: occStart + total}
				if onBreak(day, occ) || now.Past(day.Date, start) {
					continue
				}
				slot := Slot{
					Start:     start,
					End:       start + calendar.Minute(shape.Duration),
					Available: true,
					Occupies:  occ,
				}
				if !yield(slot) {
					return
				}
			}
		}
	}
}

// Generate collects Candidates into a slice.
func Generate(day calendar.Day, shape Shape, granularity int, now Moment) []Slot {
	slots := slices.Collect(Candidates(day, shape, granularity, now))
	if slots == nil {
		return []Slot{}
	}
	return slots
}

// Explain reports why start would not be produced by Generate for the day,
// or ReasonNone when it would be. Occupancy is not considered.
func Explain(day calendar.Day, shape Shape, granularity int, now Moment, start calendar.Minute) Reason {
	switch day.Reason {
	case calendar.ClosedHoliday:
		return ReasonHoliday
	case calendar.ClosedNotWorking:
		return ReasonOutsideHours
	}
	if day.ClosedAt(start) {
		return ReasonHoliday
	}

	w, ok := windowAt(day, start)
	if !ok {
		return ReasonOutsideHours
	}
	occ := shape.Occupancy(start)
	if occ.Start < w.Start || occ.End > w.End {
		// A start on either grid that cannot fit is rejected for the hours,
		// not the grid.
		if !onGrid(w, start, granularity) && !onGrid(w, occ.Start, granularity) {
			return ReasonOffGrid
		}
		if day.ClosureOverlaps(occ) {
			return ReasonHoliday
		}
		return ReasonOutsideHours
	}
	if !onGrid(w, occ.Start, granularity) {
		return ReasonOffGrid
	}
	if onBreak(day, occ) {
		return ReasonOnBreak
	}
	if now.Past(day.Date, start) {
		return ReasonPast
	}
	return ReasonNone
}

func windowAt(day calendar.Day, m calendar.Minute) (calendar.Interval, bool) {
	for _, w := range day.Windows {
		if m >= w.Start && m < w.End {
			return w, true
		}
	}
	return calendar.Interval{}, false
}

func onGrid(w calendar.Interval, m calendar.Minute, granularity int) bool {
	return granularity > 0 && int(m-w.Start)%granularity == 0
}

func onBreak(day calendar.Day, occ calendar.Interval) bool {
	for _, br := range day.Breaks {
		if br.Overlaps(occ) {
			return true
		}
	}
	return false
}
