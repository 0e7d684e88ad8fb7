package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidRule is returned for working-hours rules that can never be satisfied.
	ErrInvalidRule = errors.New("calendar: invalid working hours rule")
	// ErrDuplicateRule is returned when an employee has two rules for one weekday.
	ErrDuplicateRule = errors.New("calendar: duplicate working hours rule")
	// ErrInvalidException is returned for malformed calendar exceptions.
	ErrInvalidException = errors.New("calendar: invalid calendar exception")
)

// WorkingHoursRule is the weekly working window of one employee on one weekday.
// Rules are never deleted; IsWorking=false switches a weekday off.
type WorkingHoursRule struct {
	EmployeeID string       `json:"employee_id"`
	Weekday    time.Weekday `json:"weekday"`
	IsWorking  bool         `json:"is_working"`
	Start      Minute       `json:"start_time"`
	End        Minute       `json:"end_time"`
	BreakStart *Minute      `json:"break_start,omitempty"`
	BreakEnd   *Minute      `json:"break_end,omitempty"`
}

// NewWorkingHoursRule builds a working rule and rejects invalid states.
func NewWorkingHoursRule(employeeID string, weekday time.Weekday, start, end Minute, breakStart, breakEnd *Minute) (WorkingHoursRule, error) {
	r := WorkingHoursRule{
		EmployeeID: strings.TrimSpace(employeeID),
		Weekday:    weekday,
		IsWorking:  true,
		Start:      start,
		End:        end,
		BreakStart: breakStart,
		BreakEnd:   breakEnd,
	}
	if err := r.Validate(); err != nil {
		return WorkingHoursRule{}, err
	}
	return r, nil
}

// Validate checks the rule. Non-working rules only need a valid weekday and employee.
func (r WorkingHoursRule) Validate() error {
	if r.EmployeeID == "" {
		return fmt.Errorf("%w: employee id required", ErrInvalidRule)
	}
	if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
		return fmt.Errorf("%w: weekday %d out of range", ErrInvalidRule, r.Weekday)
	}
	if !r.IsWorking {
		return nil
	}
	if !r.Start.Valid() || !r.End.Valid() {
		return fmt.Errorf("%w: time of day out of range", ErrInvalidRule)
	}
	if r.Start >= r.End {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidRule, r.Start, r.End)
	}
	if (r.BreakStart == nil) != (r.BreakEnd == nil) {
		return fmt.Errorf("%w: break needs both start and end", ErrInvalidRule)
	}
	if br, ok := r.Break(); ok {
		if br.Empty() {
			return fmt.Errorf("%w: break %s is empty", ErrInvalidRule, br)
		}
		if br.Start < r.Start || br.End > r.End {
			return fmt.Errorf("%w: break %s outside working window", ErrInvalidRule, br)
		}
	}
	return nil
}

// Window returns the working window of the rule.
func (r WorkingHoursRule) Window() Interval {
	return Interval{Start: r.Start, End: r.End}
}

// Break returns the break window if one is configured.
func (r WorkingHoursRule) Break() (Interval, bool) {
	if r.BreakStart == nil || r.BreakEnd == nil {
		return Interval{}, false
	}
	return Interval{Start: *r.BreakStart, End: *r.BreakEnd}, true
}

// CalendarException closes a date, fully or for a time range, for one
// employee or (EmployeeID == "") the whole business. Exceptions only ever
// remove availability.
type CalendarException struct {
	ID         string `json:"id,omitempty"`
	EmployeeID string `json:"employee_id,omitempty"`
	Date       Date   `json:"date"`
	FullDay    bool   `json:"full_day"`
	Start      Minute `json:"start_time,omitempty"`
	End        Minute `json:"end_time,omitempty"`
	Recurring  bool   `json:"recurring,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Validate rejects exceptions without a date or with an empty closed range.
func (e CalendarException) Validate() error {
	if e.Date.IsZero() {
		return fmt.Errorf("%w: date required", ErrInvalidException)
	}
	if e.FullDay {
		return nil
	}
	if !e.Start.Valid() || !e.End.Valid() || e.Start >= e.End {
		return fmt.Errorf("%w: closed range %s-%s", ErrInvalidException, e.Start, e.End)
	}
	return nil
}

// Matches reports whether the exception falls on d. Recurring exceptions
// match the same month and day of every year from their first year on.
func (e CalendarException) Matches(d Date) bool {
	if !e.Recurring {
		return e.Date == d
	}
	return e.Date.Month == d.Month && e.Date.Day == d.Day && d.Year >= e.Date.Year
}

// BusinessWide reports whether the exception applies to every employee.
func (e CalendarException) BusinessWide() bool {
	return strings.TrimSpace(e.EmployeeID) == ""
}

// Closed returns the closed sub-range of a partial exception.
func (e CalendarException) Closed() Interval {
	if e.FullDay {
		return Interval{Start: 0, End: MinutesPerDay}
	}
	return Interval{Start: e.Start, End: e.End}
}
