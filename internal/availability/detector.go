package availability

import "github.com/wolfman30/appointment-engine/internal/calendar"

// Resolve finalizes a provisional slot against the occupied intervals of the
// employee's day. occupied must already exclude canceled appointments.
func Resolve(slot Slot, occupied []calendar.Interval) Slot {
	for _, iv := range occupied {
		if slot.Occupies.Overlaps(iv) {
			slot.Available = false
			slot.Reason = ReasonOccupied
			return slot
		}
	}
	slot.Available = true
	slot.Reason = ReasonNone
	return slot
}

// ResolveAll resolves every slot in place and returns the slice.
func ResolveAll(slots []Slot, occupied []calendar.Interval) []Slot {
	for i := range slots {
		slots[i] = Resolve(slots[i], occupied)
	}
	return slots
}
