package domain

import "iter"

// SlotStarts tiles [workStart, workEnd) back to back with slots of
// durationMinutes and yields each start. Slot k starts at
// workStart + k*durationMinutes; a slot ending exactly at workEnd is included.
// The sequence is empty when the duration is not positive or does not fit.
func SlotStarts(workStart, workEnd Clock, durationMinutes int) iter.Seq[Clock] {
	return func(yield func(Clock) bool) {
		if durationMinutes <= 0 {
			return
		}
		step := Clock(durationMinutes)
		for cursor := workStart; cursor+step <= workEnd; cursor += step {
			if !yield(cursor) {
				return
			}
		}
	}
}
