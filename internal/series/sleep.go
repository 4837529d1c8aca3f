package series

import "healthdash/internal/googlefit"

// sleepPrecision keeps quarter hours exact
const sleepPrecision = 2

// SleepHours sums session durations in hours, grouping each session by the
// calendar day it ends on. Sessions ending outside the window are ignored.
func SleepHours(w *Window, sessions []googlefit.Session) DailySeries {
	hours := make([]float64, w.Len())
	for _, s := range sessions {
		i, ok := w.Index(s.End())
		if !ok {
			continue
		}
		hours[i] += s.End().Sub(s.Start()).Hours()
	}

	out := Empty(w)
	for i, h := range hours {
		out.Values[i] = Round(h, sleepPrecision)
	}
	return out
}
