package series

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidDayCount is returned for a non-positive day count
var ErrInvalidDayCount = errors.New("day count must be positive")

const (
	// LabelLayout renders chart labels as DD-MM
	LabelLayout = "02-01"
	// KeyLayout renders the ISO date used to join data onto the window
	KeyLayout = "2006-01-02"
)

// Window is a run of consecutive calendar days ending today, oldest first
type Window struct {
	days  []time.Time // local midnights
	loc   *time.Location
	index map[string]int
}

// NewWindow builds the n-day window ending on today's calendar day in loc
func NewWindow(today time.Time, n int, loc *time.Location) (*Window, error) {
	if n <= 0 {
		return nil, ErrInvalidDayCount
	}
	if loc == nil {
		loc = time.Local
	}

	t := today.In(loc)
	w := &Window{
		days:  make([]time.Time, n),
		loc:   loc,
		index: make(map[string]int, n),
	}
	for i := 0; i < n; i++ {
		// time.Date normalizes day underflow and stays on midnight across DST
		day := time.Date(t.Year(), t.Month(), t.Day()-(n-1-i), 0, 0, 0, 0, loc)
		w.days[i] = day
		w.index[day.Format(KeyLayout)] = i
	}
	return w, nil
}

// Len returns the number of days
func (w *Window) Len() int {
	return len(w.days)
}

// Location returns the timezone days are computed in
func (w *Window) Location() *time.Location {
	return w.loc
}

// Start returns midnight of the oldest day
func (w *Window) Start() time.Time {
	return w.days[0]
}

// End returns midnight after the newest day
func (w *Window) End() time.Time {
	last := w.days[len(w.days)-1]
	return time.Date(last.Year(), last.Month(), last.Day()+1, 0, 0, 0, 0, w.loc)
}

// Labels returns the chart labels, oldest first
func (w *Window) Labels() []string {
	labels := make([]string, len(w.days))
	for i, d := range w.days {
		labels[i] = d.Format(LabelLayout)
	}
	return labels
}

// Keys returns the ISO date keys, oldest first
func (w *Window) Keys() []string {
	keys := make([]string, len(w.days))
	for i, d := range w.days {
		keys[i] = d.Format(KeyLayout)
	}
	return keys
}

// Index returns the slot of the calendar day containing t
func (w *Window) Index(t time.Time) (int, bool) {
	i, ok := w.index[t.In(w.loc).Format(KeyLayout)]
	return i, ok
}

// Round rounds v to the given number of decimal places
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
