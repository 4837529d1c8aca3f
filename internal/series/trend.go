package series

import "time"

const (
	// MonthLayout labels monthly periods
	MonthLayout = "2006-01"

	trendPrecision = 2
)

// Period is one calendar period of a trend. Weeks run Monday to Sunday and
// are labelled by their Sunday; months by YYYY-MM.
type Period struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Trend summarizes a daily series over calendar periods
type Trend struct {
	WeeklyAvg  []Period `json:"weekly_avg"`
	MonthlyMax []Period `json:"monthly_max"`
}

// Trends computes weekly averages and monthly maxima of s, which must be
// aligned to w. Zero days count as missing, so a week with no data
// averages to 0.
func Trends(w *Window, s DailySeries) Trend {
	var weeks, months []period
	for i, d := range w.days {
		if i >= len(s.Values) {
			break
		}
		weeks = appendPeriod(weeks, weekEnding(d).Format(KeyLayout), s.Values[i])
		months = appendPeriod(months, d.Format(MonthLayout), s.Values[i])
	}

	t := Trend{
		WeeklyAvg:  make([]Period, len(weeks)),
		MonthlyMax: make([]Period, len(months)),
	}
	for i, p := range weeks {
		t.WeeklyAvg[i] = Period{Label: p.label, Value: Round(p.mean(), trendPrecision)}
	}
	for i, p := range months {
		t.MonthlyMax[i] = Period{Label: p.label, Value: p.max}
	}
	return t
}

type period struct {
	label string
	sum   float64
	max   float64
	n     int
}

// appendPeriod adds v to the last period, starting a new one when the
// label changes. Days arrive in order, so periods are contiguous.
func appendPeriod(periods []period, label string, v float64) []period {
	if len(periods) == 0 || periods[len(periods)-1].label != label {
		periods = append(periods, period{label: label})
	}
	p := &periods[len(periods)-1]
	if v != 0 {
		p.sum += v
		p.n++
		if v > p.max {
			p.max = v
		}
	}
	return periods
}

func (p period) mean() float64 {
	if p.n == 0 {
		return 0
	}
	return p.sum / float64(p.n)
}

// weekEnding returns the Sunday closing the week that contains d
func weekEnding(d time.Time) time.Time {
	offset := (7 - int(d.Weekday())) % 7
	return time.Date(d.Year(), d.Month(), d.Day()+offset, 0, 0, 0, 0, d.Location())
}
