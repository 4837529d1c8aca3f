package series

import "healthdash/internal/googlefit"

// Google Fit sleep segment stage values
const (
	StageAwake    = 1
	StageSleeping = 2
	StageOutOfBed = 3
	StageLight    = 4
	StageDeep     = 5
	StageREM      = 6
)

// SleepQuality rates a night from its stage mix
type SleepQuality string

const (
	QualityExcellent SleepQuality = "excellent"
	QualityGood      SleepQuality = "good"
	QualityFair      SleepQuality = "fair"
	QualityPoor      SleepQuality = "poor"
)

// SleepStages breaks one day's sleep down by stage. Minutes are credited
// to the day a segment ends on.
type SleepStages struct {
	Date         string       `json:"date"`
	TotalMinutes float64      `json:"total_minutes"`
	LightMinutes float64      `json:"light_minutes"`
	DeepMinutes  float64      `json:"deep_minutes"`
	REMMinutes   float64      `json:"rem_minutes"`
	AwakeMinutes float64      `json:"awake_minutes"`
	Efficiency   float64      `json:"efficiency"`
	Quality      SleepQuality `json:"quality,omitempty"`
}

// SleepStagesByDay sums sleep segments per window day. Segments repeated
// across buckets are counted once; out-of-bed time is left out of the
// total. Generic "sleeping" segments count as light sleep.
func SleepStagesByDay(w *Window, buckets []googlefit.Bucket) []SleepStages {
	days := make([]SleepStages, w.Len())
	for i, key := range w.Keys() {
		days[i].Date = key
	}

	seen := make(map[[2]googlefit.Int64]bool)
	for _, b := range buckets {
		for _, p := range b.Points(googlefit.DataTypeSleepSegment) {
			if p.StartTimeNanos <= 0 || p.EndTimeNanos <= p.StartTimeNanos {
				continue
			}
			if len(p.Value) == 0 || p.Value[0].IntVal == nil {
				continue
			}
			span := [2]googlefit.Int64{p.StartTimeNanos, p.EndTimeNanos}
			if seen[span] {
				continue
			}
			seen[span] = true

			end := p.EndTimeNanos.NanosTime()
			i, ok := w.Index(end)
			if !ok {
				continue
			}
			days[i].add(int(*p.Value[0].IntVal), end.Sub(p.StartTimeNanos.NanosTime()).Minutes())
		}
	}

	for i := range days {
		days[i].finish()
	}
	return days
}

// LatestSleepStages returns the newest day with any sleep, or nil
func LatestSleepStages(days []SleepStages) *SleepStages {
	for i := len(days) - 1; i >= 0; i-- {
		if days[i].TotalMinutes > 0 {
			d := days[i]
			return &d
		}
	}
	return nil
}

func (s *SleepStages) add(stage int, minutes float64) {
	switch stage {
	case StageOutOfBed:
		return
	case StageAwake:
		s.AwakeMinutes += minutes
	case StageSleeping, StageLight:
		s.LightMinutes += minutes
	case StageDeep:
		s.DeepMinutes += minutes
	case StageREM:
		s.REMMinutes += minutes
	}
	s.TotalMinutes += minutes
}

func (s *SleepStages) finish() {
	if s.TotalMinutes > 0 {
		s.Efficiency = Round((s.TotalMinutes-s.AwakeMinutes)/s.TotalMinutes*100, 2)
		s.Quality = rateSleep((s.DeepMinutes*3 + s.REMMinutes*2 + s.LightMinutes) / s.TotalMinutes * 100)
	}
	s.TotalMinutes = Round(s.TotalMinutes, 2)
	s.LightMinutes = Round(s.LightMinutes, 2)
	s.DeepMinutes = Round(s.DeepMinutes, 2)
	s.REMMinutes = Round(s.REMMinutes, 2)
	s.AwakeMinutes = Round(s.AwakeMinutes, 2)
}

// rateSleep maps a weighted stage score (deep x3, REM x2, light x1, as a
// percentage of time asleep or awake in bed) to a rating
func rateSleep(score float64) SleepQuality {
	switch {
	case score > 80:
		return QualityExcellent
	case score > 60:
		return QualityGood
	case score > 40:
		return QualityFair
	default:
		return QualityPoor
	}
}
