package series

import "healthdash/internal/googlefit"

// HeartRate summarizes one day's heart-rate readings
type HeartRate struct {
	AvgBPM        float64 `json:"avg_bpm"`
	MinBPM        float64 `json:"min_bpm"`
	MaxBPM        float64 `json:"max_bpm"`
	ReadingsCount int     `json:"readings_count"`
}

// HeartRateSummary summarizes a bucket's heart-rate points. An aggregated
// summary point contributes its avg, max and min slots and counts as one
// reading; each fpVal of a raw point is a reading. A bucket with no
// readings yields the zero summary.
func HeartRateSummary(b googlefit.Bucket) HeartRate {
	return summarize(Extractors[MetricHeartRate].Extract(b))
}

// LatestHeartRate summarizes the newest day in samples that has readings
func LatestHeartRate(samples []Sample) HeartRate {
	for i := len(samples) - 1; i >= 0; i-- {
		if samples[i].Count > 0 {
			return summarize(samples[i])
		}
	}
	return HeartRate{}
}

func summarize(s Sample) HeartRate {
	if s.Count == 0 {
		return HeartRate{}
	}
	return HeartRate{
		AvgBPM:        Round(s.Value(Mean), 1),
		MinBPM:        s.Min,
		MaxBPM:        s.Max,
		ReadingsCount: s.Count,
	}
}
