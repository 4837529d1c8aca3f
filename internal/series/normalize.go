package series

import (
	"healthdash/internal/googlefit"
)

// DailySeries is a chart-ready series aligned to a Window
type DailySeries struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// Empty returns an all-zero series for w
func Empty(w *Window) DailySeries {
	return DailySeries{
		Labels: w.Labels(),
		Values: make([]float64, w.Len()),
	}
}

// DailySamples merges each bucket's sample into its day slot. Buckets that
// fall outside the window are ignored.
func DailySamples(w *Window, buckets []googlefit.Bucket, extract func(googlefit.Bucket) Sample) []Sample {
	samples := make([]Sample, w.Len())
	for _, b := range buckets {
		i, ok := w.Index(b.Start())
		if !ok {
			continue
		}
		samples[i] = samples[i].Merge(extract(b))
	}
	return samples
}

// Normalize projects buckets onto w, producing one series per metric.
// Days without data are 0.
func Normalize(w *Window, buckets []googlefit.Bucket, extractors map[Metric]Extractor) map[Metric]DailySeries {
	out := make(map[Metric]DailySeries, len(extractors))
	for m, e := range extractors {
		samples := DailySamples(w, buckets, e.Extract)
		s := Empty(w)
		for i, sample := range samples {
			s.Values[i] = Round(sample.Value(e.Aggregation), e.Precision)
		}
		out[m] = s
	}
	return out
}

// Latest reads each metric from the most recent bucket by start time.
// Metrics are 0 when there are no buckets.
func Latest(buckets []googlefit.Bucket, extractors map[Metric]Extractor) map[Metric]float64 {
	out := make(map[Metric]float64, len(extractors))
	for m := range extractors {
		out[m] = 0
	}
	if len(buckets) == 0 {
		return out
	}

	latest := buckets[0]
	for _, b := range buckets[1:] {
		if b.StartTimeMillis > latest.StartTimeMillis {
			latest = b
		}
	}
	for m, e := range extractors {
		out[m] = e.Value(latest)
	}
	return out
}

// LatestNonZero returns the newest non-zero value of s, or 0
func LatestNonZero(s DailySeries) float64 {
	for i := len(s.Values) - 1; i >= 0; i-- {
		if s.Values[i] != 0 {
			return s.Values[i]
		}
	}
	return 0
}
