package series

import (
	"math"

	"healthdash/internal/googlefit"
)

// Metric names a dashboard metric
type Metric string

const (
	MetricSteps         Metric = "steps"
	MetricDistance      Metric = "distance"
	MetricCalories      Metric = "calories"
	MetricActiveMinutes Metric = "active_minutes"
	MetricHeartRate     Metric = "heart_rate"
	MetricWeight        Metric = "weight"
	MetricSleep         Metric = "sleep"
)

// Aggregation selects how a day's samples reduce to one value
type Aggregation int

const (
	Sum Aggregation = iota
	Mean
	Min
	Max
)

// Sample accumulates the readings of one metric over one or more buckets
type Sample struct {
	Sum   float64
	Count int
	Min   float64
	Max   float64
}

func (s *Sample) add(v float64) {
	if s.Count == 0 || v < s.Min {
		s.Min = v
	}
	if s.Count == 0 || v > s.Max {
		s.Max = v
	}
	s.Sum += v
	s.Count++
}

// addSummary folds in a pre-aggregated [avg, max, min] point as one reading
func (s *Sample) addSummary(avg, high, low float64) {
	if s.Count == 0 || low < s.Min {
		s.Min = low
	}
	if s.Count == 0 || high > s.Max {
		s.Max = high
	}
	s.Sum += avg
	s.Count++
}

// Merge combines two samples of the same metric
func (s Sample) Merge(o Sample) Sample {
	if o.Count == 0 {
		return s
	}
	if s.Count == 0 {
		return o
	}
	return Sample{
		Sum:   s.Sum + o.Sum,
		Count: s.Count + o.Count,
		Min:   math.Min(s.Min, o.Min),
		Max:   math.Max(s.Max, o.Max),
	}
}

// Value reduces the sample. An empty sample is 0.
func (s Sample) Value(agg Aggregation) float64 {
	if s.Count == 0 {
		return 0
	}
	switch agg {
	case Mean:
		return s.Sum / float64(s.Count)
	case Min:
		return s.Min
	case Max:
		return s.Max
	default:
		return s.Sum
	}
}

// Extractor pulls one metric out of a bucket
type Extractor struct {
	Extract     func(googlefit.Bucket) Sample
	Aggregation Aggregation
	Precision   int // decimal places kept in output
}

// Value extracts and reduces the metric for a single bucket
func (e Extractor) Value(b googlefit.Bucket) float64 {
	return Round(e.Extract(b).Value(e.Aggregation), e.Precision)
}

// Extractors holds the bucket-based metrics. Adding a metric means adding
// an entry here.
var Extractors = map[Metric]Extractor{
	MetricSteps:         {Extract: firstInt(googlefit.DataTypeSteps), Aggregation: Sum},
	MetricDistance:      {Extract: scaled(firstFloat(googlefit.DataTypeDistance), 0.001), Aggregation: Sum, Precision: 2},
	MetricCalories:      {Extract: firstFloat(googlefit.DataTypeCalories), Aggregation: Sum, Precision: 2},
	MetricActiveMinutes: {Extract: firstInt(googlefit.DataTypeActiveMinutes), Aggregation: Sum},
	MetricHeartRate:     {Extract: gauge(googlefit.DataTypeHeartRate), Aggregation: Mean, Precision: 1},
	MetricWeight:        {Extract: firstFloat(googlefit.DataTypeWeight), Aggregation: Mean, Precision: 1},
}

// Select returns the extractors for the given metrics
func Select(metrics ...Metric) map[Metric]Extractor {
	out := make(map[Metric]Extractor, len(metrics))
	for _, m := range metrics {
		if e, ok := Extractors[m]; ok {
			out[m] = e
		}
	}
	return out
}

// firstInt reads the intVal of each point's first value
func firstInt(dataType string) func(googlefit.Bucket) Sample {
	return func(b googlefit.Bucket) Sample {
		var s Sample
		for _, p := range b.Points(dataType) {
			if len(p.Value) > 0 && p.Value[0].IntVal != nil {
				s.add(float64(*p.Value[0].IntVal))
			}
		}
		return s
	}
}

// firstFloat reads the fpVal of each point's first value
func firstFloat(dataType string) func(googlefit.Bucket) Sample {
	return func(b googlefit.Bucket) Sample {
		var s Sample
		for _, p := range b.Points(dataType) {
			if len(p.Value) > 0 && p.Value[0].FpVal != nil {
				s.add(*p.Value[0].FpVal)
			}
		}
		return s
	}
}

// gauge reads summary points by their [avg, max, min] slots and treats
// every fpVal of a raw point as a reading
func gauge(dataType string) func(googlefit.Bucket) Sample {
	return func(b googlefit.Bucket) Sample {
		var s Sample
		for _, p := range b.Points(dataType) {
			if avg, high, low, ok := p.Summary(); ok {
				s.addSummary(avg, high, low)
				continue
			}
			if googlefit.IsSummaryType(p.DataTypeName) {
				continue
			}
			for _, v := range p.Value {
				if v.FpVal != nil {
					s.add(*v.FpVal)
				}
			}
		}
		return s
	}
}

func scaled(extract func(googlefit.Bucket) Sample, factor float64) func(googlefit.Bucket) Sample {
	return func(b googlefit.Bucket) Sample {
		s := extract(b)
		s.Sum *= factor
		s.Min *= factor
		s.Max *= factor
		return s
	}
}
