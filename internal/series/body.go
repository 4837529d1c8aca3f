package series

import "healthdash/internal/googlefit"

// LatestValue returns the fpVal of the point with the greatest end time
// across all buckets, ignoring day boundaries.
func LatestValue(buckets []googlefit.Bucket, dataType string) (float64, bool) {
	return pickValue(buckets, dataType, func(candidate, best googlefit.Int64) bool {
		return candidate > best
	})
}

// EarliestValue returns the fpVal of the point with the smallest end time
func EarliestValue(buckets []googlefit.Bucket, dataType string) (float64, bool) {
	return pickValue(buckets, dataType, func(candidate, best googlefit.Int64) bool {
		return candidate < best
	})
}

func pickValue(buckets []googlefit.Bucket, dataType string, better func(candidate, best googlefit.Int64) bool) (float64, bool) {
	var (
		value float64
		at    googlefit.Int64
		found bool
	)
	for _, b := range buckets {
		for _, p := range b.Points(dataType) {
			if len(p.Value) == 0 || p.Value[0].FpVal == nil {
				continue
			}
			if !found || better(p.EndTimeNanos, at) {
				value = *p.Value[0].FpVal
				at = p.EndTimeNanos
				found = true
			}
		}
	}
	return value, found
}

// BMI computes weight (kg) / height (m) squared, rounded to one decimal.
// It reports false unless both are present and height is nonzero.
func BMI(weight, height float64, haveWeight, haveHeight bool) (float64, bool) {
	if !haveWeight || !haveHeight || height == 0 {
		return 0, false
	}
	return Round(weight/(height*height), 1), true
}

// WeightChange returns latest minus earliest weight in the buckets
func WeightChange(buckets []googlefit.Bucket) (float64, bool) {
	first, ok := EarliestValue(buckets, googlefit.DataTypeWeight)
	if !ok {
		return 0, false
	}
	last, _ := LatestValue(buckets, googlefit.DataTypeWeight)
	return Round(last-first, 1), true
}
