package shared

import "math"

// GrowthPercent returns the period-over-period change from base to current.
//
// A missing or zero base yields 100 when current holds a non-zero value and 0
// otherwise; a missing or zero current against a non-zero base yields -100.
// The result is nil only when the ratio is not a finite number.
func GrowthPercent(base, current *float64) *float64 {
	switch {
	case isZero(base):
		if isZero(current) {
			return Float(0)
		}
		return Float(100)
	case isZero(current):
		return Float(-100)
	}
	growth := (*current - *base) / math.Abs(*base) * 100
	if math.IsNaN(growth) || math.IsInf(growth, 0) {
		return nil
	}
	return &growth
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

func isZero(v *float64) bool {
	return v == nil || *v == 0
}
