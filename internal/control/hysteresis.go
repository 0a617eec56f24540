package control

import "github.com/nerrad567/ccbc-core/internal/brewery"

// Reason explains a control decision.
type Reason string

const (
	ReasonHold       Reason = "hold"
	ReasonAboveUpper Reason = "above upper limit"
	ReasonBelowLower Reason = "below lower limit"
	ReasonSafetyMax  Reason = "at or above safety maximum"
	ReasonNoSensor   Reason = "no bound sensor"
)

// DetermineStatus applies the hysteresis law to one actuator.
//
// Above upper switches OFF, below lower switches ON, and anything inside
// the band (edges included) keeps prev. The safety maximum is checked
// last and forces OFF whatever the band said, including below lower.
func DetermineStatus(value float64, prev brewery.Status, lower, upper float64, max *float64) (brewery.Status, Reason) {
	status, reason := prev, ReasonHold
	switch {
	case value > upper:
		status, reason = brewery.StatusOff, ReasonAboveUpper
	case value < lower:
		status, reason = brewery.StatusOn, ReasonBelowLower
	}

	if max != nil && value >= *max {
		status, reason = brewery.StatusOff, ReasonSafetyMax
	}
	return status, reason
}
