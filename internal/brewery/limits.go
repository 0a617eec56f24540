package brewery

import "fmt"

// limitGap is the spacing forced between the bounds when an edit would
// invert them.
const limitGap = 1.0

// limitEdit carries the threshold fields present in one write.
type limitEdit struct {
	setpoint *float64
	lower    *float64
	upper    *float64
}

func (e limitEdit) empty() bool {
	return e.setpoint == nil && e.lower == nil && e.upper == nil
}

// recentre places the band around a newly edited setpoint. Pumps keep
// their current width since their thresholds are gallons.
func recentre(a *ActuatorSpec, band float64) {
	if a.Kind == ActuatorPump {
		half := (a.UpperLimit - a.LowerLimit) / 2
		a.LowerLimit = a.Setpoint - half
		a.UpperLimit = a.Setpoint + half
		return
	}
	margin := band
	if a.OvershootMargin != nil && *a.OvershootMargin > 0 {
		margin = *a.OvershootMargin
	}
	a.LowerLimit = a.Setpoint - band
	a.UpperLimit = a.Setpoint + margin
}

// applyLimits folds an edit into a and restores the ordering
// lower <= setpoint <= upper, lower < upper.
//
// A setpoint edited on its own recentres the band around it. When a bound
// edit inverts the band, the bound that was not edited moves to sit
// limitGap away from the edited one; if both were edited the upper bound
// moves. The setpoint is then clamped into the band.
func applyLimits(a *ActuatorSpec, e limitEdit, band float64) []InvariantViolation {
	if e.empty() {
		return nil
	}
	var violations []InvariantViolation

	if e.setpoint != nil {
		a.Setpoint = *e.setpoint
		if e.lower == nil && e.upper == nil {
			recentre(a, band)
		}
	}
	if e.lower != nil {
		a.LowerLimit = *e.lower
	}
	if e.upper != nil {
		a.UpperLimit = *e.upper
	}

	if a.LowerLimit >= a.UpperLimit {
		if e.upper != nil && e.lower == nil {
			prev := a.LowerLimit
			a.LowerLimit = a.UpperLimit - limitGap
			violations = append(violations, InvariantViolation{
				Field:     FieldLowerLimit,
				Requested: prev,
				Applied:   a.LowerLimit,
				Reason:    fmt.Sprintf("upper limit %g is not above lower limit", a.UpperLimit),
			})
		} else {
			prev := a.UpperLimit
			a.UpperLimit = a.LowerLimit + limitGap
			violations = append(violations, InvariantViolation{
				Field:     FieldUpperLimit,
				Requested: prev,
				Applied:   a.UpperLimit,
				Reason:    fmt.Sprintf("lower limit %g is not below upper limit", a.LowerLimit),
			})
		}
	}

	switch {
	case a.Setpoint < a.LowerLimit:
		prev := a.Setpoint
		a.Setpoint = a.LowerLimit
		violations = append(violations, InvariantViolation{
			Field:     FieldSetpoint,
			Requested: prev,
			Applied:   a.Setpoint,
			Reason:    "setpoint below lower limit",
		})
	case a.Setpoint > a.UpperLimit:
		prev := a.Setpoint
		a.Setpoint = a.UpperLimit
		violations = append(violations, InvariantViolation{
			Field:     FieldSetpoint,
			Requested: prev,
			Applied:   a.Setpoint,
			Reason:    "setpoint above upper limit",
		})
	}

	return violations
}

// validateLimits checks the ordering invariants without correcting them.
func validateLimits(a ActuatorSpec) error {
	if !isFinite(a.LowerLimit) || !isFinite(a.UpperLimit) || !isFinite(a.Setpoint) {
		return fmt.Errorf("%w: limits must be finite", ErrInvalidValue)
	}
	if a.LowerLimit >= a.UpperLimit {
		return fmt.Errorf("%w: lower limit %g must be below upper limit %g",
			ErrInvariantViolation, a.LowerLimit, a.UpperLimit)
	}
	if a.Setpoint < a.LowerLimit || a.Setpoint > a.UpperLimit {
		return fmt.Errorf("%w: setpoint %g outside [%g, %g]",
			ErrInvariantViolation, a.Setpoint, a.LowerLimit, a.UpperLimit)
	}
	return nil
}
