package arduino

import (
	"github.com/nerrad567/ccbc-core/internal/brewery"
)

// Command is a pending digital output change.
type Command struct {
	Category   brewery.Category
	ActuatorID string
	Pin        int
	Status     brewery.Status
}

// Bytes encodes the command for the wire.
func (c Command) Bytes() []byte {
	return EncodeStatusCommand(c.Pin, c.Status)
}

// Reconciler diffs the desired actuator state against what the device last
// confirmed.
//
// It is level-triggered and keeps no memory of what it sent: while an
// actuator's CurrentStatus differs from LastKnownDeviceStatus, every call
// to Pending returns a command for it. Delivery is at-least-once; the
// device treats a repeated "pin=STATUS#" as a no-op.
type Reconciler struct {
	store *brewery.Store
}

// NewReconciler creates a reconciler over store.
func NewReconciler(store *brewery.Store) *Reconciler {
	return &Reconciler{store: store}
}

// Pending returns one command per mismatched actuator, heaters first, each
// group ordered by ID.
func (r *Reconciler) Pending() []Command {
	var cmds []Command
	for _, cat := range []brewery.Category{brewery.CategoryHeaters, brewery.CategoryPumps} {
		for _, a := range r.store.Actuators(cat) {
			if a.CurrentStatus == a.LastKnownDeviceStatus {
				continue
			}
			cmds = append(cmds, Command{
				Category:   cat,
				ActuatorID: a.ID,
				Pin:        a.ControlPin,
				Status:     a.CurrentStatus,
			})
		}
	}
	return cmds
}
