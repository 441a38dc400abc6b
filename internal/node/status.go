// Package node defines the domain types shared across the supervisor: node
// records, their status state machine, metric samples, earnings, and settings.
package node

import "fmt"

// Status is the lifecycle state of a single node, independent of the
// is_status_locked/is_status_unknown qualifiers carried alongside it on Record.
type Status string

const (
	StatusCreating   Status = "Creating"
	StatusActive     Status = "Active"
	StatusRestarting Status = "Restarting"
	StatusInactive   Status = "Inactive"
	StatusRemoving   Status = "Removing"
	StatusUpgrading  Status = "Upgrading"
	StatusRecycling  Status = "Recycling"
)

// Reason further qualifies StatusInactive.
type Reason string

const (
	ReasonCreated     Reason = "Created"
	ReasonStopped     Reason = "Stopped"
	ReasonStartFailed Reason = "StartFailed"
	ReasonExited      Reason = "Exited"
	ReasonUnknown     Reason = "Unknown"
)

// State is the full (Status, Reason, detail) triple persisted for a node.
type State struct {
	Status Status
	Reason Reason // only meaningful when Status == StatusInactive
	Detail string // free-form message for StartFailed/Exited
}

func Created() State    { return State{Status: StatusCreating} }
func Active() State     { return State{Status: StatusActive} }
func Stopped() State    { return State{Status: StatusInactive, Reason: ReasonStopped} }
func Removing() State   { return State{Status: StatusRemoving} }
func Upgrading() State  { return State{Status: StatusUpgrading} }
func Recycling() State  { return State{Status: StatusRecycling} }
func Restarting() State { return State{Status: StatusRestarting} }

func StartFailed(detail string) State {
	return State{Status: StatusInactive, Reason: ReasonStartFailed, Detail: detail}
}

func Exited(detail string) State {
	return State{Status: StatusInactive, Reason: ReasonExited, Detail: detail}
}

func Unknown() State {
	return State{Status: StatusInactive, Reason: ReasonUnknown}
}

// IsTransitioning reports whether the node has a mutation in flight toward a
// target state — mirrors the predicate of the same name in the richer status
// enum this type was distilled from.
func (s State) IsTransitioning() bool {
	switch s.Status {
	case StatusCreating, StatusRestarting, StatusRemoving, StatusUpgrading, StatusRecycling:
		return true
	default:
		return false
	}
}

func (s State) IsActive() bool   { return s.Status == StatusActive }
func (s State) IsInactive() bool { return s.Status == StatusInactive }

func (s State) String() string {
	if s.Status != StatusInactive {
		return string(s.Status)
	}
	switch s.Reason {
	case ReasonStartFailed:
		return fmt.Sprintf("Start failed (%s)", s.Detail)
	case ReasonExited:
		return fmt.Sprintf("Exited (%s)", s.Detail)
	case ReasonUnknown:
		return "Exited (unknown reason)"
	default:
		return string(s.Reason)
	}
}

// FromLegacyRow interprets a persisted (status, locked) pair the way startup
// load must: a bare "Active" status combined with a locked flag means a
// mutation is in flight whose eventual target is Active, not that the node is
// verified live. Any other persisted status — known or not, locked or not —
// is never trusted as live without a fresh observation and is demoted to
// Inactive/Stopped.
func FromLegacyRow(status string, locked bool) State {
	if status == string(StatusActive) {
		if locked {
			return Restarting()
		}
		return Active()
	}
	return Stopped()
}
