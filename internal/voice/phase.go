// Package voice drives the lifecycle of one voice onboarding conversation.
package voice

// Phase is the state of a Controller.
type Phase string

// Phases.
const (
	PhaseNotStarted Phase = "not_started"
	PhaseConnecting Phase = "connecting"
	PhaseActive     Phase = "active"
	PhaseEnded      Phase = "ended"
	PhaseFailed     Phase = "failed"
)

// Trigger is an input to the phase transition function.
type Trigger string

// Triggers.
const (
	TriggerStart        Trigger = "start"
	TriggerConnected    Trigger = "connected"
	TriggerDisconnected Trigger = "disconnected"
	TriggerEnd          Trigger = "end"
	TriggerFail         Trigger = "fail"
)

// Next returns the phase reached from p on trigger t. ok is false when the
// trigger does not apply in p, in which case p is returned unchanged.
//
//	not_started, failed --start--> connecting
//	connecting --connected--> active
//	active --disconnected--> not_started
//	active --end--> ended
//	connecting, active --fail--> failed
//
// ended is terminal.
func Next(p Phase, t Trigger) (Phase, bool) {
	switch t {
	case TriggerStart:
		if p == PhaseNotStarted || p == PhaseFailed {
			return PhaseConnecting, true
		}
	case TriggerConnected:
		if p == PhaseConnecting {
			return PhaseActive, true
		}
	case TriggerDisconnected:
		if p == PhaseActive {
			return PhaseNotStarted, true
		}
	case TriggerEnd:
		if p == PhaseActive {
			return PhaseEnded, true
		}
	case TriggerFail:
		if p == PhaseConnecting || p == PhaseActive {
			return PhaseFailed, true
		}
	}
	return p, false
}

// Terminal reports whether no trigger leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseEnded
}

func (p Phase) String() string {
	return string(p)
}
