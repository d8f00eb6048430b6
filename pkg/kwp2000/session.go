package kwp2000

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition  = errors.New("invalid session state transition")
	ErrInvalidState       = errors.New("service not valid in current session state")
	ErrSessionRejected    = errors.New("session rejected")
	ErrSessionBusy        = errors.New("session busy")
	ErrSecurityLockout    = errors.New("security access locked out")
	ErrRequestTimeout     = errors.New("request timed out")
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrNoTransfer         = errors.New("no download in progress")
	ErrLevelUnsupported   = errors.New("security level not supported by this unit")
)

// State is the session's position in the protocol state machine.
type State int

const (
	Closed State = iota
	SessionOpen
	SecurityPending
	SecurityGranted
	SecurityDenied
	SecurityLockout
	Active
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case SessionOpen:
		return "SessionOpen"
	case SecurityPending:
		return "SecurityPending"
	case SecurityGranted:
		return "SecurityGranted"
	case SecurityDenied:
		return "SecurityDenied"
	case SecurityLockout:
		return "SecurityLockout"
	case Active:
		return "Active"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions lists the legal edges. Closed is reachable from everywhere;
// a denied unlock may retry with a fresh seed, and the third consecutive
// denial parks the session in SecurityLockout until the cooldown passes.
var transitions = map[State][]State{
	Closed:          {SessionOpen},
	SessionOpen:     {SecurityPending, Active},
	SecurityPending: {SecurityGranted, SecurityDenied},
	SecurityGranted: {Active},
	SecurityDenied:  {SecurityPending, SecurityLockout, SessionOpen, Active},
	SecurityLockout: {SecurityPending},
	Active:          {SecurityPending},
}

// transition validates an edge and returns the entered state. The current
// state is returned unchanged on an illegal edge.
func transition(from, to State) (State, error) {
	if to == Closed {
		return Closed, nil
	}
	for _, next := range transitions[from] {
		if next == to {
			return to, nil
		}
	}
	return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// DriverRole identifies which component currently owns the session. The
// flash sequencer and the telemetry poller must never drive it at the
// same time.
type DriverRole int

const (
	RoleNone DriverRole = iota
	RoleFlash
	RolePoller
)

func (r DriverRole) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleFlash:
		return "flasher"
	case RolePoller:
		return "poller"
	default:
		return fmt.Sprintf("DriverRole(%d)", int(r))
	}
}

// ZeroSeedMeaning selects how an all-zero seed from the ECU is read. The
// convention differs between variants, so it is profile configuration,
// never assumed.
type ZeroSeedMeaning int

const (
	// ZeroSeedInvalid treats an all-zero seed as a protocol error.
	ZeroSeedInvalid ZeroSeedMeaning = iota
	// ZeroSeedUnlocked means the ECU is already unlocked at this level
	// and no key must be sent.
	ZeroSeedUnlocked
	// ZeroSeedUnsupported means the unit does not implement the level.
	ZeroSeedUnsupported
)
