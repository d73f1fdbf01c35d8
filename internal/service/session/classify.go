package session

import "fleetbot/internal/transport"

// Action is what a supervisor does about a close.
type Action struct {
	// Purge destroys the persisted credentials.
	Purge bool
	// Terminal ends the supervisor.
	Terminal bool
	// Restart drops the live handle and dials a fresh one after the restart delay.
	// Non-terminal actions without Restart reconnect the existing handle.
	Restart bool
	// Err is reported for terminal actions.
	Err error
}

// Classify maps a close reason to its action.
func Classify(reason transport.CloseReason) Action {
	switch reason {
	case transport.ReasonLoggedOut, transport.ReasonBadSession:
		return Action{Purge: true, Terminal: true, Err: ErrLoggedOut}
	case transport.ReasonConnectionReplaced:
		return Action{Terminal: true, Err: ErrReplaced}
	case transport.ReasonForbidden:
		return Action{Terminal: true, Err: ErrBanned}
	case transport.ReasonRestartRequired:
		return Action{Restart: true}
	}
	// closed, lost, timed out and anything unrecognised
	return Action{}
}
