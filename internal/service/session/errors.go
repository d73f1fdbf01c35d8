package session

import "errors"

// Session errors.
var (
	ErrAlreadyConnected = errors.New("account already has an active session")
	ErrInvalidAccount   = errors.New("invalid account id")
	ErrPairingFailed    = errors.New("failed to obtain a pairing code")
	ErrPairingExpired   = errors.New("pairing code expired")
	ErrTimeout          = errors.New("connection did not open in time")
	ErrClosed           = errors.New("connection closed")
	ErrLoggedOut        = errors.New("logged out, pair again")
	ErrBanned           = errors.New("access forbidden, the account may be banned")
	ErrReplaced         = errors.New("connection replaced by another session")
	ErrStopped          = errors.New("session stopped")
)

// Kind tells callers what to do about an error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient is worth retrying as is.
	KindTransient
	// KindIdentity means the credentials are gone and the account must be paired again.
	KindIdentity
	// KindPolicy means the transport refused the account. Retrying will not help.
	KindPolicy
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindIdentity:
		return "identity"
	case KindPolicy:
		return "policy"
	}
	return "unknown"
}

// KindOf classifies err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrLoggedOut):
		return KindIdentity
	case errors.Is(err, ErrBanned), errors.Is(err, ErrReplaced):
		return KindPolicy
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrClosed),
		errors.Is(err, ErrPairingFailed), errors.Is(err, ErrPairingExpired):
		return KindTransient
	}
	return KindUnknown
}
