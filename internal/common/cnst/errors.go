package cnst

import "errors"

var (
	// ErrMissingUserID is returned when the handshake carries no user identity
	ErrMissingUserID = errors.New("missing user id")
	// ErrInvalidUserID is returned when the handshake user identity is not numeric
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrNilDeliverer is returned when a broker is built without a local deliverer
	ErrNilDeliverer = errors.New("local deliverer is required")
)
