package adminauth

import "errors"

var (
	// ErrNoToken is returned when an operation needs a held token and there is none.
	ErrNoToken = errors.New("adminauth: no token held")

	// ErrMissingExpiry is returned when a grant carries no usable expiry.
	ErrMissingExpiry = errors.New("adminauth: missing token expiry")

	// ErrTokenExpired is returned when a grant is already expired on arrival.
	ErrTokenExpired = errors.New("adminauth: token already expired")
)
