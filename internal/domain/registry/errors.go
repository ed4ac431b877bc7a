package registry

import "errors"

var (
	ErrAlreadyRegistered = errors.New("address is already registered")
	ErrRoleImmutable     = errors.New("address is registered with a different role")
	ErrNotAPatient       = errors.New("caller is not a registered patient")
	ErrDoctorNotFound    = errors.New("doctor not found")
	ErrInvalidReference  = errors.New("content hash must not be empty")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrAccountNotFound   = errors.New("account not found")

	// ErrNotAuthorized never says whether the target patient exists.
	ErrNotAuthorized = errors.New("not authorized")
)

// Sentinels lists every registry error kind. Remote transports match error
// text against it to restore the kind on the client side.
var Sentinels = []error{
	ErrAlreadyRegistered,
	ErrRoleImmutable,
	ErrNotAPatient,
	ErrDoctorNotFound,
	ErrInvalidReference,
	ErrInvalidAddress,
	ErrAccountNotFound,
	ErrNotAuthorized,
}
