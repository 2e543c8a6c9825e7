package model

import "errors"

var (
	// ErrUnauthenticated means no credential is present.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrSessionExpired means a credential is present but unusable and could not be refreshed.
	ErrSessionExpired = errors.New("session expired")
	// ErrNetwork marks transient transport failures.
	ErrNetwork = errors.New("network failure")
	// ErrValidation marks malformed reminder input rejected before any write.
	ErrValidation = errors.New("validation failure")
	// ErrNotFound means the target id is already gone.
	ErrNotFound = errors.New("not found")
	// ErrMalformed marks stored or fetched data that cannot be interpreted.
	// Only the affected record is dropped.
	ErrMalformed = errors.New("malformed record")
)
