package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrMalformedBatch indicates a sync batch failed structural validation
	// and was rejected before any store access
	ErrMalformedBatch = errors.New("malformed sync batch")

	// ErrVersionMismatch indicates a conditional write lost the race: the
	// stored version no longer matches the expected version
	ErrVersionMismatch = errors.New("version mismatch")

	// ErrNotInConflict indicates a resolution was attempted on a record
	// that is not in conflict state
	ErrNotInConflict = errors.New("record not in conflict state")

	// ErrUnknownEntity indicates the entity type is not in the schema registry
	ErrUnknownEntity = errors.New("unknown entity type")

	// ErrStoreUnavailable indicates the record store could not be reached;
	// the remaining batch is aborted and the whole batch is safe to retry
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the user lacks permission for this action
	ErrForbidden = errors.New("forbidden")

	// ErrTokenExpired indicates the auth token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the auth token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrSessionNotFound indicates the session does not exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidCredentials indicates wrong email/password combination
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrServiceUnavailable indicates a backing service could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")
)
