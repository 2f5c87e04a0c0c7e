package gateway

import "errors"

var (
	// ErrTransport means the service could not be reached or failed to answer.
	ErrTransport = errors.New("gateway: transport error")
	// ErrAuth means the caller's session is missing or no longer valid.
	ErrAuth = errors.New("gateway: not authenticated")
	// ErrConstraint is a rejected write: duplicate key, missing reference, failed check.
	ErrConstraint = errors.New("gateway: constraint violation")
	// ErrStorage is an object storage failure.
	ErrStorage = errors.New("gateway: storage error")
	// ErrUnknownTable is returned for tables missing from the registry.
	ErrUnknownTable = errors.New("gateway: unknown table")
)
