// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnauthenticated indicates no resolvable access token exists for a
// tenant. Calls failing with this error never reached the upstream CRM.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrValidation indicates a request failed input validation.
var ErrValidation = errors.New("validation failed")

// ErrStateInvalid indicates a CSRF state token was missing, expired, or
// already consumed.
var ErrStateInvalid = errors.New("invalid or expired state")
