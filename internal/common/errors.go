// Package common holds the error taxonomy shared by every package of the
// real-time core. Callers wrap these sentinels with fmt.Errorf("...: %w")
// and test them with errors.Is.
package common

import "errors"

var (
	// ErrValidation marks malformed input handed to a producer, such as a
	// missing recipient or an unknown event name.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown identity or target record.
	ErrNotFound = errors.New("not found")

	// ErrForbidden marks an operation on a record the caller does not own.
	ErrForbidden = errors.New("forbidden")

	// ErrCrypto marks an encrypt or decrypt failure.
	ErrCrypto = errors.New("crypto error")

	// ErrConfiguration marks a startup-fatal configuration problem.
	ErrConfiguration = errors.New("configuration error")
)
