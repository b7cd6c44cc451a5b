package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCredentials indicates missing or malformed backend credentials
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnsupportedBackend indicates an unknown retrieval backend tag
	ErrUnsupportedBackend = errors.New("unsupported backend type")

	// ErrNoDatasetsWithFiles indicates that none of the requested datasets
	// contain any content; the request cannot produce an answer
	ErrNoDatasetsWithFiles = errors.New("no datasets with files found")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")
)
