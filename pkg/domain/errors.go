package domain

import "errors"

// Common domain errors
var (
	ErrTransport          = errors.New("portal transport failure")
	ErrRejected           = errors.New("portal rejected the login")
	ErrChallengeNotFound  = errors.New("challenge image not found on login page")
	ErrModelUnavailable   = errors.New("classifier model unavailable")
	ErrSegmentationEmpty  = errors.New("segmentation produced no regions")
	ErrClassifierFault    = errors.New("classifier fault")
	ErrFallbackFailed     = errors.New("human fallback failed")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrInvalidCredentials = errors.New("username and password are required")
)

// DomainError attaches a machine-readable code to one of the sentinels above.
type DomainError struct {
	Err     error
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// TransportError records which portal operation failed.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e.URL != "" {
		return "portal " + e.Op + " " + e.URL + ": " + e.Err.Error()
	}
	return "portal " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// IsTransport checks if the error came from a portal network operation.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
