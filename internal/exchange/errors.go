package exchange

import "errors"

// TransientError marks a refresh failure worth retrying: network faults,
// timeouts, provider 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient exchange error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a refresh failure that retrying cannot fix: the
// refresh secret itself is invalid or revoked. The credential must be
// deactivated.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return "permanent exchange error (" + e.Reason + "): " + e.Err.Error()
	}
	return "permanent exchange error: " + e.Reason
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is classified as unrecoverable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
