package registry

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedRequest = errors.New("malformed request")
	ErrUnknownModel     = errors.New("unknown model type")
	ErrNotFound         = errors.New("model not found")
	ErrNotFitted        = errors.New("model has not been trained")
)

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedRequest, fmt.Sprintf(format, args...))
}

// IsClientError reports whether err was caused by the request rather than
// the service.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMalformedRequest) ||
		errors.Is(err, ErrUnknownModel) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotFitted)
}
