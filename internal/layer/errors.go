package layer

import (
	"errors"
	"fmt"
)

// Error kinds. Wrap them with fmt.Errorf("...: %w") and test with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrMalformedGeoJSON    = errors.New("malformed GeoJSON")
	ErrMalformedGeometry   = errors.New("malformed geometry")
	ErrStorage             = errors.New("storage error")

	// ErrFileNotFound is an ErrNotFound for a record whose stored file is gone.
	ErrFileNotFound = fmt.Errorf("file %w", ErrNotFound)
)

// IsClientError reports whether err was caused by bad input rather than by
// the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnsupportedFileType) ||
		errors.Is(err, ErrMalformedGeoJSON) ||
		errors.Is(err, ErrMalformedGeometry)
}
