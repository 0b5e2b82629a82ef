package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-webgis/internal/layer"
	"github.com/joeblew999/plat-webgis/internal/service"
)

// ErrorBody is the JSON shape of every error response: {"error": "..."}.
type ErrorBody struct {
	status  int
	Message string `json:"error" doc:"Error message" example:"Layer not found"`
}

func (e *ErrorBody) Error() string  { return e.Message }
func (e *ErrorBody) GetStatus() int { return e.status }

// NewError builds an ErrorBody. Detail errors from request validation are
// appended to the message, and validation failures are reported as 400.
func NewError(status int, msg string, errs ...error) huma.StatusError {
	if status == http.StatusUnprocessableEntity {
		status = http.StatusBadRequest
	}
	var details []string
	for _, err := range errs {
		if err != nil {
			details = append(details, err.Error())
		}
	}
	if len(details) > 0 {
		msg += ": " + strings.Join(details, "; ")
	}
	return &ErrorBody{status: status, Message: msg}
}

// newErrorWithContext reports a body cut off by LimitUploadBody as an
// oversized upload.
func newErrorWithContext(ctx huma.Context, status int, msg string, errs ...error) huma.StatusError {
	if ctx != nil && bodyTooLarge(errs) {
		if maxUpload, ok := ctx.Context().Value(uploadLimitKey{}).(int64); ok {
			return NewError(http.StatusBadRequest, clientMessage(service.TooLarge(maxUpload)))
		}
	}
	return NewError(status, msg, errs...)
}

func bodyTooLarge(errs []error) bool {
	for _, err := range errs {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) || (err != nil && strings.Contains(err.Error(), "request body too large")) {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&ErrorBody{status: status, Message: msg})
}

func init() {
	huma.NewError = NewError
	huma.NewErrorWithContext = newErrorWithContext
}

// toHTTP maps a service error onto the HTTP error returned to clients.
// Server-side failures are logged and reported without detail.
func toHTTP(log zerolog.Logger, err error) error {
	switch {
	case err == nil:
		return nil
	case layer.IsClientError(err):
		return huma.Error400BadRequest(clientMessage(err))
	case errors.Is(err, layer.ErrFileNotFound):
		return huma.Error404NotFound("File not found")
	case errors.Is(err, layer.ErrNotFound):
		return huma.Error404NotFound("Layer not found")
	}
	log.Error().Err(err).Msg("request failed")
	return huma.Error500InternalServerError("Server error")
}

var clientKinds = []error{
	layer.ErrValidation,
	layer.ErrUnsupportedFileType,
	layer.ErrMalformedGeoJSON,
	layer.ErrMalformedGeometry,
}

// clientMessage removes the error kind label from client error messages,
// keeping any context wrapped around it ("feature 3: ...").
func clientMessage(err error) string {
	msg := err.Error()
	for _, kind := range clientKinds {
		if errors.Is(err, kind) {
			msg = strings.Replace(msg, kind.Error()+": ", "", 1)
		}
	}
	return msg
}
