package httperr

import (
	"context"
	"errors"
	"net/http"

	"go.keploy.io/httpengine/pkg/body"
	"go.keploy.io/httpengine/pkg/models"
)

const textPlain = "text/plain; charset=utf-8"

// StatusOf maps any error to a status code. It is total: every error,
// including nil, yields a status in the 400-599 range.
func StatusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		if s := sc.StatusCode(); s >= 400 && s <= 599 {
			return s
		}
		return http.StatusInternalServerError
	}

	var pe *body.PayloadError
	if errors.As(err, &pe) {
		if pe.Kind == body.ErrKindTooLarge {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// FromServiceError builds the response for an error returned by a service.
// The body is the error's display text.
func FromServiceError(err error) *models.Response {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return models.NewBuilder(StatusOf(err)).
		ContentType(textPlain).
		BodyString(msg)
}

// FromPanic builds the response for a recovered panic. The panic value is
// not echoed to the client.
func FromPanic(*PanicError) *models.Response {
	return models.NewBuilder(http.StatusInternalServerError).
		ContentType(textPlain).
		BodyString(http.StatusText(http.StatusInternalServerError))
}

// FromMaterializeError builds the response that replaces one the engine
// could not encode. None of the original headers survive.
func FromMaterializeError(err error) *models.Response {
	msg := ErrInvalidHeaderValue.Error()
	for _, known := range []error{ErrInvalidHeaderName, ErrInvalidStatus, ErrInvalidLength} {
		if errors.Is(err, known) {
			msg = known.Error()
			break
		}
	}
	return models.NewBuilder(http.StatusInternalServerError).
		ContentType(textPlain).
		BodyString(msg)
}
