package handlers

import (
	"net/http"

	imagestack_errors "github.com/customeros/imagestack/internal/errors"
)

// statusForError maps the failure taxonomy to HTTP. Transient failures answer 503 so
// at-least-once senders redeliver.
func statusForError(err error) int {
	switch imagestack_errors.KindOf(err) {
	case imagestack_errors.KindParse, imagestack_errors.KindPermanent:
		return http.StatusUnprocessableEntity
	case imagestack_errors.KindNotFound:
		return http.StatusNotFound
	case imagestack_errors.KindTransient, imagestack_errors.KindCapacity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
