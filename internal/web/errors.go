package web

// errors.go turns service errors into JSON error responses.
//
// The technical error is logged with the request ID; the client receives
// the mapped user message and code. For errors caused by the uploaded
// content (4xx) the technical text is returned too, since it names the
// offending record.

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/ProgramUpload/internal/core"
	"github.com/JonMunkholm/ProgramUpload/internal/ingest"
	"github.com/JonMunkholm/ProgramUpload/internal/logging"
)

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// errBadRequest marks request problems detected by the handlers themselves.
var errBadRequest = errors.New("bad request")

// statusFor classifies err into an HTTP status.
func statusFor(err error) int {
	var (
		formatErr      *ingest.FormatError
		parseErr       *ingest.ParseError
		timeErr        *ingest.TimeParseError
		consistencyErr *ingest.ConsistencyError
		unknownRoomErr *ingest.UnknownRoomError
		notFoundErr    *ingest.NotFoundError
		maxBytesErr    *http.MaxBytesError
	)
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.As(err, &formatErr),
		errors.As(err, &parseErr),
		errors.As(err, &timeErr),
		errors.As(err, &consistencyErr),
		errors.As(err, &unknownRoomErr):
		return http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyUploads), errors.Is(err, core.ErrConferenceBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its JSON error response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.NewUserError(err).User

	logging.WithFields(r.Context(), "path", r.URL.Path, "method", r.Method).Error("request error",
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	detail := msg.Message
	if status < http.StatusInternalServerError {
		detail = err.Error()
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, ErrorResponse{
		Error:   detail,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}
