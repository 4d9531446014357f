package http

import (
	"errors"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// ErrorBody is the only error shape clients see: {"error": "..."}.
type ErrorBody struct {
	status  int
	Message string `json:"error"`
}

// Error implements error.
func (e *ErrorBody) Error() string {
	return e.Message
}

// GetStatus implements huma.StatusError.
func (e *ErrorBody) GetStatus() int {
	return e.status
}

// newError replaces huma's RFC 9457 problem documents.
func newError(status int, msg string, errs ...error) huma.StatusError {
	details := make([]string, 0, len(errs))
	for _, err := range errs {
		if err == nil {
			continue
		}
		var detail huma.ErrorDetailer
		if errors.As(err, &detail) {
			d := detail.ErrorDetail()
			details = append(details, strings.TrimPrefix(d.Location+": ", ": ")+d.Message)
			continue
		}
		details = append(details, err.Error())
	}

	if len(details) > 0 {
		msg = msg + ": " + strings.Join(details, "; ")
	}

	return &ErrorBody{status: status, Message: msg}
}

func init() {
	huma.NewError = newError
}
