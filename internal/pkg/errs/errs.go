package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"inkroom/internal/pkg/logx"
)

// ErrSocketClosed is returned when writing to a connection that is no longer open.
var ErrSocketClosed = errors.New("socket is not open")

// CustomError is the domain error raised for protocol violations.
// It carries a business code, a readable message, the time it was raised and,
// for errors surfaced over HTTP, a status code.
type CustomError struct {
	Code      int
	Message   string
	Status    int
	Timestamp time.Time
}

// Error implements the error interface.
func (e *CustomError) Error() string {
	return fmt.Sprintf("error %d at %s: %s", e.Code, e.Timestamp.Format(time.RFC3339), e.Message)
}

// Is reports whether target is a *CustomError with the same code.
func (e *CustomError) Is(target error) bool {
	var t *CustomError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError builds a *CustomError from a registered code, stamping it with the current time.
// details are formatted into the message template when it has verbs. Unknown codes collapse
// to ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	template, ok := errorMap[code]
	if !ok {
		logx.Error(
			fmt.Errorf("unregistered error code %d", code),
			"Unknown error code requested",
			"requested_code", code,
		)
		template = errorMap[ErrUnknown]
	}

	customErr := template
	customErr.Timestamp = time.Now()

	if customErr.Status == 0 {
		customErr.Status = http.StatusBadRequest
	}

	if len(details) > 0 {
		if strings.Contains(customErr.Message, "%") {
			customErr.Message = fmt.Sprintf(customErr.Message, details...)
		} else {
			logx.Warn("Error details ignored: message template has no verbs.", "code", code)
		}
	}

	return &customErr
}

// HasCode reports whether err is, or wraps, a *CustomError carrying code.
func HasCode(err error, code int) bool {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Code == code
	}
	return false
}

// InvariantError marks a broken programming invariant. It is raised with panic and is
// never recovered by the message handler.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Message
}

// Invariant panics with an *InvariantError built from format and args.
func Invariant(format string, args ...any) {
	panic(&InvariantError{Message: fmt.Sprintf(format, args...)})
}
