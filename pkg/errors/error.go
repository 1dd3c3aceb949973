package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/jinzhu/gorm"
)

const (
	MessageUnknownError = "unknown error"
)

const (
	ReasonConfigValidation = "ConfigValidation"
	ReasonDeployment       = "Deployment"
	ReasonPrediction       = "Prediction"
	ReasonNotImplemented   = "NotImplemented"
	ReasonNotReady         = "NotReady"
	ReasonNotFound         = "NotFound"
)

type errorReason string

type Error struct {
	Status     int    `json:"status"`
	Message    string `json:"message,omitempty"`
	Reason     errorReason
	dbNotFound bool
	cause      error
}

func (e *Error) Error() string {
	if len(e.Message) == 0 {
		return MessageUnknownError
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) HttpStatus() int {
	if e.Status <= 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

func New(text string) error {
	return NewStatus(http.StatusInternalServerError, text)
}

func NewStatus(status int, text string) error {
	return Smart(status, text)
}

func NewStatusReason(status int, text, reason string) error {
	return Smart(status, text, Reason(reason))
}

func Reason(reason string) errorReason {
	return errorReason(reason)
}

// ConfigValidation reports a structurally invalid step or service
// configuration. It is raised before any platform call.
func ConfigValidation(format string, args ...interface{}) error {
	return Smart(http.StatusBadRequest, fmt.Sprintf(format, args...), Reason(ReasonConfigValidation))
}

// Deployment wraps a failure reported by the serving platform.
// Errors already carrying a reason are returned unchanged.
func Deployment(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok && e.Reason != "" {
		return err
	}
	msg := fmt.Sprintf(format, args...)
	return Smart(http.StatusBadGateway, fmt.Sprintf("%v: %v", msg, err), err, Reason(ReasonDeployment))
}

func Prediction(format string, args ...interface{}) error {
	return Smart(http.StatusInternalServerError, fmt.Sprintf(format, args...), Reason(ReasonPrediction))
}

func NotImplemented(text string) error {
	return Smart(http.StatusNotImplemented, text, Reason(ReasonNotImplemented))
}

func NotReady(text string) error {
	return Smart(http.StatusServiceUnavailable, text, Reason(ReasonNotReady))
}

func NotFound(text string) error {
	return Smart(http.StatusNotFound, text, Reason(ReasonNotFound))
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func IsReason(err error, reason string) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	return string(e.Reason) == reason
}

func Smart(args ...interface{}) error {
	err := &Error{}
	var statusSet, messageSet, reasonSet, errSet bool
	for _, arg := range args {
		switch a := arg.(type) {
		case *Error:
			if errSet {
				continue
			}
			if a.dbNotFound {
				err.Status = http.StatusNotFound
				err.dbNotFound = true
				statusSet = true
			} else if !statusSet {
				err.Status = a.Status
			}
			if !messageSet {
				err.Message = a.Message
			}
			if !reasonSet && a.Reason != "" {
				err.Reason = a.Reason
				reasonSet = true
			}
			err.cause = a
			errSet = true
		case error:
			if errSet {
				continue
			}
			err.cause = a
			if stderrors.Is(a, gorm.ErrRecordNotFound) {
				err.Status = http.StatusNotFound
				err.dbNotFound = true
				if !messageSet {
					err.Message = a.Error()
				}
				if !reasonSet {
					err.Reason = ReasonNotFound
				}
			} else if !messageSet {
				err.Message = a.Error()
				messageSet = true
			}
			errSet = true
		case errorReason:
			if reasonSet {
				continue
			}
			err.Reason = a
			reasonSet = true
		case string:
			if messageSet {
				continue
			}
			err.Message = a
			messageSet = true
		case int:
			if statusSet {
				continue
			}
			err.Status = a
			statusSet = true
		}
	}
	return err
}
