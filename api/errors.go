package api

import (
	"encoding/json"
	"fmt"
)

const (
	CodeUnknown    = "UNKNOWN_ERROR"
	defaultMessage = "An unexpected error occurred"
)

// RequestError is returned for any failed API call. StatusCode is 0 when no response
// was received, in which case Err holds the transport error.
type RequestError struct {
	Message    string              `json:"message"`
	Code       string              `json:"code"`
	StatusCode int                 `json:"statusCode"`
	Details    map[string][]string `json:"details,omitempty"`
	Err        error               `json:"-"`
}

func (e *RequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Message string              `json:"message"`
	Code    string              `json:"code"`
	Details map[string][]string `json:"details"`
}

func newResponseError(statusCode int, body []byte) *RequestError {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	e := &RequestError{
		Message:    eb.Message,
		Code:       eb.Code,
		StatusCode: statusCode,
		Details:    eb.Details,
	}
	if e.Message == "" {
		e.Message = defaultMessage
	}
	if e.Code == "" {
		e.Code = CodeUnknown
	}
	return e
}

func newTransportError(err error) *RequestError {
	msg := defaultMessage
	if err != nil {
		msg = err.Error()
	}
	return &RequestError{Message: msg, Code: CodeUnknown, Err: err}
}
