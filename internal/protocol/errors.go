package protocol

import "fmt"

const (
	CodeValidation        = "VALIDATION"
	CodeNoScript          = "NO_SCRIPT"
	CodeScriptNotFound    = "SCRIPT_NOT_FOUND"
	CodeResolveFailure    = "RESOLVE_FAILURE"
	CodeDeviceUnavailable = "DEVICE_UNAVAILABLE"
	CodeUnknownRequest    = "UNKNOWN_REQUEST"
	CodeInternal          = "INTERNAL"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}
