package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Strabo error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"     // 400
	ErrValidation        ErrorCode = "VALIDATION_ERROR"    // 400
	ErrNotFound          ErrorCode = "NOT_FOUND"           // 404
	ErrAlreadyExists     ErrorCode = "ALREADY_EXISTS"      // 409
	ErrAlreadyInProgress ErrorCode = "ALREADY_IN_PROGRESS" // 409
	ErrMalformedTrack    ErrorCode = "MALFORMED_TRACK"     // 422
	ErrCancelled         ErrorCode = "CANCELLED"           // 499
	ErrIO                ErrorCode = "IO_ERROR"            // 500
	ErrInternal          ErrorCode = "INTERNAL"            // 500
	ErrServer            ErrorCode = "SERVER_ERROR"        // 502
	ErrTransport         ErrorCode = "TRANSPORT_ERROR"     // 503
)

// StraboError represents a structured error with code, status, and details.
type StraboError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *StraboError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause so stdlib errors.Is/As keep working
// (e.g. os.ErrNotExist, context.Canceled).
func (e *StraboError) Unwrap() error {
	return e.Err
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *StraboError {
	return &StraboError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewValidation creates a 400 error for a capture that cannot be uploaded
// because one of its files is missing or unreadable.
func NewValidation(token, msg string, err error) *StraboError {
	return &StraboError{
		Code:    ErrValidation,
		Status:  400,
		Message: msg,
		Details: map[string]any{"token": token},
		Err:     err,
	}
}

// NewNotFound creates a 404 error for when a capture cannot be found.
func NewNotFound(token string) *StraboError {
	return &StraboError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("capture not found: %s", token),
		Details: map[string]any{"token": token},
	}
}

// NewFileNotFound creates a 404 error for a missing bundle or source file.
func NewFileNotFound(path string) *StraboError {
	return &StraboError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewAlreadyExists creates a 409 error when a capture with the token is
// already present in the store.
func NewAlreadyExists(token string) *StraboError {
	return &StraboError{
		Code:    ErrAlreadyExists,
		Status:  409,
		Message: fmt.Sprintf("capture already exists: %s", token),
		Details: map[string]any{"token": token},
	}
}

// NewAlreadyInProgress creates a 409 error when an upload is requested while
// another one is still in flight on the same pipeline.
func NewAlreadyInProgress(current string) *StraboError {
	return &StraboError{
		Code:    ErrAlreadyInProgress,
		Status:  409,
		Message: fmt.Sprintf("upload already in progress for capture %s", current),
		Details: map[string]any{"current_token": current},
	}
}

// NewMalformedTrack creates a 422 error for geodata that cannot be decoded.
func NewMalformedTrack(msg string) *StraboError {
	return &StraboError{
		Code:    ErrMalformedTrack,
		Status:  422,
		Message: msg,
	}
}

// NewCancelled creates a 499 error for an operation aborted by its caller.
func NewCancelled(op string) *StraboError {
	return &StraboError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
	}
}

// NewIO creates a 500 error for filesystem create/rename/delete failures.
func NewIO(op string, err error) *StraboError {
	msg := op
	if err != nil {
		msg = fmt.Sprintf("%s: %v", op, err)
	}
	return &StraboError{
		Code:    ErrIO,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the cause is kept in Details for logging.
func NewInternal(err error) *StraboError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &StraboError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		Err:     err,
	}
}

// NewServer creates a 502 error for a server that rejected an upload.
func NewServer(status int, msg string) *StraboError {
	return &StraboError{
		Code:    ErrServer,
		Status:  502,
		Message: msg,
		Details: map[string]any{"http_status": status},
	}
}

// NewTransport creates a 503 error for network failures, including timeouts.
func NewTransport(err error) *StraboError {
	msg := "transport error"
	if err != nil {
		msg = err.Error()
	}
	return &StraboError{
		Code:    ErrTransport,
		Status:  503,
		Message: msg,
		Err:     err,
	}
}

// Is checks if an error is (or wraps) a StraboError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *StraboError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first StraboError in err's chain,
// or ErrInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var sErr *StraboError
	if stderrors.As(err, &sErr) {
		return sErr.Code
	}
	return ErrInternal
}
