package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"testing"
)

func TestStraboError_Error(t *testing.T) {
	err := &StraboError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "capture not found",
	}

	expected := "NOT_FOUND: capture not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("token is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "token is required" {
		t.Errorf("Message = %q, want %q", err.Message, "token is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("abc123")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["token"] != "abc123" {
		t.Errorf("Details[token] = %v, want %q", err.Details["token"], "abc123")
	}
}

func TestNewFileNotFound(t *testing.T) {
	err := NewFileNotFound("/tmp/x.strabo")
	if err.Code != ErrNotFound || err.Status != 404 {
		t.Errorf("Code/Status = %q/%d, want NOT_FOUND/404", err.Code, err.Status)
	}
	if err.Details["path"] != "/tmp/x.strabo" {
		t.Errorf("Details[path] = %v", err.Details["path"])
	}
}

func TestNewAlreadyInProgress(t *testing.T) {
	err := NewAlreadyInProgress("tok")

	if err.Code != ErrAlreadyInProgress {
		t.Errorf("Code = %q, want %q", err.Code, ErrAlreadyInProgress)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
	if err.Details["current_token"] != "tok" {
		t.Errorf("Details[current_token] = %v, want %q", err.Details["current_token"], "tok")
	}
}

func TestNewServer(t *testing.T) {
	err := NewServer(500, "upload rejected")

	if err.Code != ErrServer {
		t.Errorf("Code = %q, want %q", err.Code, ErrServer)
	}
	if err.Details["http_status"] != 500 {
		t.Errorf("Details[http_status] = %v, want 500", err.Details["http_status"])
	}
}

func TestNewIO_UnwrapsCause(t *testing.T) {
	err := NewIO("rename media", os.ErrNotExist)

	if err.Code != ErrIO {
		t.Errorf("Code = %q, want %q", err.Code, ErrIO)
	}
	if !stderrors.Is(err, os.ErrNotExist) {
		t.Error("errors.Is(err, os.ErrNotExist) = false, want true")
	}
}

func TestNewTransport_UnwrapsCause(t *testing.T) {
	err := NewTransport(context.DeadlineExceeded)

	if err.Code != ErrTransport {
		t.Errorf("Code = %q, want %q", err.Code, ErrTransport)
	}
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is(err, context.DeadlineExceeded) = false, want true")
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		originalErr := fmt.Errorf("disk on fire")
		err := NewInternal(originalErr)

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Status != 500 {
			t.Errorf("Status = %d, want 500", err.Status)
		}
		// Message should be generic (not leak internal details)
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details["internal_error"] != "disk on fire" {
			t.Errorf("Details[internal_error] = %q, want %q", err.Details["internal_error"], "disk on fire")
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)

		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		err := NewNotFound("test")
		if !Is(err, ErrNotFound) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		err := NewNotFound("test")
		if Is(err, ErrAlreadyExists) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("non-StraboError", func(t *testing.T) {
		err := fmt.Errorf("plain error")
		if Is(err, ErrNotFound) {
			t.Error("Is() = true, want false for non-StraboError")
		}
	})

	t.Run("wrapped StraboError", func(t *testing.T) {
		inner := NewMalformedTrack("bad magic")
		wrapped := fmt.Errorf("capture abc: %w", inner)
		if !Is(wrapped, ErrMalformedTrack) {
			t.Error("Is() = false, want true for wrapped StraboError")
		}
		if CodeOf(wrapped) != ErrMalformedTrack {
			t.Errorf("CodeOf() = %q, want %q", CodeOf(wrapped), ErrMalformedTrack)
		}
	})

	t.Run("CodeOf foreign error", func(t *testing.T) {
		if CodeOf(fmt.Errorf("x")) != ErrInternal {
			t.Error("CodeOf() for foreign error should be INTERNAL")
		}
	})
}
