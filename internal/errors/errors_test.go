package errors

import (
	"fmt"
	"testing"
)

func TestSPRError_Error(t *testing.T) {
	err := &SPRError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "prompt not found",
	}

	expected := "NOT_FOUND: prompt not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("promptText is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "promptText is required" {
		t.Errorf("Message = %q, want %q", err.Message, "promptText is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("01HZX")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["local_id"] != "01HZX" {
		t.Errorf("Details[local_id] = %v, want %q", err.Details["local_id"], "01HZX")
	}
}

func TestNewNotConfigured(t *testing.T) {
	err := NewNotConfigured("serverUrl")

	if err.Code != ErrNotConfigured {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotConfigured)
	}
	if err.Status != 412 {
		t.Errorf("Status = %d, want 412", err.Status)
	}
	if err.Message != "serverUrl is not configured" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewStorage(t *testing.T) {
	err := NewStorage(fmt.Errorf("disk I/O error"))

	if err.Code != ErrStorage {
		t.Errorf("Code = %q, want %q", err.Code, ErrStorage)
	}
	if err.Status != 500 {
		t.Errorf("Status = %d, want 500", err.Status)
	}
	if err.Message != "disk I/O error" {
		t.Errorf("Message = %q, want %q", err.Message, "disk I/O error")
	}

	if NewStorage(nil).Message != "storage error" {
		t.Errorf("nil cause should produce generic message")
	}
}

func TestNewDelivery(t *testing.T) {
	err := NewDelivery(503, "HTTP 503 unavailable", "req-1")

	if err.Code != ErrDelivery {
		t.Errorf("Code = %q, want %q", err.Code, ErrDelivery)
	}
	if err.Status != 502 {
		t.Errorf("Status = %d, want 502", err.Status)
	}
	if err.Details["status_code"] != 503 {
		t.Errorf("Details[status_code] = %v, want 503", err.Details["status_code"])
	}
	if err.Details["request_id"] != "req-1" {
		t.Errorf("Details[request_id] = %v, want req-1", err.Details["request_id"])
	}

	noID := NewDelivery(0, "connection refused", "")
	if _, ok := noID.Details["request_id"]; ok {
		t.Error("request_id should be omitted when empty")
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		err := NewInternal(fmt.Errorf("marshal failed"))

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Status != 500 {
			t.Errorf("Status = %d, want 500", err.Status)
		}
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details["internal_error"] != "marshal failed" {
			t.Errorf("Details[internal_error] = %q, want %q", err.Details["internal_error"], "marshal failed")
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)

		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
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
		if Is(err, ErrStorage) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("non-SPRError", func(t *testing.T) {
		err := fmt.Errorf("plain error")
		if Is(err, ErrNotFound) {
			t.Error("Is() = true, want false for non-SPRError")
		}
	})

	t.Run("wrapped SPRError", func(t *testing.T) {
		wrapped := fmt.Errorf("cycle: %w", NewStorage(fmt.Errorf("locked")))
		if !Is(wrapped, ErrStorage) {
			t.Error("Is() = false, want true for wrapped SPRError")
		}
		if Is(wrapped, ErrNotFound) {
			t.Error("Is() = true, want false for wrong code on wrapped SPRError")
		}
	})
}

func TestNewForbidden(t *testing.T) {
	err := NewForbidden("https://evil.example")

	if err.Code != ErrForbidden {
		t.Errorf("Code = %q, want %q", err.Code, ErrForbidden)
	}
	if err.Status != 403 {
		t.Errorf("Status = %d, want 403", err.Status)
	}
	if err.Details["origin"] != "https://evil.example" {
		t.Errorf("Details[origin] = %v, want https://evil.example", err.Details["origin"])
	}
}

func TestNewMediaType(t *testing.T) {
	err := NewMediaType("text/plain")

	if err.Code != ErrMediaType {
		t.Errorf("Code = %q, want %q", err.Code, ErrMediaType)
	}
	if err.Status != 415 {
		t.Errorf("Status = %d, want 415", err.Status)
	}
}
