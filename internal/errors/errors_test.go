package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{"without cause", Unauthorized("sign in required"), "sign in required"},
		{"with cause", Wrap(errors.New("dial tcp"), ErrCodeUnavailable, "identity provider unreachable"), "identity provider unreachable: dial tcp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrapf(cause, ErrCodeUnavailable, "call %s", "toolkit")
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be unwrappable")
	}
	if err.Message != "call toolkit" {
		t.Fatalf("unexpected message %q", err.Message)
	}
	if Wrap(nil, ErrCodeInternal, "x") != nil {
		t.Fatalf("Wrap(nil) must be nil")
	}

	timeout := Wrap(fmt.Errorf("request: %w", context.DeadlineExceeded), ErrCodeUnavailable, "slow")
	if timeout.Code != ErrCodeTimeout {
		t.Fatalf("deadline errors must map to timeout, got %s", timeout.Code)
	}
}

func TestGetCodeAndIs(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Forbidden("role"))
	if GetCode(wrapped) != ErrCodeForbidden {
		t.Fatalf("GetCode = %q", GetCode(wrapped))
	}
	if !Is(wrapped, ErrCodeForbidden) || Is(nil, ErrCodeForbidden) {
		t.Fatalf("Is mismatch")
	}
	if GetCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors have no code")
	}
}

func TestValidationField(t *testing.T) {
	err := ValidationField("email", "email is required")
	if err.Field != "email" || err.Code != ErrCodeValidation {
		t.Fatalf("unexpected error %+v", err)
	}
}

func TestMessageOf(t *testing.T) {
	if got := MessageOf(Validation("bad email"), "fallback"); got != "bad email" {
		t.Fatalf("MessageOf = %q", got)
	}
	if got := MessageOf(errors.New("secret detail"), "fallback"); got != "fallback" {
		t.Fatalf("MessageOf must hide plain errors, got %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := map[ErrorCode]int{
		ErrCodeUnauthorized: http.StatusUnauthorized,
		ErrCodeForbidden:    http.StatusForbidden,
		ErrCodeValidation:   http.StatusBadRequest,
		ErrCodeNotFound:     http.StatusNotFound,
		ErrCodeRateLimited:  http.StatusTooManyRequests,
		ErrCodeUnavailable:  http.StatusBadGateway,
		ErrCodeTimeout:      http.StatusGatewayTimeout,
		ErrCodeInternal:     http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := HTTPStatus(New(code, "x")); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", code, got, want)
		}
	}
	if HTTPStatus(errors.New("plain")) != http.StatusInternalServerError {
		t.Errorf("plain errors map to 500")
	}
}
