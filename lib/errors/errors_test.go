package errors

import (
	stderrors "errors"
	"testing"
)

// TestSentinelErrors verifies all sentinel errors are properly defined.
func TestSentinelErrors(t *testing.T) {
	sentinels := []struct {
		name string
		err  error
	}{
		{"ErrTimeout", ErrTimeout},
		{"ErrNotFound", ErrNotFound},
		{"ErrAlreadyExists", ErrAlreadyExists},
		{"ErrPoolNotFound", ErrPoolNotFound},
		{"ErrPoolExhausted", ErrPoolExhausted},
		{"ErrConnectFailed", ErrConnectFailed},
		{"ErrResetFailed", ErrResetFailed},
		{"ErrInvalidTicket", ErrInvalidTicket},
		{"ErrPoolClosed", ErrPoolClosed},
		{"ErrDraining", ErrDraining},
		{"ErrConfiguration", ErrConfiguration},
		{"ErrCircuitOpen", ErrCircuitOpen},
		{"ErrRegistryClosed", ErrRegistryClosed},
		{"ErrDuplicatePool", ErrDuplicatePool},
	}

	for _, tc := range sentinels {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err == nil {
				t.Errorf("%s should not be nil", tc.name)
			}
			if tc.err.Error() == "" {
				t.Errorf("%s should have a non-empty message", tc.name)
			}
		})
	}
}

// TestDerivedSentinels verifies the composed sentinels unwrap to their base
// conditions.
func TestDerivedSentinels(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		wraps error
	}{
		{"ErrPoolNotFound", ErrPoolNotFound, ErrNotFound},
		{"ErrDuplicatePool", ErrDuplicatePool, ErrAlreadyExists},
		{"ErrRegistryClosed", ErrRegistryClosed, ErrPoolClosed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if !stderrors.Is(tc.err, tc.wraps) {
				t.Errorf("%s should wrap %v", tc.name, tc.wraps)
			}
		})
	}
}

func TestWithContext(t *testing.T) {
	err := WithContext(ErrTimeout, "checkout from pool \"orders\"")
	if !stderrors.Is(err, ErrTimeout) {
		t.Error("WithContext should preserve the sentinel")
	}
	if err.Error() == ErrTimeout.Error() {
		t.Error("WithContext should add the message")
	}

	if WithContext(nil, "msg") != nil {
		t.Error("WithContext(nil) should be nil")
	}
	if WithContextf(nil, "msg %d", 1) != nil {
		t.Error("WithContextf(nil) should be nil")
	}
}

func TestError_Wrap(t *testing.T) {
	cause := stderrors.New("underlying")
	err := Wrap(CodeConnection, "connect failed", cause)

	if err.Code != CodeConnection {
		t.Errorf("Code = %d, want %d", err.Code, CodeConnection)
	}
	if !stderrors.Is(err, cause) {
		t.Error("wrapped error should match cause")
	}
	if err.Error() != "connect failed: underlying" {
		t.Errorf("Error() = %q", err.Error())
	}

	plain := New(CodeTimeout, "took too long")
	if plain.Error() != "took too long" {
		t.Errorf("Error() = %q", plain.Error())
	}
	if plain.Unwrap() != nil {
		t.Error("New should have no cause")
	}
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{ErrTimeout, CodeTimeout},
		{ErrNotFound, CodeNotFound},
		{ErrPoolNotFound, CodeNotFound},
		{ErrAlreadyExists, CodeConflict},
		{ErrDuplicatePool, CodeConflict},
		{ErrPoolExhausted, CodeExhausted},
		{ErrConnectFailed, CodeConnection},
		{ErrCircuitOpen, CodeConnection},
		{ErrResetFailed, CodeReset},
		{ErrInvalidTicket, CodeInvalidTicket},
		{ErrPoolClosed, CodeClosed},
		{ErrDraining, CodeClosed},
		{ErrRegistryClosed, CodeClosed},
		{ErrConfiguration, CodeConfiguration},
		{stderrors.New("anything"), CodeInternal},
		// Wrapped sentinels keep their classification.
		{WithContext(ErrTimeout, "op"), CodeTimeout},
	}
	for _, tc := range cases {
		if got := CodeOf(tc.err); got != tc.code {
			t.Errorf("CodeOf(%v) = %d, want %d", tc.err, got, tc.code)
		}
	}
}

func TestFromSentinel(t *testing.T) {
	if FromSentinel(nil) != nil {
		t.Error("FromSentinel(nil) should be nil")
	}
	e := FromSentinel(ErrInvalidTicket)
	if e.Code != CodeInvalidTicket {
		t.Errorf("Code = %d, want %d", e.Code, CodeInvalidTicket)
	}
	if !stderrors.Is(e, ErrInvalidTicket) {
		t.Error("structured error should match its sentinel")
	}
}

func TestPredicates(t *testing.T) {
	if !IsTimeout(WithContext(ErrTimeout, "op")) {
		t.Error("IsTimeout")
	}
	if !IsNotFound(ErrPoolNotFound) {
		t.Error("IsNotFound")
	}
	if !IsExhausted(ErrPoolExhausted) {
		t.Error("IsExhausted")
	}
	if !IsInvalidTicket(WithContext(ErrInvalidTicket, "op")) {
		t.Error("IsInvalidTicket")
	}
	if !IsClosed(ErrDraining) || !IsClosed(ErrPoolClosed) {
		t.Error("IsClosed")
	}
	if IsTimeout(ErrNotFound) || IsClosed(ErrTimeout) {
		t.Error("predicates should not cross-match")
	}
}

func TestJoin(t *testing.T) {
	if Join() != nil || Join(nil, nil) != nil {
		t.Error("Join of nils should be nil")
	}
	err := Join(ErrTimeout, ErrNotFound)
	if !Is(err, ErrTimeout) || !Is(err, ErrNotFound) {
		t.Error("Join should preserve both errors")
	}
}
