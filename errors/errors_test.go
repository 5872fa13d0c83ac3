package errors

import (
	"strings"
	"testing"
)

func TestNewCarriesCallSite(t *testing.T) {
	err := New("bad %s", "thing")
	if !strings.HasPrefix(err.Error(), "[errors_test.go:") {
		t.Fatalf("expected call site prefix, got %q", err.Error())
	}
	if !strings.HasSuffix(err.Error(), "bad thing") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestWrapfKeepsSentinel(t *testing.T) {
	if Wrapf(nil, "nothing") != nil {
		t.Fatal("Wrapf(nil) must return nil")
	}
	err := Wrapf(ErrBudgetExhausted, "buffer holds %d tokens", 8190)
	if !Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected %v to match ErrBudgetExhausted", err)
	}
	if Is(err, ErrProtocolViolation) {
		t.Errorf("did not expect a protocol violation match")
	}
	if !strings.Contains(err.Error(), "buffer holds 8190 tokens") {
		t.Errorf("missing context in %q", err.Error())
	}
}
