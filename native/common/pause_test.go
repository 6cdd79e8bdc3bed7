package common

import (
	"errors"
	"testing"
)

type stubPauses map[string]bool

func (s stubPauses) IsPaused(module string) bool { return s[module] }

func TestGuard(t *testing.T) {
	pauses := stubPauses{"escrow": true}

	if err := Guard(pauses, "escrow"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("err = %v, want ErrModulePaused", err)
	}
	if err := Guard(pauses, "reputation"); err != nil {
		t.Fatalf("unpaused module err = %v", err)
	}
	if err := Guard(nil, "escrow"); err != nil {
		t.Fatalf("nil view err = %v", err)
	}
	if err := Guard(pauses, ""); err != nil {
		t.Fatalf("empty module err = %v", err)
	}
}
