package main

import (
	"errors"
	"testing"
)

func TestExitCodeFor_CliError(t *testing.T) {
	err := &cliError{code: exitPortInUse, err: errors.New("boom")}
	if code := exitCodeFor(err); code != exitPortInUse {
		t.Errorf("exitCodeFor = %d, want %d", code, exitPortInUse)
	}
}

func TestExitCodeFor_PlainErrorDefaultsToOne(t *testing.T) {
	if code := exitCodeFor(errors.New("boom")); code != 1 {
		t.Errorf("exitCodeFor = %d, want 1", code)
	}
}

func TestIsLoopback(t *testing.T) {
	cases := map[string]bool{
		"":            true,
		"127.0.0.1":   true,
		"::1":         true,
		"localhost":   true,
		"0.0.0.0":     false,
		"192.168.1.5": false,
	}
	for addr, want := range cases {
		if got := isLoopback(addr); got != want {
			t.Errorf("isLoopback(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestIsAddrInUse(t *testing.T) {
	err := errors.New("listen tcp 127.0.0.1:3333: bind: address already in use")
	if !isAddrInUse(err) {
		t.Error("expected isAddrInUse to recognize the error")
	}
	if isAddrInUse(errors.New("permission denied")) {
		t.Error("did not expect isAddrInUse to match unrelated error")
	}
}
