package kerrors

import (
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	wrapped := fmt.Errorf("%w: /tmp/foo.jsonl vanished", ErrFileUnavailable)
	if got, want := Kind(wrapped), "FileUnavailable"; got != want {
		t.Errorf("Kind() = %q, want %q", got, want)
	}
}

func TestKind_Unrecognized(t *testing.T) {
	if got := Kind(fmt.Errorf("plain error")); got != "" {
		t.Errorf("Kind() = %q, want empty for unrecognized error", got)
	}
}
