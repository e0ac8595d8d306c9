package appversion //nolint:testpackage // overrides the unexported ldflags variable

import "testing"

func TestString(t *testing.T) {
	if String() == "" {
		t.Fatal("String() must not be empty")
	}

	orig := version
	t.Cleanup(func() { version = orig })
	version = "v1.4.0"
	if got := String(); got != "v1.4.0" {
		t.Errorf("String() = %q, want linked version", got)
	}
}
