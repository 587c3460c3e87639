package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("gps: fix lost after %d sentences", 42)
	if got != "gps: fix lost after 42 sentences" {
		t.Errorf("captured %q", got)
	}

	SetLogger(nil)
	got = ""
	Logf("obd: request timeout")
	if got != "" {
		t.Errorf("muted logger still forwarded %q", got)
	}
}

func TestLogfDefault(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf must default to a usable logger")
	}
}
