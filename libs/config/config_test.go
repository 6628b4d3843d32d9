package config

import (
	"testing"
	"time"
)

func TestMinutes(t *testing.T) {
	t.Setenv("SCAN_EVERY", "5")
	if got := Minutes("SCAN_EVERY", time.Minute); got != 5*time.Minute {
		t.Errorf("got %s, want 5m", got)
	}

	if got := Minutes("SCAN_EVERY_UNSET", time.Minute); got != time.Minute {
		t.Errorf("unset: got %s, want fallback", got)
	}

	t.Setenv("SCAN_EVERY_BAD", "-3")
	if got := Minutes("SCAN_EVERY_BAD", time.Minute); got != time.Minute {
		t.Errorf("negative: got %s, want fallback", got)
	}
}

func TestPort(t *testing.T) {
	t.Setenv("HTTP_PORT", "8085")
	if got, err := Port("HTTP_PORT", "8080"); err != nil || got != "8085" {
		t.Errorf("got %q, %v", got, err)
	}

	t.Setenv("HTTP_PORT", "not-a-port")
	if _, err := Port("HTTP_PORT", "8080"); err == nil {
		t.Error("expected error for a non-numeric port")
	}
}
