package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("FLOWDECK_TEST_BOOL", "yes")
	if !ParseBoolEnv("FLOWDECK_TEST_BOOL", false) {
		t.Error("expected true for yes")
	}

	t.Setenv("FLOWDECK_TEST_BOOL", "0")
	if ParseBoolEnv("FLOWDECK_TEST_BOOL", true) {
		t.Error("expected false for 0")
	}

	t.Setenv("FLOWDECK_TEST_BOOL", "maybe")
	if !ParseBoolEnv("FLOWDECK_TEST_BOOL", true) {
		t.Error("invalid value must return default")
	}

	if ParseBoolEnv("FLOWDECK_TEST_BOOL_UNSET", false) {
		t.Error("unset value must return default")
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("FLOWDECK_TEST_DUR", "90s")
	if got := ParseDurationEnv("FLOWDECK_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("got %v, want 90s", got)
	}

	t.Setenv("FLOWDECK_TEST_DUR", "soon")
	if got := ParseDurationEnv("FLOWDECK_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("invalid value: got %v, want default", got)
	}

	if got := ParseDurationEnv("FLOWDECK_TEST_DUR_UNSET", 5*time.Minute); got != 5*time.Minute {
		t.Errorf("unset value: got %v, want default", got)
	}
}
