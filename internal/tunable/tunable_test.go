package tunable

import "testing"

func TestCursorSetMinEnableOverride(t *testing.T) {
	orig := CursorSetMinEnable()
	t.Cleanup(func() { SetCursorSetMinEnable(orig) })

	SetCursorSetMinEnable(false)
	if CursorSetMinEnable() {
		t.Fatalf("CursorSetMinEnable() = true after SetCursorSetMinEnable(false)")
	}
	SetCursorSetMinEnable(true)
	if !CursorSetMinEnable() {
		t.Fatalf("CursorSetMinEnable() = false after SetCursorSetMinEnable(true)")
	}
}

func TestTooManyIndexMatchRatioOverride(t *testing.T) {
	orig := TooManyIndexMatchRatio()
	t.Cleanup(func() { SetTooManyIndexMatchRatio(orig) })

	SetTooManyIndexMatchRatio(0.5)
	if got := TooManyIndexMatchRatio(); got != 0.5 {
		t.Fatalf("TooManyIndexMatchRatio() = %v, want 0.5", got)
	}
}

func TestParseBoolEnvFallsBackOnGarbage(t *testing.T) {
	if got := parseBoolEnv("INVIDX_TEST_DOES_NOT_EXIST", true); !got {
		t.Fatalf("parseBoolEnv on unset var = %v, want default true", got)
	}
}
