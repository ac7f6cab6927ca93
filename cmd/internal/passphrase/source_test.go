package passphrase

import (
	"strings"
	"testing"
)

func TestGetReadsEnvironment(t *testing.T) {
	t.Setenv("REWARD_TEST_PASS", "correct horse")
	value, err := NewSource("REWARD_TEST_PASS").Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "correct horse" {
		t.Fatalf("value = %q", value)
	}
}

func TestGetRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("REWARD_TEST_PASS", "   ")
	if _, err := NewSource("REWARD_TEST_PASS").Get(); err == nil {
		t.Fatalf("expected error for blank passphrase")
	}
}

func TestGetCachesFirstResolution(t *testing.T) {
	t.Setenv("REWARD_TEST_PASS", "first")
	source := NewSource("REWARD_TEST_PASS")
	if _, err := source.Get(); err != nil {
		t.Fatalf("get: %v", err)
	}

	t.Setenv("REWARD_TEST_PASS", "second")
	value, err := source.Get()
	if err != nil {
		t.Fatalf("get after change: %v", err)
	}
	if value != "first" {
		t.Fatalf("cached value = %q, want first", value)
	}
}

func TestGetFailsWithoutEnvOrTerminal(t *testing.T) {
	// Test binaries run without a terminal on stdin, so the prompt path
	// must fail with a pointer at the environment variable.
	_, err := NewSource("REWARD_TEST_PASS_UNSET").Get()
	if err == nil {
		t.Fatalf("expected error without env or terminal")
	}
	if !strings.Contains(err.Error(), "REWARD_TEST_PASS_UNSET") {
		t.Fatalf("error should name the variable: %v", err)
	}
}
