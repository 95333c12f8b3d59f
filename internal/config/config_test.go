package config_test

import (
	"strings"
	"testing"

	"github.com/KushagraSharma924/censorly/internal/config"
)

func TestValidate_MissingWordlistPath(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`server: {}`))
	if err == nil {
		t.Fatal("expected error for missing wordlist.path, got nil")
	}
	if !strings.Contains(err.Error(), "wordlist.path") {
		t.Errorf("error should mention wordlist.path, got: %v", err)
	}
}

func TestValidate_InvalidPolicy(t *testing.T) {
	t.Parallel()
	yaml := `
wordlist:
  path: w.yaml
detector:
  policy: always
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid policy, got nil")
	}
	if !strings.Contains(err.Error(), "detector.policy") {
		t.Errorf("error should mention detector.policy, got: %v", err)
	}
}

func TestValidate_MLOnlyRequiresModel(t *testing.T) {
	t.Parallel()
	yaml := `
wordlist:
  path: w.yaml
detector:
  policy: ml_only
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for ml_only without model_path, got nil")
	}
	if !strings.Contains(err.Error(), "model_path") {
		t.Errorf("error should mention model_path, got: %v", err)
	}
}

func TestValidate_ThresholdRange(t *testing.T) {
	t.Parallel()
	yaml := `
wordlist:
  path: w.yaml
detector:
  threshold: 1.5
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for out-of-range threshold, got nil")
	}
}

func TestValidate_JoinsAllFailures(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
detector:
  policy: always
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "wordlist.path", "detector.policy"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestLogLevelSlogMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		level config.LogLevel
		valid bool
	}{
		{config.LogDebug, true},
		{config.LogInfo, true},
		{config.LogWarn, true},
		{config.LogError, true},
		{config.LogLevel("verbose"), false},
	}
	for _, tc := range cases {
		if got := tc.level.IsValid(); got != tc.valid {
			t.Errorf("IsValid(%q) = %v, want %v", tc.level, got, tc.valid)
		}
	}

	if config.LogDebug.SlogLevel() >= config.LogInfo.SlogLevel() {
		t.Error("debug level should sort below info")
	}
	if config.LogError.SlogLevel() <= config.LogWarn.SlogLevel() {
		t.Error("error level should sort above warn")
	}
}
