package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const settingsYAML = `alpaca:
  api_key: ${TEST_ALPACA_KEY}
  secret_key: ${TEST_ALPACA_SECRET}
safety:
  max_position_pct: 0.2
  max_orders_per_minute: 4
  cooldown_seconds: 3
store:
  api_url: http://localhost:8787
logging:
  level: debug
  format: json
`

const strategiesYAML = `strategies:
  - type: momentum
    name: fast-momentum
    symbols: [AAPL, TSLA]
    params:
      threshold_pct: 0.08
    position_size_pct: 0.2
    cash_allocation: 2000
    enabled: true
    cooldown: 10s
  - type: buy_and_hold
    name: benchmark
    symbols: [SPY]
    enabled: false
`

func writeConfigDir(t *testing.T, settings, strategies string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "settings.yaml"), []byte(settings), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "strategies.yaml"), []byte(strategies), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadExpandsEnvAndDefaults(t *testing.T) {
	t.Setenv("TEST_ALPACA_KEY", "key-from-env")
	t.Setenv("TEST_ALPACA_SECRET", "secret-from-env")

	dir := writeConfigDir(t, settingsYAML, strategiesYAML)
	settings, strategies, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if settings.Alpaca.APIKey != "key-from-env" {
		t.Errorf("APIKey = %q, want env value", settings.Alpaca.APIKey)
	}
	if settings.Alpaca.SecretKey != "secret-from-env" {
		t.Errorf("SecretKey = %q, want env value", settings.Alpaca.SecretKey)
	}

	// Omitted keys fall back to paper-trading defaults.
	if settings.Alpaca.BaseURL != "https://paper-api.alpaca.markets" {
		t.Errorf("BaseURL = %q, want paper default", settings.Alpaca.BaseURL)
	}
	if !settings.Safety.PaperOnly {
		t.Error("PaperOnly default must be true")
	}
	if settings.Safety.MaxOrdersPerMinute != 4 {
		t.Errorf("MaxOrdersPerMinute = %d, want 4", settings.Safety.MaxOrdersPerMinute)
	}

	if err := settings.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	if len(strategies) != 2 {
		t.Fatalf("strategies = %d, want 2", len(strategies))
	}
	mom := strategies[0]
	if mom.Type != "momentum" || mom.Name != "fast-momentum" {
		t.Errorf("first strategy = %+v", mom)
	}
	if mom.Params["threshold_pct"] != 0.08 {
		t.Errorf("threshold_pct = %v", mom.Params["threshold_pct"])
	}
	if mom.Cooldown != 10*time.Second {
		t.Errorf("cooldown = %v, want 10s", mom.Cooldown)
	}
	if strategies[1].Enabled {
		t.Error("second strategy must be disabled")
	}
}

func TestValidateRejectsUnexpandedKey(t *testing.T) {
	dir := writeConfigDir(t, settingsYAML, strategiesYAML)

	// TEST_ALPACA_KEY deliberately unset: the ${...} token survives.
	os.Unsetenv("TEST_ALPACA_KEY")
	t.Setenv("TEST_ALPACA_SECRET", "secret-from-env")

	settings, _, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := settings.Validate(); err == nil {
		t.Fatal("unexpanded api_key token: want validation error")
	}
}

func TestValidateRejectsBadPositionPct(t *testing.T) {
	t.Setenv("TEST_ALPACA_KEY", "k")
	t.Setenv("TEST_ALPACA_SECRET", "s")

	bad := `alpaca:
  api_key: ${TEST_ALPACA_KEY}
  secret_key: ${TEST_ALPACA_SECRET}
safety:
  max_position_pct: 1.5
`
	dir := writeConfigDir(t, bad, strategiesYAML)
	settings, _, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := settings.Validate(); err == nil {
		t.Fatal("max_position_pct > 1: want validation error")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Parallel()
	if _, _, err := Load(t.TempDir()); err == nil {
		t.Fatal("empty config dir: want error")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("EXPAND_TEST_VAR", "expanded")

	cases := []struct {
		in, want string
	}{
		{"${EXPAND_TEST_VAR}", "expanded"},
		{"${EXPAND_TEST_MISSING}", "${EXPAND_TEST_MISSING}"},
		{"literal-value", "literal-value"},
		{"prefix-${EXPAND_TEST_VAR}", "prefix-${EXPAND_TEST_VAR}"}, // whole-value tokens only
		{"", ""},
	}
	for _, tc := range cases {
		if got := ExpandEnv(tc.in); got != tc.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
