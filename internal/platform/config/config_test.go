package config

import (
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port      int           `env:"TEST_PORT" envDefault:"123"`
	Heartbeat time.Duration `env:"TEST_HEARTBEAT" envDefault:"30s"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
	if cfg.Heartbeat != 30*time.Second {
		t.Fatalf("expected default heartbeat 30s, got %s", cfg.Heartbeat)
	}
}

func TestParseEnvUsesPrefix(t *testing.T) {
	t.Setenv("TABLEROOM_TEST_PORT", "9000")
	t.Setenv("TEST_PORT", "1")

	var cfg envTestConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("expected prefixed port 9000, got %d", cfg.Port)
	}
}

func TestParseEnvWithEmptyPrefixReadsRawTags(t *testing.T) {
	t.Setenv("TEST_HEARTBEAT", "5s")

	var cfg envTestConfig
	if err := ParseEnvWithPrefix(&cfg, ""); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Heartbeat != 5*time.Second {
		t.Fatalf("expected heartbeat 5s, got %s", cfg.Heartbeat)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("TABLEROOM_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

// Exitf calls os.Exit, so it runs in a subprocess.
func TestExitfExitsWithCode1(t *testing.T) {
	if os.Getenv("TABLEROOM_EXITF_SUBPROCESS") == "1" {
		Exitf("fatal: %s", "room closed")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestExitfExitsWithCode1$")
	cmd.Env = append(os.Environ(), "TABLEROOM_EXITF_SUBPROCESS=1")

	out, err := cmd.CombinedOutput()
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("expected *exec.ExitError, got %T: %v", err, err)
	}
	if exitErr.ExitCode() != 1 {
		t.Fatalf("expected exit code 1, got %d", exitErr.ExitCode())
	}
	if !strings.Contains(string(out), "fatal: room closed") {
		t.Fatalf("expected stderr to contain %q, got %q", "fatal: room closed", string(out))
	}
}
