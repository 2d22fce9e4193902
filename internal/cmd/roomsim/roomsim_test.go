package roomsim

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("roomsim", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8090" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if !cfg.Seed {
		t.Fatal("expected seed enabled by default")
	}
	if cfg.TokenSecret != "" {
		t.Fatalf("expected empty token secret, got %q", cfg.TokenSecret)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("expected default shutdown timeout, got %v", cfg.ShutdownTimeout)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("TABLEROOM_ROOMSIM_HTTP_ADDR", "env-addr")
	t.Setenv("TABLEROOM_ROOMSIM_TOKEN_SECRET", "env-secret")
	t.Setenv("TABLEROOM_ROOMSIM_SEED", "false")

	fs := flag.NewFlagSet("roomsim", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-http-addr", "flag-addr"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-addr" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.TokenSecret != "env-secret" {
		t.Fatalf("expected env token secret, got %q", cfg.TokenSecret)
	}
	if cfg.Seed {
		t.Fatal("expected env to disable seed")
	}
}
