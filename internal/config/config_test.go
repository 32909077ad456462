package config

import (
	"flag"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Fatalf("Parse with no args = %+v, want defaults %+v", cfg, want)
	}
}

func TestParseOverridesFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, []string{"-addr", ":9999", "-tick-rate", "120"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want :9999", cfg.ListenAddr)
	}
	if cfg.TickRate != 120 {
		t.Errorf("TickRate = %d, want 120", cfg.TickRate)
	}
}

func TestParseEnvOverride(t *testing.T) {
	t.Setenv("GAMESERVER_ADDR", ":5555")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ListenAddr != ":5555" {
		t.Errorf("ListenAddr = %q, want env override :5555", cfg.ListenAddr)
	}
}

func TestFlagTakesPrecedenceOverEnv(t *testing.T) {
	t.Setenv("GAMESERVER_ADDR", ":5555")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Parse(fs, []string{"-addr", ":6666"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ListenAddr != ":6666" {
		t.Errorf("ListenAddr = %q, want flag override :6666", cfg.ListenAddr)
	}
}
