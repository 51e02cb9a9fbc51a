package config

import (
	"strings"
	"testing"
)

type envTestConfig struct {
	Port    int    `env:"TENANCY_TEST_PORT" envDefault:"123" validate:"gt=0,lt=65536"`
	Backend string `env:"TENANCY_TEST_BACKEND" envDefault:"sqlite" validate:"oneof=sqlite memory"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("TENANCY_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadValidatesFields(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("TENANCY_TEST_BACKEND", "postgres")

	err := Load(&cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "validate config:") {
		t.Fatalf("expected validate config prefix, got %v", err)
	}
	if !strings.Contains(err.Error(), "Backend") {
		t.Fatalf("expected failing field in error, got %v", err)
	}
}

func TestLoadAcceptsDefaults(t *testing.T) {
	var cfg envTestConfig
	if err := Load(&cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != "sqlite" {
		t.Fatalf("expected default backend sqlite, got %q", cfg.Backend)
	}
}

func TestParseEnvReportsEveryBadVariable(t *testing.T) {
	var cfg struct {
		Port    int  `env:"TENANCY_TEST_PORT"`
		Workers int  `env:"TENANCY_TEST_WORKERS"`
		Debug   bool `env:"TENANCY_TEST_DEBUG"`
	}
	t.Setenv("TENANCY_TEST_PORT", "x")
	t.Setenv("TENANCY_TEST_WORKERS", "y")
	t.Setenv("TENANCY_TEST_DEBUG", "true")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"Port", "Workers"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("expected %s in error, got %v", name, err)
		}
	}
}
