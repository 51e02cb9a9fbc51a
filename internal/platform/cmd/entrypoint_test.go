package cmd

import (
	"context"
	"errors"
	"flag"
	"strings"
	"testing"
)

type testConfig struct {
	Address string `env:"CMD_TEST_ADDRESS" envDefault:"127.0.0.1:8080"`
	Mode    string `env:"CMD_TEST_MODE" envDefault:"worker" validate:"oneof=worker catchup"`
}

func bindTest(fs *flag.FlagSet, cfg *testConfig) {
	fs.StringVar(&cfg.Address, "address", cfg.Address, "address")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "mode")
}

func TestLoadReadsEnvThenFlags(t *testing.T) {
	t.Setenv("CMD_TEST_ADDRESS", "env:9000")
	t.Setenv("CMD_TEST_MODE", "catchup")

	var cfg testConfig
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	if err := Load(&cfg, fs, []string{"-address", "flag:9002"}, bindTest); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != "flag:9002" {
		t.Fatalf("expected flag address, got %q", cfg.Address)
	}
	if cfg.Mode != "catchup" {
		t.Fatalf("expected env mode to survive flag binding, got %q", cfg.Mode)
	}
	if got := fs.Lookup("mode").DefValue; got != "catchup" {
		t.Fatalf("expected env value as flag default, got %q", got)
	}
}

func TestLoadValidatesFlagOverrides(t *testing.T) {
	var cfg testConfig
	err := Load(&cfg, flag.NewFlagSet("load", flag.ContinueOnError), []string{"-mode", "serve"}, bindTest)
	if err == nil || !strings.Contains(err.Error(), "Mode") {
		t.Fatalf("expected Mode validation error, got %v", err)
	}
}

func TestLoadRejectsMissingInputs(t *testing.T) {
	var nilCfg *testConfig
	if err := Load(nilCfg, flag.NewFlagSet("load", flag.ContinueOnError), nil, bindTest); err == nil {
		t.Fatal("expected nil target error")
	}
	var cfg testConfig
	if err := Load(&cfg, nil, nil, bindTest); err == nil {
		t.Fatal("expected nil parser error")
	}
}

func TestLoadReportsUnknownFlags(t *testing.T) {
	var cfg testConfig
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	fs.SetOutput(discard{})
	if err := Load(&cfg, fs, []string{"-nope"}, bindTest); err == nil {
		t.Fatal("expected unknown flag error")
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestRunWithTelemetryRejectsMissingInputs(t *testing.T) {
	if err := RunWithTelemetry(context.Background(), "", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected missing service error")
	}
	if err := RunWithTelemetry(context.Background(), ServiceTenancy, nil); err == nil {
		t.Fatal("expected missing run function error")
	}
}

func TestRunWithTelemetryReturnsRunError(t *testing.T) {
	t.Setenv("TENANCY_OTEL_ENDPOINT", "")
	want := errors.New("stop")
	err := RunWithTelemetry(context.Background(), ServiceTenancy, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected run error, got %v", err)
	}
}

func TestRunWithTelemetryFlushesAfterCancel(t *testing.T) {
	t.Setenv("TENANCY_OTEL_ENDPOINT", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := RunWithTelemetry(ctx, ServiceTenancy, func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("expected run on canceled context, ran=%v err=%v", ran, err)
	}
}
