// Package cmd holds entrypoint helpers shared by the tenancy commands.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/tenantledger/internal/platform/config"
	"github.com/louisbranch/tenantledger/internal/platform/otel"
	"github.com/louisbranch/tenantledger/internal/platform/timeouts"
)

// ServiceTenancy names the tenancy process in telemetry.
const ServiceTenancy = "tenancy"

// BindFunc registers flags on fs that write into cfg. It runs after the
// environment is parsed, so cfg already holds env values to use as defaults.
type BindFunc[T any] func(fs *flag.FlagSet, cfg *T)

// Load parses the environment into cfg, binds flags, parses args, and
// validates the merged result. Flags win over the environment.
func Load[T any](cfg *T, fs *flag.FlagSet, args []string, bind BindFunc[T]) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if err := config.ParseEnv(cfg); err != nil {
		return err
	}
	if bind != nil {
		bind(fs, cfg)
	}
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	return config.Validate(cfg)
}

// RunOptions controls shared entrypoint behavior.
type RunOptions struct {
	// ShutdownTimeout bounds the telemetry flush on exit.
	ShutdownTimeout time.Duration
}

// RunWithTelemetry configures tracing and executes run.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	return RunWithTelemetryAndOptions(ctx, service, RunOptions{}, run)
}

// RunWithTelemetryAndOptions configures tracing, executes run, and flushes
// spans afterwards even when ctx is already canceled.
func RunWithTelemetryAndOptions(ctx context.Context, service string, options RunOptions, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		timeout := options.ShutdownTimeout
		if timeout <= 0 {
			timeout = timeouts.Shutdown
		}
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			log.Printf("%s telemetry shutdown: %v", service, err)
		}
	}()
	return run(ctx)
}
