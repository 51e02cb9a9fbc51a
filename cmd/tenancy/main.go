// Package main starts the tenancy projection process.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	tenancycmd "github.com/louisbranch/tenantledger/internal/cmd/tenancy"
)

func main() {
	cfg, err := tenancycmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[TENANCY] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tenancycmd.Run(ctx, cfg); err != nil {
		log.Fatalf("tenancy: %v", err)
	}
}
