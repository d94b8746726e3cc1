// Package main starts the roll relay hub and handles termination.
//
// The hub owns the shared artifact store and relays roll traffic between
// the coordinator and participants; it never rolls dice itself.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	rollhubcmd "github.com/louisbranch/grouproll/internal/cmd/rollhub"
)

func main() {
	cfg, err := rollhubcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[ROLLHUB] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rollhubcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
