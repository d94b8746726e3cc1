// Package main starts a roll agent: a coordinator that dispatches one batch
// and waits for its results, or a participant that answers roll requests
// for the actors it owns.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	rollagentcmd "github.com/louisbranch/grouproll/internal/cmd/rollagent"
)

func main() {
	cfg, err := rollagentcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[ROLLAGENT] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rollagentcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("agent stopped: %v", err)
	}
}
