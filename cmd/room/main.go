// Package main joins an encounter room and logs its realtime activity.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	roomcmd "github.com/louisbranch/tableroom/internal/cmd/room"
	entrypoint "github.com/louisbranch/tableroom/internal/platform/cmd"
)

func main() {
	cfg, err := roomcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix(entrypoint.LogPrefix(entrypoint.ServiceRoom))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := roomcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to run room: %v", err)
	}
}
