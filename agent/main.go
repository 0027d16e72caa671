// Command agent runs beside a worker process and keeps it registered with the
// control plane node that owns its application.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Agent configuration invalid: %v", err)
	}
	log.Printf("Agent starting. Node ID: %s, app %d, address %s", cfg.NodeID, cfg.AppID, cfg.Address)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hb := NewHeartbeater(cfg)

	// Find the owner with backoff
	backoff := 1 * time.Second
	for {
		err := hb.Acquire(ctx)
		if err == nil {
			break
		}
		log.Printf("Acquire failed: %v. Retrying in %s...", err, backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, maxBackoff)
	}
	log.Printf("Reporting to control plane node %s", hb.Owner())

	hb.Run(ctx)
	log.Println("Agent shutting down.")
}
