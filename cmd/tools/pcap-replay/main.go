// Command pcap-replay resends the UDP payloads of a packet capture to a
// tracker port, preserving the recorded timing.
//
// Usage:
//
//	go run ./cmd/tools/pcap-replay -pcap capture.pcap [flags]
//
// Flags:
//
//	-pcap    Capture file to replay (required)
//	-target  Destination host:port (default: 127.0.0.1:27020)
//	-port    Replay only datagrams sent to this port (default: 0, all UDP)
//	-speed   Timing multiplier, 2 replays twice as fast (default: 1)
//	-loop    Replay the capture repeatedly until interrupted
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/banshee-data/tracking.stimulator/internal/tracking/network"
)

func main() {
	path := flag.String("pcap", "", "Capture file to replay")
	target := flag.String("target", "127.0.0.1:27020", "Destination host:port")
	port := flag.Int("port", 0, "Replay only datagrams sent to this UDP port (0 for all)")
	speed := flag.Float64("speed", 1, "Timing multiplier")
	loop := flag.Bool("loop", false, "Replay repeatedly until interrupted")
	flag.Parse()

	if *path == "" {
		log.Fatal("-pcap is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := network.ReplayConfig{Port: *port, SpeedMultiplier: *speed}
	for pass := 1; ; pass++ {
		log.Printf("replaying %s to %s (pass %d, speed %.2fx)", *path, *target, pass, *speed)
		res, err := network.ReplayPCAPFile(ctx, *path, *target, cfg)
		log.Printf("pass %d: %d packets, %d sent, %d skipped in %v", pass, res.Packets, res.Sent, res.Skipped, res.Duration)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Fatalf("replay failed: %v", err)
		}
		if !*loop || ctx.Err() != nil {
			return
		}
	}
}
