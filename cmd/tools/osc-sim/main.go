// Command osc-sim sends a synthetic trajectory to a tracker port as OSC
// position messages, standing in for a video tracker during testing.
//
// Usage:
//
//	go run ./cmd/tools/osc-sim [flags]
//
// Flags:
//
//	-host     Destination host (default: 127.0.0.1)
//	-port     Destination port (default: 27020)
//	-address  OSC address (default: /red)
//	-mode     circle or walk (default: circle)
//	-rate     Messages per second (default: 30)
//	-period   Seconds per lap in circle mode (default: 10)
//	-radius   Circle radius (default: 0.3)
//	-step     Random walk step standard deviation (default: 0.01)
//	-seed     Random walk seed (default: time based)
//	-count    Stop after this many messages, 0 runs until interrupted
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/hypebeast/go-osc/osc"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Destination host")
	port := flag.Int("port", 27020, "Destination port")
	address := flag.String("address", "/red", "OSC address")
	mode := flag.String("mode", "circle", "Trajectory: circle or walk")
	rate := flag.Float64("rate", 30, "Messages per second")
	period := flag.Float64("period", 10, "Seconds per lap in circle mode")
	radius := flag.Float64("radius", 0.3, "Circle radius")
	step := flag.Float64("step", 0.01, "Random walk step standard deviation")
	size := flag.Float64("size", 0.05, "Reported width and height")
	seed := flag.Uint64("seed", 0, "Random walk seed (0 uses the clock)")
	count := flag.Int("count", 0, "Stop after this many messages (0 runs until interrupted)")
	flag.Parse()

	if *rate <= 0 {
		log.Fatalf("rate must be positive, got %v", *rate)
	}
	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}
	traj, err := newTrajectory(*mode, *radius, *step, int(*period**rate), float32(*size), *seed)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := osc.NewClient(*host, *port)
	log.Printf("sending %s trajectory to %s:%d%s at %.1f Hz", *mode, *host, *port, *address, *rate)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / *rate))
	defer ticker.Stop()

	sent, failed := 0, 0
	for *count == 0 || sent < *count {
		select {
		case <-ctx.Done():
			log.Printf("stopped after %d messages (%d failed)", sent, failed)
			return
		case <-ticker.C:
		}
		pos := traj.Next()
		msg := osc.NewMessage(*address)
		msg.Append(pos.X)
		msg.Append(pos.Y)
		msg.Append(pos.Width)
		msg.Append(pos.Height)
		if err := client.Send(msg); err != nil {
			failed++
			if failed == 1 || failed%100 == 0 {
				log.Printf("send failed (%d so far): %v", failed, err)
			}
		}
		sent++
	}
	log.Printf("sent %d messages (%d failed)", sent, failed)
}
