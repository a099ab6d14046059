// Command tracker-view connects to a tracker's gRPC endpoint and prints the
// live event stream.
//
// Usage:
//
//	go run ./cmd/tools/tracker-view [flags]
//
// Flags:
//
//	-addr    Tracker gRPC address (default: localhost:50051)
//	-kinds   Comma separated event kinds to show, e.g. ttl (default: all)
//	-source  Only show events from this source id (default: 0, all)
//	-status  Print the status snapshot and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/tracking.stimulator/internal/visualiser"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "Tracker gRPC address")
	kinds := flag.String("kinds", "", "Comma separated event kinds (position, ttl)")
	source := flag.Int("source", 0, "Only show events from this source id")
	status := flag.Bool("status", false, "Print the status snapshot and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *addr, err)
	}
	defer conn.Close()
	client := visualiser.NewClient(conn)

	if *status {
		st, err := client.GetStatus(ctx)
		if err != nil {
			log.Fatalf("GetStatus: %v", err)
		}
		fmt.Println(protojson.Format(st))
		return
	}

	req, err := filterRequest(*kinds, *source)
	if err != nil {
		log.Fatal(err)
	}
	stream, err := client.StreamEvents(ctx, req)
	if err != nil {
		log.Fatalf("StreamEvents: %v", err)
	}
	log.Printf("streaming events from %s", *addr)
	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			log.Fatalf("stream ended: %v", err)
		}
		fmt.Println(formatEvent(ev))
	}
}

func filterRequest(kinds string, source int) (*structpb.Struct, error) {
	fields := map[string]interface{}{}
	if kinds != "" {
		var list []interface{}
		for _, k := range strings.Split(kinds, ",") {
			if k = strings.TrimSpace(k); k != "" {
				list = append(list, k)
			}
		}
		fields["kinds"] = list
	}
	if source > 0 {
		fields["source_id"] = source
	}
	return structpb.NewStruct(fields)
}

// formatEvent renders an event on one line with its fields in a stable
// order.
func formatEvent(ev *structpb.Struct) string {
	m := ev.AsMap()
	kind, _ := m["kind"].(string)
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s", kind)
	for _, k := range []string{"sample_number", "source_id", "source", "x", "y", "channel", "state", "region"} {
		if v, ok := m[k]; ok {
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
	}
	return b.String()
}
