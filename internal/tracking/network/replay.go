package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/tracking.stimulator/internal/monitoring"
)

// ReplayConfig controls ReplayPCAP.
type ReplayConfig struct {
	// Port selects UDP datagrams by destination port. Zero replays all UDP.
	Port int
	// SpeedMultiplier scales the capture's inter-packet timing
	// (2.0 replays twice as fast). Values <= 0 mean real time.
	SpeedMultiplier float64
	// Sleep waits between packets; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ReplayResult summarises a replay.
type ReplayResult struct {
	Packets  int
	Sent     int
	Skipped  int
	Duration time.Duration
}

// PacketWriter receives replayed payloads. *net.UDPConn satisfies it.
type PacketWriter interface {
	Write(b []byte) (int, error)
}

// ReplayPCAPFile opens path and replays it to target (host:port).
func ReplayPCAPFile(ctx context.Context, path, target string, cfg ReplayConfig) (ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()

	raddr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("failed to resolve replay target: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("failed to dial replay target: %w", err)
	}
	defer conn.Close()

	return ReplayPCAP(ctx, f, conn, cfg)
}

// ReplayPCAP reads a pcap stream and writes each matching UDP payload to w,
// preserving capture timing scaled by cfg.SpeedMultiplier.
func ReplayPCAP(ctx context.Context, r io.Reader, w PacketWriter, cfg ReplayConfig) (ReplayResult, error) {
	if cfg.SpeedMultiplier <= 0 {
		cfg.SpeedMultiplier = 1
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("failed to read PCAP header: %w", err)
	}
	monitoring.Logf("[osc] PCAP replay: port filter %d, speed %.1fx", cfg.Port, cfg.SpeedMultiplier)

	var (
		res      ReplayResult
		first    time.Time
		last     time.Time
		started  = time.Now()
		linkType = reader.LinkType()
	)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("failed to read packet %d: %w", res.Packets+1, err)
		}
		res.Packets++

		pkt := gopacket.NewPacket(data, linkType, gopacket.NoCopy)
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			res.Skipped++
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 || (cfg.Port != 0 && int(udp.DstPort) != cfg.Port) {
			res.Skipped++
			continue
		}

		if first.IsZero() {
			first = ci.Timestamp
		} else if delay := ci.Timestamp.Sub(last); delay > 0 {
			if err := cfg.Sleep(ctx, time.Duration(float64(delay)/cfg.SpeedMultiplier)); err != nil {
				return res, err
			}
		}
		last = ci.Timestamp

		if _, err := w.Write(udp.Payload); err != nil {
			monitoring.Logf("[osc] PCAP replay: send failed for packet %d: %v", res.Packets, err)
			continue
		}
		res.Sent++
	}
	res.Duration = time.Since(started)
	monitoring.Logf("[osc] PCAP replay complete: %d packets read, %d sent, %d skipped in %v",
		res.Packets, res.Sent, res.Skipped, res.Duration)
	return res, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
