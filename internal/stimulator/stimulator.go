// Package stimulator drives the TTL output device that delivers stimulation
// pulses. The device speaks a line protocol over a serial port:
//
//	TTL <channel> <0|1> <sample>   set an output line
//	RESET                          drive every line low
//
// and answers each command with a line of its own ("OK ..." or "ERR ...").
// Device lines are fanned out to subscribers for live monitoring.
package stimulator

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/banshee-data/tracking.stimulator/internal/host"
	"github.com/banshee-data/tracking.stimulator/internal/monitoring"
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	ErrClosed      = errors.New("stimulator closed")
)

var logf = monitoring.Tagged("stimulator")

// Stats counts device traffic.
type Stats struct {
	Commands  int64 `json:"commands"`
	Pulses    int64 `json:"pulses"`
	Errors    int64 `json:"errors"`
	DeviceErr int64 `json:"device_errors"`
}

// Device writes TTL edges to a serial output device.
type Device struct {
	port Port

	commandMu sync.Mutex
	lines     map[int]bool

	subscriberMu sync.Mutex
	subscribers  map[string]chan string
	closing      bool

	statsMu sync.Mutex
	stats   Stats
}

// New wraps an open port.
func New(port Port) *Device {
	return &Device{
		port:        port,
		lines:       make(map[int]bool),
		subscribers: make(map[string]chan string),
	}
}

// Initialize drives every output low.
func (d *Device) Initialize() error {
	if err := d.SendCommand("RESET"); err != nil {
		return fmt.Errorf("failed to reset outputs: %w", err)
	}
	d.commandMu.Lock()
	clear(d.lines)
	d.commandMu.Unlock()
	return nil
}

// SendCommand writes one command line to the device.
func (d *Device) SendCommand(command string) error {
	d.commandMu.Lock()
	defer d.commandMu.Unlock()
	return d.sendLocked(command)
}

func (d *Device) sendLocked(command string) error {
	if d.isClosing() {
		return ErrClosed
	}
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := d.port.Write([]byte(command))
	if err == nil && n != len(command) {
		err = ErrWriteFailed
	}
	d.count(func(s *Stats) {
		s.Commands++
		if err != nil {
			s.Errors++
		}
	})
	return err
}

// SetLine sets one output channel. sample is the absolute sample number of
// the edge and is passed through for the device log.
func (d *Device) SetLine(channel int, state bool, sample int64) error {
	if channel < 0 {
		return fmt.Errorf("invalid output channel %d", channel)
	}
	level := 0
	if state {
		level = 1
	}
	d.commandMu.Lock()
	defer d.commandMu.Unlock()
	if err := d.sendLocked(fmt.Sprintf("TTL %d %d %d", channel, level, sample)); err != nil {
		return err
	}
	d.lines[channel] = state
	if state {
		d.count(func(s *Stats) { s.Pulses++ })
	}
	return nil
}

// Lines returns the channels currently driven high, sorted.
func (d *Device) Lines() []int {
	d.commandMu.Lock()
	defer d.commandMu.Unlock()
	var high []int
	for ch, on := range d.lines {
		if on {
			high = append(high, ch)
		}
	}
	sort.Ints(high)
	return high
}

// HandleBatch writes the TTL edges of a processed block in emission order.
// It makes Device a host.EventSink.
func (d *Device) HandleBatch(ctx context.Context, b host.Batch) error {
	var errs []error
	for _, e := range b.Events {
		if e.Kind != tracking.EventTTL {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.SetLine(e.Channel, e.State, e.SampleNumber); err != nil {
			errs = append(errs, fmt.Errorf("ttl ch=%d @%d: %w", e.Channel, e.SampleNumber, err))
		}
	}
	return errors.Join(errs...)
}

// randomID generates a random subscriber id (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel receiving every line the device sends.
func (d *Device) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	d.subscriberMu.Lock()
	defer d.subscriberMu.Unlock()
	if d.closing {
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *Device) Unsubscribe(id string) {
	d.subscriberMu.Lock()
	defer d.subscriberMu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

// Monitor reads device lines until ctx is cancelled or the port closes.
func (d *Device) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(d.port)
	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErrChan:
			if d.isClosing() {
				return nil
			}
			return err
		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !d.isClosing() {
						return err
					}
				default:
				}
				return nil
			}
			if strings.HasPrefix(line, "ERR") {
				d.count(func(s *Stats) { s.DeviceErr++ })
				logf("device error: %s", line)
			}
			d.subscriberMu.Lock()
			for _, ch := range d.subscribers {
				select {
				case ch <- line:
				default:
				}
			}
			d.subscriberMu.Unlock()
		}
	}
}

func (d *Device) isClosing() bool {
	d.subscriberMu.Lock()
	defer d.subscriberMu.Unlock()
	return d.closing
}

// Close drives the outputs low, closes every subscriber and the port.
func (d *Device) Close() error {
	if err := d.Initialize(); err != nil {
		logf("reset on close: %v", err)
	}

	d.subscriberMu.Lock()
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	d.subscriberMu.Unlock()
	return d.port.Close()
}

func (d *Device) count(f func(*Stats)) {
	d.statsMu.Lock()
	f(&d.stats)
	d.statsMu.Unlock()
}

func (d *Device) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}
