// Package tracking holds the real-time domain of the tracking stimulator:
// position samples delivered by external trackers, the hand-off queue between
// the network and processing goroutines, stimulation regions and the trigger
// engine that turns positions into TTL pulses.
package tracking

import "fmt"

// Position is one tracker observation in normalised image coordinates.
type Position struct {
	X      float32
	Y      float32
	Width  float32
	Height float32
}

func (p Position) String() string {
	return fmt.Sprintf("x=%.4f y=%.4f w=%.4f h=%.4f", p.X, p.Y, p.Width, p.Height)
}

// Sample is a Position stamped with the software (acquisition) clock at
// receipt. Timestamps from the sender are never used.
type Sample struct {
	Timestamp int64
	Position  Position
}
