package tracking

import "fmt"

// EventKind distinguishes TTL pulse edges from position reports.
type EventKind int

const (
	EventTTL EventKind = iota
	EventPosition
)

func (k EventKind) String() string {
	switch k {
	case EventTTL:
		return "ttl"
	case EventPosition:
		return "position"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is emitted into a processing block at an absolute sample number.
type Event struct {
	Kind         EventKind
	SampleNumber int64

	// TTL fields
	Channel int
	State   bool
	Region  int

	// Position fields. Source identity is copied so sinks never need to
	// reach back into the source arena.
	SourceID  int
	Source    string
	Port      int
	Address   string
	Color     Color
	Timestamp int64
	Position  Position
}

func (e Event) String() string {
	switch e.Kind {
	case EventTTL:
		state := "off"
		if e.State {
			state = "on"
		}
		return fmt.Sprintf("ttl ch=%d %s @%d region=%d", e.Channel, state, e.SampleNumber, e.Region)
	case EventPosition:
		return fmt.Sprintf("position source=%d(%s) %s ts=%d @%d", e.SourceID, e.Source, e.Position, e.Timestamp, e.SampleNumber)
	default:
		return e.Kind.String()
	}
}

// Block is one chunk of real-time samples supplied by the host. Processors
// append the events they emit to Events.
type Block struct {
	FirstSample int64
	NumSamples  int
	SampleRate  float64
	Events      []Event
}

// Contains reports whether the absolute sample number falls inside the block.
func (b *Block) Contains(sample int64) bool {
	return sample >= b.FirstSample && sample < b.FirstSample+int64(b.NumSamples)
}

// Duration returns the block length in seconds.
func (b *Block) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.NumSamples) / b.SampleRate
}

// AddTTL appends a TTL edge at offset samples from the block start.
func (b *Block) AddTTL(offset int64, channel int, state bool, region int) {
	b.Events = append(b.Events, Event{
		Kind:         EventTTL,
		SampleNumber: b.FirstSample + offset,
		Channel:      channel,
		State:        state,
		Region:       region,
	})
}

// TTLEvents returns only the TTL edges in the block, in emission order.
func (b *Block) TTLEvents() []Event {
	var out []Event
	for _, e := range b.Events {
		if e.Kind == EventTTL {
			out = append(out, e)
		}
	}
	return out
}
