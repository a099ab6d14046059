package node

import (
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
)

// Process runs one block: flush a due pulse-off, drain every queue to its
// latest sample, emit position events and evaluate the trigger engine for
// the selected source. It never blocks on the network.
func (n *Node) Process(b *tracking.Block) error {
	n.logStartTimes(b.FirstSample)

	// A pending OFF belongs to the source that fired it, even if the
	// selection has changed or the source is gone.
	mark := len(b.Events)
	if n.resetEngine.Swap(false) {
		n.engine.CancelPending(b)
		n.engine.Reset()
		n.saturated = false
	}
	n.engine.FlushPending(b)
	n.pulseOwner.stamp(b, mark)

	n.mu.Lock()
	updated := false
	for _, id := range n.order {
		s := n.sources[id]
		if s.queue == nil {
			continue
		}
		sample, ok := s.queue.DrainLatest()
		if !ok {
			continue
		}
		updated = true
		s.last = sample.Position
		s.lastTimestamp = sample.Timestamp
		s.hasPosition = true
		b.Events = append(b.Events, tracking.Event{
			Kind:         tracking.EventPosition,
			SampleNumber: b.FirstSample,
			SourceID:     s.id,
			Source:       s.name,
			Port:         s.port,
			Address:      s.address,
			Color:        s.color,
			Timestamp:    sample.Timestamp,
			Position:     sample.Position,
		})
	}
	n.mu.Unlock()

	if !updated {
		return nil
	}
	n.positionUpdated.Store(true)

	n.cfgMu.RLock()
	enabled, stimID, cfg := n.stimEnabled, n.stimSource, n.trigger
	n.cfgMu.RUnlock()
	if !enabled || stimID < 0 {
		return nil
	}

	n.mu.Lock()
	s, ok := n.sources[stimID]
	var pos tracking.Position
	if ok {
		ok = s.hasPosition
		pos = s.last
	}
	n.mu.Unlock()
	if !ok {
		return nil
	}

	first := len(b.Events)
	ev := n.engine.Evaluate(b, cfg, n.regions.Snapshot(), float64(pos.X), float64(pos.Y))

	owner := pulseOwner{id: stimID}
	n.mu.Lock()
	if cur, ok := n.sources[stimID]; ok {
		cur.inside = ev.Region >= 0
		owner.name = cur.name
	}
	n.mu.Unlock()
	owner.stamp(b, first)
	if ev.Fired {
		n.pulseOwner = owner
	}

	if ev.Saturated && !n.saturated {
		n.status.Printf("stimulation frequency exceeds sampling rate (probability %.2f per block)", ev.Probability)
	}
	n.saturated = ev.Saturated
	return nil
}

// pulseOwner identifies the source a stimulation pulse was fired for.
type pulseOwner struct {
	id   int
	name string
}

// stamp attributes the TTL edges appended to b since index from.
func (o pulseOwner) stamp(b *tracking.Block, from int) {
	for i := from; i < len(b.Events); i++ {
		if b.Events[i].Kind != tracking.EventTTL {
			continue
		}
		b.Events[i].SourceID = o.id
		b.Events[i].Source = o.name
	}
}
