package monitor

import (
	"errors"
	"fmt"

	"github.com/banshee-data/tracking.stimulator/internal/db"
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
	"github.com/banshee-data/tracking.stimulator/internal/tracking/node"
)

// CurrentSettings captures the node's persistent configuration.
func CurrentSettings(n *node.Node) db.Settings {
	s := db.Settings{
		Regions:            n.Regions().Snapshot(),
		Trigger:            n.TriggerConfig(),
		StimulationEnabled: n.StimulationEnabled(),
		StimulationSource:  -1,
	}
	stim := n.StimulationSource()
	for i, info := range n.Sources() {
		s.Sources = append(s.Sources, node.SourceConfig{
			Name:    info.Name,
			Port:    info.Port,
			Address: info.Address,
			Color:   info.Color.String(),
		})
		if info.ID == stim {
			s.StimulationSource = i
		}
	}
	return s
}

// ApplySettings adds the configured sources to an empty node and applies the
// regions and stimulation settings. Sources that fail to bind are skipped
// and reported in the returned error; everything else is still applied.
func ApplySettings(n *node.Node, s db.Settings) error {
	var errs []error
	ids := make([]int, len(s.Sources))
	for i, cfg := range s.Sources {
		id, err := n.AddSource(cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %d (%s): %w", i, cfg.Name, err))
			id = -1
		}
		ids[i] = id
	}

	if err := n.Regions().Replace(s.Regions); err != nil {
		errs = append(errs, fmt.Errorf("regions: %w", err))
	}

	trigger := s.Trigger
	if trigger == (tracking.TriggerConfig{}) {
		trigger = tracking.DefaultTriggerConfig()
	}
	if err := n.SetTriggerConfig(trigger); err != nil {
		errs = append(errs, fmt.Errorf("stimulation: %w", err))
	}
	n.SetStimulationEnabled(s.StimulationEnabled)

	if i := s.StimulationSource; i >= 0 && i < len(ids) && ids[i] >= 0 {
		if err := n.SetStimulationSource(ids[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
