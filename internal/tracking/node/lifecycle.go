package node

import (
	"sync"
	"time"
)

// lifecycle tracks the host's acquisition and recording flags.
type lifecycle struct {
	mu sync.Mutex

	acquiring             bool
	recording             bool
	acquisitionTimeLogged bool
	recordingTimeLogged   bool
	acquisitionStarted    time.Time
	recordingStarted      time.Time
}

// LifecycleState is a copy of the acquisition/recording flags.
type LifecycleState struct {
	Acquiring          bool      `json:"acquiring"`
	Recording          bool      `json:"recording"`
	AcquisitionStarted time.Time `json:"acquisition_started,omitempty"`
	RecordingStarted   time.Time `json:"recording_started,omitempty"`
}

// StartAcquisition purges the selected source's queue of pre-acquisition
// samples and re-arms the acquisition time log.
func (n *Node) StartAcquisition() {
	n.life.mu.Lock()
	n.life.acquiring = true
	n.life.acquisitionTimeLogged = false
	n.life.acquisitionStarted = n.now()
	n.life.mu.Unlock()

	n.resetEngine.Store(true)
	n.clearSelectedQueue()
	n.logf("acquisition started")
}

// StopAcquisition clears the acquiring flag. Recording stops with it.
func (n *Node) StopAcquisition() {
	n.life.mu.Lock()
	n.life.acquiring = false
	n.life.recording = false
	n.life.mu.Unlock()
	n.logf("acquisition stopped")
}

// StartRecording behaves like StartAcquisition for the recording flag.
func (n *Node) StartRecording() {
	n.life.mu.Lock()
	n.life.recording = true
	n.life.recordingTimeLogged = false
	n.life.recordingStarted = n.now()
	n.life.mu.Unlock()

	n.clearSelectedQueue()
	n.logf("recording started")
}

func (n *Node) StopRecording() {
	n.life.mu.Lock()
	n.life.recording = false
	n.life.mu.Unlock()
	n.logf("recording stopped")
}

// Lifecycle returns the acquisition and recording flags.
func (n *Node) Lifecycle() LifecycleState {
	n.life.mu.Lock()
	defer n.life.mu.Unlock()
	return LifecycleState{
		Acquiring:          n.life.acquiring,
		Recording:          n.life.recording,
		AcquisitionStarted: n.life.acquisitionStarted,
		RecordingStarted:   n.life.recordingStarted,
	}
}

func (n *Node) clearSelectedQueue() {
	id := n.StimulationSource()
	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.sources[id]; ok && s.queue != nil {
		s.queue.Clear()
	}
}

// logStartTimes logs the software time of the first block after an
// acquisition or recording start, once per start.
func (n *Node) logStartTimes(firstSample int64) {
	n.life.mu.Lock()
	logAcq := n.life.acquiring && !n.life.acquisitionTimeLogged
	logRec := n.life.recording && !n.life.recordingTimeLogged
	if logAcq {
		n.life.acquisitionTimeLogged = true
	}
	if logRec {
		n.life.recordingTimeLogged = true
	}
	n.life.mu.Unlock()

	if logAcq {
		n.logf("acquisition time %d ms at sample %d", n.sw.SoftwareTimestamp(), firstSample)
	}
	if logRec {
		n.logf("recording time %d ms at sample %d", n.sw.SoftwareTimestamp(), firstSample)
	}
}
