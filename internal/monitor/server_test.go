package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tracking.stimulator/internal/db"
	"github.com/banshee-data/tracking.stimulator/internal/host"
	"github.com/banshee-data/tracking.stimulator/internal/monitoring"
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
	"github.com/banshee-data/tracking.stimulator/internal/tracking/network"
	"github.com/banshee-data/tracking.stimulator/internal/tracking/node"
)

type fakeAcquisition struct {
	mu        sync.Mutex
	acquiring bool
	recording bool
	session   string
	recErr    error
}

func (a *fakeAcquisition) StartAcquisition() { a.mu.Lock(); a.acquiring = true; a.mu.Unlock() }
func (a *fakeAcquisition) StopAcquisition()  { a.mu.Lock(); a.acquiring = false; a.mu.Unlock() }
func (a *fakeAcquisition) StopRecording() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recording, a.session = false, ""
}

func (a *fakeAcquisition) StartRecording() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.recErr != nil {
		return a.recErr
	}
	a.recording, a.session = true, "session-1"
	return nil
}

func (a *fakeAcquisition) Acquiring() bool   { a.mu.Lock(); defer a.mu.Unlock(); return a.acquiring }
func (a *fakeAcquisition) Recording() bool   { a.mu.Lock(); defer a.mu.Unlock(); return a.recording }
func (a *fakeAcquisition) Session() string   { a.mu.Lock(); defer a.mu.Unlock(); return a.session }
func (a *fakeAcquisition) Stats() host.Stats { return host.Stats{Blocks: 7} }

type fakeStore struct {
	mu    sync.Mutex
	saves []db.Settings
}

func (s *fakeStore) SaveSettings(_ context.Context, settings db.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, settings)
	return nil
}

func (s *fakeStore) last(t *testing.T) db.Settings {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.saves)
	return s.saves[len(s.saves)-1]
}

type testServer struct {
	srv     *Server
	node    *node.Node
	factory *network.MockUDPSocketFactory
	acq     *fakeAcquisition
	store   *fakeStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	monitoring.SetLogger(nil)

	ts := &testServer{
		factory: network.NewMockUDPSocketFactory(),
		acq:     &fakeAcquisition{},
		store:   &fakeStore{},
	}
	ts.node = node.New(node.Options{
		Listener: network.ListenerConfig{Factory: ts.factory, StopTimeout: time.Second},
	})
	t.Cleanup(func() { ts.node.Shutdown() })
	ts.srv = NewServer(Config{
		Address:     "127.0.0.1:0",
		Node:        ts.node,
		Acquisition: ts.acq,
		Store:       ts.store,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func TestSources_AddUpdateRemove(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/sources", `{"name":"mouse"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[node.SourceInfo](t, w)
	assert.Equal(t, node.DefaultPort, first.Port)
	assert.Equal(t, "mouse", first.Name)

	w = ts.do(t, http.MethodPost, "/api/sources", `{"address":"/green","color":"green"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	second := decode[node.SourceInfo](t, w)
	assert.Equal(t, node.DefaultPort+1, second.Port)
	assert.Equal(t, tracking.Green, second.Color)

	w = ts.do(t, http.MethodPut, "/api/sources/"+strconv.Itoa(second.ID), `{"port":28000,"color":"blue","name":"rat"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[node.SourceInfo](t, w)
	assert.Equal(t, 28000, updated.Port)
	assert.Equal(t, tracking.Blue, updated.Color)
	assert.Equal(t, "rat", updated.Name)
	assert.NotNil(t, ts.factory.Socket(28000))

	saved := ts.store.last(t)
	require.Len(t, saved.Sources, 2)
	assert.Equal(t, 28000, saved.Sources[1].Port)

	w = ts.do(t, http.MethodGet, "/api/sources", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]node.SourceInfo](t, w), 2)

	w = ts.do(t, http.MethodDelete, "/api/sources/"+strconv.Itoa(first.ID), "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Len(t, ts.store.last(t).Sources, 1)

	w = ts.do(t, http.MethodGet, "/api/sources/"+strconv.Itoa(first.ID), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodDelete, "/api/sources/"+strconv.Itoa(first.ID), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSources_Errors(t *testing.T) {
	ts := newTestServer(t)
	ts.factory.FailPorts[30000] = errors.New("address in use")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad json", http.MethodPost, "/api/sources", `{"port":`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/sources", `{"prot":1}`, http.StatusBadRequest},
		{"empty body", http.MethodPost, "/api/sources", ``, http.StatusBadRequest},
		{"unknown colour", http.MethodPost, "/api/sources", `{"color":"mauve"}`, http.StatusBadRequest},
		{"port below range", http.MethodPost, "/api/sources", `{"port":80}`, http.StatusBadRequest},
		{"bind failure", http.MethodPost, "/api/sources", `{"port":30000}`, http.StatusConflict},
		{"bad id", http.MethodGet, "/api/sources/abc", ``, http.StatusBadRequest},
		{"update missing", http.MethodPut, "/api/sources/42", `{"port":30001}`, http.StatusNotFound},
		{"method", http.MethodPatch, "/api/sources", ``, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if tt.want != http.StatusMethodNotAllowed {
				assert.Contains(t, w.Body.String(), `"error"`)
			}
		})
	}
	assert.Empty(t, ts.node.Sources())
}

func TestSources_LimitIsConflict(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < node.MaxSources; i++ {
		w := ts.do(t, http.MethodPost, "/api/sources", `{}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	w := ts.do(t, http.MethodPost, "/api/sources", `{}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSources_FailedRebindKeepsPort(t *testing.T) {
	ts := newTestServer(t)
	id, err := ts.node.AddSource(node.SourceConfig{})
	require.NoError(t, err)
	ts.factory.FailPorts[29000] = errors.New("address in use")

	w := ts.do(t, http.MethodPut, "/api/sources/"+strconv.Itoa(id), `{"port":29000}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, node.DefaultPort, ts.node.Port(id))
}

func TestRegions(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/regions", `{"x":0.5,"y":0.5,"radius":0.1,"enabled":true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = ts.do(t, http.MethodPost, "/api/regions", `{"x":0.2,"y":0.2,"radius":0.05,"enabled":false}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPut, "/api/regions/1", `{"x":0.25,"y":0.2,"radius":0.05,"enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[RegionsResponse](t, w)
	want := RegionsResponse{
		Regions: []tracking.Region{
			{X: 0.5, Y: 0.5, Radius: 0.1, Enabled: true},
			{X: 0.25, Y: 0.2, Radius: 0.05, Enabled: true},
		},
		Selected: 1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("regions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Regions, ts.store.last(t).Regions); diff != "" {
		t.Errorf("persisted regions mismatch (-want +got):\n%s", diff)
	}

	w = ts.do(t, http.MethodPost, "/api/regions/0", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[RegionsResponse](t, w).Selected)
	ts.do(t, http.MethodPost, "/api/regions/1", "")

	w = ts.do(t, http.MethodDelete, "/api/regions/0", "")
	require.Equal(t, http.StatusOK, w.Code)
	got = decode[RegionsResponse](t, w)
	assert.Len(t, got.Regions, 1)
	assert.Equal(t, 0, got.Selected)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, "/api/regions/5", `{"x":0,"y":0,"radius":0.1}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/regions", `{"x":0,"y":0,"radius":0}`).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/regions/9", "").Code)

	w = ts.do(t, http.MethodDelete, "/api/regions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[RegionsResponse](t, w).Regions)
}

func TestRegions_LimitIsConflict(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < tracking.MaxRegions; i++ {
		require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/regions", `{"x":0.5,"y":0.5,"radius":0.1}`).Code)
	}
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/regions", `{"x":0.5,"y":0.5,"radius":0.1}`).Code)
}

func TestStimulation(t *testing.T) {
	ts := newTestServer(t)
	id, err := ts.node.AddSource(node.SourceConfig{})
	require.NoError(t, err)

	w := ts.do(t, http.MethodGet, "/api/stimulation", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[StimulationResponse](t, w)
	assert.Equal(t, StimulationResponse{SourceID: -1, Trigger: tracking.DefaultTriggerConfig()}, got)

	body := `{"enabled":true,"source_id":` + strconv.Itoa(id) + `,"trigger":{"mode":"ttl","frequency_hz":5,"sd_fraction":0.25,"pulse_duration_ms":20,"output_channel":3}}`
	w = ts.do(t, http.MethodPut, "/api/stimulation", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got = decode[StimulationResponse](t, w)
	want := StimulationResponse{
		Enabled:  true,
		SourceID: id,
		Trigger:  tracking.TriggerConfig{Mode: tracking.ModeTTL, Frequency: 5, SDFraction: 0.25, PulseDurationMs: 20, OutputChannel: 3},
	}
	assert.Equal(t, want, got)
	assert.True(t, ts.node.StimulationEnabled())

	saved := ts.store.last(t)
	assert.Equal(t, 0, saved.StimulationSource)
	assert.Equal(t, want.Trigger, saved.Trigger)

	// Partial update leaves the rest alone.
	w = ts.do(t, http.MethodPut, "/api/stimulation", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	got = decode[StimulationResponse](t, w)
	assert.False(t, got.Enabled)
	assert.Equal(t, want.Trigger, got.Trigger)

	t.Run("invalid trigger", func(t *testing.T) {
		w := ts.do(t, http.MethodPut, "/api/stimulation", `{"trigger":{"mode":"uniform","frequency_hz":0,"sd_fraction":0.5}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, want.Trigger, ts.node.TriggerConfig())
	})
	t.Run("unknown mode", func(t *testing.T) {
		w := ts.do(t, http.MethodPut, "/api/stimulation", `{"trigger":{"mode":"square"}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("unknown source", func(t *testing.T) {
		w := ts.do(t, http.MethodPut, "/api/stimulation", `{"source_id":99}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, id, ts.node.StimulationSource())
	})
	t.Run("clear source", func(t *testing.T) {
		w := ts.do(t, http.MethodPut, "/api/stimulation", `{"source_id":-1}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, -1, ts.node.StimulationSource())
	})
}

func TestLifecycleActions(t *testing.T) {
	ts := newTestServer(t)
	ts.srv.history.Record([]tracking.Event{{Kind: tracking.EventPosition, SourceID: 1}})

	w := ts.do(t, http.MethodPost, "/api/acquisition/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[StatusResponse](t, w)
	assert.True(t, st.Acquiring)
	assert.Empty(t, ts.srv.history.Trails())

	w = ts.do(t, http.MethodPost, "/api/recording/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	st = decode[StatusResponse](t, w)
	assert.True(t, st.Recording)
	assert.Equal(t, "session-1", st.Session)
	require.NotNil(t, st.Host)
	assert.Equal(t, int64(7), st.Host.Blocks)

	w = ts.do(t, http.MethodPost, "/api/recording/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[StatusResponse](t, w).Recording)

	w = ts.do(t, http.MethodPost, "/api/acquisition/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[StatusResponse](t, w).Acquiring)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/acquisition/pause", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(t, http.MethodGet, "/api/recording/start", "").Code)

	ts.acq.recErr = errors.New("database is locked")
	w = ts.do(t, http.MethodPost, "/api/recording/start", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "database is locked")
}

func TestLifecycleWithoutHost(t *testing.T) {
	monitoring.SetLogger(nil)
	n := node.New(node.Options{Listener: network.ListenerConfig{Factory: network.NewMockUDPSocketFactory()}})
	srv := NewServer(Config{Node: n})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/acquisition/start", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusAndHealth(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.node.AddSource(node.SourceConfig{Name: "mouse"})
	require.NoError(t, err)

	w := ts.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[StatusResponse](t, w)
	require.Len(t, st.Sources, 1)
	assert.Equal(t, "mouse", st.Sources[0].Name)
	assert.Equal(t, -1, st.Stimulation.SourceID)
	assert.Equal(t, -1, st.Regions.Selected)

	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(t, http.MethodPost, "/api/status", "").Code)

	w = ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func recordTrail(srv *Server) {
	var events []tracking.Event
	for i := 0; i < 20; i++ {
		f := float32(i) / 20
		events = append(events, tracking.Event{
			Kind:     tracking.EventPosition,
			SourceID: 1,
			Source:   "mouse",
			Color:    tracking.Red,
			Position: tracking.Position{X: f, Y: 1 - f, Width: 0.1, Height: 0.1},
		})
	}
	srv.history.Record(events)
}

func TestPositionsChart(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.node.Regions().Add(tracking.Region{X: 0.5, Y: 0.5, Radius: 0.1, Enabled: true})
	require.NoError(t, err)
	recordTrail(ts.srv)

	w := ts.do(t, http.MethodGet, "/charts/positions", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "Source positions")
	assert.Contains(t, body, "1: mouse")
	assert.Contains(t, body, "region 0")
}

func TestTrajectoryPlot(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.node.Regions().Add(tracking.Region{X: 0.5, Y: 0.5, Radius: 0.1})
	require.NoError(t, err)
	recordTrail(ts.srv)

	w := ts.do(t, http.MethodGet, "/plots/trajectory.png", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG\r\n\x1a\n")))
}

func TestTrajectoryPlot_Empty(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/plots/trajectory.png", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestWebsocketReceivesBatches(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ts.srv.Hub().Run(ctx)

	hs := httptest.NewServer(ts.srv.Handler())
	defer hs.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	b := host.Batch{
		Block: tracking.Block{
			FirstSample: 2048,
			Events: []tracking.Event{
				{Kind: tracking.EventPosition, SampleNumber: 2048, SourceID: 1, Source: "mouse", Color: tracking.Red, Position: tracking.Position{X: 0.5, Y: 0.25}},
				{Kind: tracking.EventTTL, SampleNumber: 2050, SourceID: 1, Channel: 2, State: true, Region: 0},
			},
		},
		Recording: true,
		Session:   "abc",
	}

	// Registration races the first broadcast, so keep sending until one
	// arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				ts.srv.HandleBatch(ctx, b)
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg BatchMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	want := BatchMessage{
		FirstSample: 2048,
		Recording:   true,
		Session:     "abc",
		Events: []EventMessage{
			{Kind: "position", SampleNumber: 2048, SourceID: 1, Source: "mouse", Color: "red", X: 0.5, Y: 0.25},
			{Kind: "ttl", SampleNumber: 2050, SourceID: 1, Channel: 2, State: true},
		},
	}
	if diff := cmp.Diff(want, msg); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
	assert.NotEmpty(t, ts.srv.history.Trails())

	cancel()
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestApplyAndCaptureSettings(t *testing.T) {
	monitoring.SetLogger(nil)
	factory := network.NewMockUDPSocketFactory()
	factory.FailPorts[27050] = errors.New("address in use")
	n := node.New(node.Options{Listener: network.ListenerConfig{Factory: factory}})
	defer n.Shutdown()

	in := db.Settings{
		Sources: []node.SourceConfig{
			{Name: "a", Port: 27020, Address: "/red", Color: "red"},
			{Name: "broken", Port: 27050, Address: "/x", Color: "green"},
			{Name: "b", Port: 27021, Address: "/blue", Color: "blue"},
		},
		Regions:            []tracking.Region{{X: 0.5, Y: 0.5, Radius: 0.2, Enabled: true}},
		Trigger:            tracking.TriggerConfig{Mode: tracking.ModeGaussian, Frequency: 10, SDFraction: 0.3, PulseDurationMs: 5, OutputChannel: 1},
		StimulationEnabled: true,
		StimulationSource:  2,
	}
	err := ApplySettings(n, in)
	require.Error(t, err)
	assert.ErrorIs(t, err, network.ErrBind)
	assert.Contains(t, err.Error(), "broken")

	want := in
	want.Sources = []node.SourceConfig{in.Sources[0], in.Sources[2]}
	want.StimulationSource = 1
	if diff := cmp.Diff(want, CurrentSettings(n)); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestApplySettings_ZeroTriggerUsesDefault(t *testing.T) {
	n := node.New(node.Options{Listener: network.ListenerConfig{Factory: network.NewMockUDPSocketFactory()}})
	require.NoError(t, ApplySettings(n, db.Settings{StimulationSource: -1}))
	assert.Equal(t, tracking.DefaultTriggerConfig(), n.TriggerConfig())
	assert.Equal(t, -1, n.StimulationSource())
}

func TestHistory_Limit(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Record([]tracking.Event{
			{Kind: tracking.EventPosition, SourceID: 2, Position: tracking.Position{X: float32(i)}},
			{Kind: tracking.EventTTL, SampleNumber: int64(i), State: true},
			{Kind: tracking.EventTTL, SampleNumber: int64(i), State: false},
		})
	}
	trails := h.Trails()
	require.Len(t, trails, 1)
	var xs []float32
	for _, p := range trails[0].Points {
		xs = append(xs, p.X)
	}
	assert.Equal(t, []float32{2, 3, 4}, xs)
	assert.Equal(t, []int64{2, 3, 4}, h.Pulses())

	h.Forget(2)
	assert.Empty(t, h.Trails())
	h.Reset()
	assert.Empty(t, h.Pulses())
}

