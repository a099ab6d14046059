// Package monitor serves the HTTP control surface of the tracker: a JSON API
// for sources, regions, stimulation and the acquisition lifecycle, a
// websocket event feed and quick-look position charts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/tracking.stimulator/internal/db"
	"github.com/banshee-data/tracking.stimulator/internal/host"
	"github.com/banshee-data/tracking.stimulator/internal/httputil"
	"github.com/banshee-data/tracking.stimulator/internal/monitoring"
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
	"github.com/banshee-data/tracking.stimulator/internal/tracking/network"
	"github.com/banshee-data/tracking.stimulator/internal/tracking/node"
	"github.com/banshee-data/tracking.stimulator/internal/version"
)

var logf = monitoring.Tagged("http")

// Acquisition is the host-side lifecycle control. host.Runner implements it.
type Acquisition interface {
	StartAcquisition()
	StopAcquisition()
	StartRecording() error
	StopRecording()
	Acquiring() bool
	Recording() bool
	Session() string
	Stats() host.Stats
}

// SettingsStore persists configuration after every change.
type SettingsStore interface {
	SaveSettings(ctx context.Context, s db.Settings) error
}

// Config configures a Server.
type Config struct {
	Address     string
	Node        *node.Node
	Acquisition Acquisition
	Store       SettingsStore
	History     *History
	Hub         *Hub
	// AdminRoutes attach extra handlers, typically under /debug/.
	AdminRoutes []func(*http.ServeMux)
}

// Server handles the HTTP interface.
type Server struct {
	address string
	node    *node.Node
	acq     Acquisition
	store   SettingsStore
	history *History
	hub     *Hub
	mux     *http.ServeMux
	server  *http.Server
}

func NewServer(cfg Config) *Server {
	s := &Server{
		address: cfg.Address,
		node:    cfg.Node,
		acq:     cfg.Acquisition,
		store:   cfg.Store,
		history: cfg.History,
		hub:     cfg.Hub,
	}
	if s.history == nil {
		s.history = NewHistory(0)
	}
	if s.hub == nil {
		s.hub = NewHub()
	}
	s.mux = s.setupRoutes()
	for _, attach := range cfg.AdminRoutes {
		attach(s.mux)
	}
	s.server = &http.Server{
		Addr:              s.address,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler { return s.mux }

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// HandleBatch feeds the position history and the websocket hub. It makes
// Server a host.EventSink.
func (s *Server) HandleBatch(ctx context.Context, b host.Batch) error {
	s.history.Record(b.Events)
	return s.hub.HandleBatch(ctx, b)
}

// Start serves until ctx is cancelled. The hub runs alongside.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.address, err)
	}
	go s.hub.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		logf("starting HTTP server on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logf("HTTP server shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			logf("HTTP server force close error: %v", err)
		}
	}
	logf("HTTP server routine stopped")
	return nil
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/sources", s.handleSources)
	mux.HandleFunc("/api/sources/{id}", s.handleSource)
	mux.HandleFunc("/api/regions", s.handleRegions)
	mux.HandleFunc("/api/regions/{index}", s.handleRegion)
	mux.HandleFunc("/api/stimulation", s.handleStimulation)
	mux.HandleFunc("/api/acquisition/{action}", s.handleAcquisition)
	mux.HandleFunc("/api/recording/{action}", s.handleRecording)
	mux.HandleFunc("/charts/positions", s.handlePositionsChart)
	mux.HandleFunc("/plots/trajectory.png", s.handleTrajectoryPlot)
	mux.Handle("/ws", s.hub)
	return mux
}

// persist saves the current configuration. Failures are logged; the API
// change itself has already been applied.
func (s *Server) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveSettings(ctx, CurrentSettings(s.node)); err != nil {
		logf("failed to persist settings: %v", err)
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, node.ErrSourceNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, node.ErrTooManySources),
		errors.Is(err, tracking.ErrTooManyRegions),
		errors.Is(err, network.ErrBind):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, node.ErrInvalidPort),
		errors.Is(err, tracking.ErrInvalidRegion):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func pathInt(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, r.PathValue(name))
	}
	return v, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok", "version": version.Version})
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Lifecycle   node.LifecycleState  `json:"lifecycle"`
	Acquiring   bool                 `json:"acquiring"`
	Recording   bool                 `json:"recording"`
	Session     string               `json:"session,omitempty"`
	Host        *host.Stats          `json:"host,omitempty"`
	Sources     []node.SourceInfo    `json:"sources"`
	Regions     RegionsResponse      `json:"regions"`
	Stimulation StimulationResponse  `json:"stimulation"`
	Messages    []node.StatusMessage `json:"messages"`
}

// Status assembles the status snapshot. It also backs the gRPC GetStatus.
func (s *Server) Status() StatusResponse {
	resp := StatusResponse{
		Lifecycle:   s.node.Lifecycle(),
		Sources:     s.node.Sources(),
		Regions:     s.regions(),
		Stimulation: s.stimulation(),
		Messages:    s.node.StatusMessages(),
	}
	if s.acq != nil {
		st := s.acq.Stats()
		resp.Host = &st
		resp.Acquiring = s.acq.Acquiring()
		resp.Recording = s.acq.Recording()
		resp.Session = s.acq.Session()
	} else {
		resp.Acquiring = resp.Lifecycle.Acquiring
		resp.Recording = resp.Lifecycle.Recording
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.Status())
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.node.Sources())
	case http.MethodPost:
		var cfg node.SourceConfig
		if err := httputil.DecodeJSON(r, &cfg); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if cfg.Color != "" {
			if _, ok := tracking.ParseColor(cfg.Color); !ok {
				httputil.BadRequest(w, fmt.Sprintf("unknown colour %q", cfg.Color))
				return
			}
		}
		id, err := s.node.AddSource(cfg)
		if err != nil {
			writeError(w, err)
			return
		}
		s.persist(r.Context())
		info, _ := s.node.Source(id)
		httputil.WriteJSON(w, http.StatusCreated, info)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// SourceUpdate is the body of PUT /api/sources/{id}. Omitted fields are
// left unchanged.
type SourceUpdate struct {
	Name    *string `json:"name,omitempty"`
	Port    *int    `json:"port,omitempty"`
	Address *string `json:"address,omitempty"`
	Color   *string `json:"color,omitempty"`
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	switch r.Method {
	case http.MethodGet:
		info, ok := s.node.Source(id)
		if !ok {
			httputil.NotFound(w, fmt.Sprintf("source %d not found", id))
			return
		}
		httputil.WriteJSONOK(w, info)
	case http.MethodPut:
		var u SourceUpdate
		if err := httputil.DecodeJSON(r, &u); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if _, ok := s.node.Source(id); !ok {
			httputil.NotFound(w, fmt.Sprintf("source %d not found", id))
			return
		}
		var color tracking.Color
		if u.Color != nil {
			c, ok := tracking.ParseColor(*u.Color)
			if !ok {
				httputil.BadRequest(w, fmt.Sprintf("unknown colour %q", *u.Color))
				return
			}
			color = c
		}
		if u.Port != nil {
			if err := s.node.SetPort(id, *u.Port); err != nil {
				writeError(w, err)
				return
			}
		}
		if u.Address != nil {
			if err := s.node.SetAddress(id, *u.Address); err != nil {
				writeError(w, err)
				return
			}
		}
		if u.Color != nil {
			if err := s.node.SetColor(id, color); err != nil {
				writeError(w, err)
				return
			}
		}
		if u.Name != nil {
			if err := s.node.SetName(id, *u.Name); err != nil {
				writeError(w, err)
				return
			}
		}
		s.persist(r.Context())
		info, _ := s.node.Source(id)
		httputil.WriteJSONOK(w, info)
	case http.MethodDelete:
		if err := s.node.RemoveSource(id); err != nil {
			writeError(w, err)
			return
		}
		s.history.Forget(id)
		s.persist(r.Context())
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// RegionsResponse lists the regions and the selected index.
type RegionsResponse struct {
	Regions  []tracking.Region `json:"regions"`
	Selected int               `json:"selected"`
}

func (s *Server) regions() RegionsResponse {
	rs := s.node.Regions()
	return RegionsResponse{Regions: rs.Snapshot(), Selected: rs.Selected()}
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.regions())
	case http.MethodPost:
		var reg tracking.Region
		if err := httputil.DecodeJSON(r, &reg); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if _, err := s.node.Regions().Add(reg); err != nil {
			writeError(w, err)
			return
		}
		s.persist(r.Context())
		httputil.WriteJSON(w, http.StatusCreated, s.regions())
	case http.MethodDelete:
		s.node.Regions().Clear()
		s.persist(r.Context())
		httputil.WriteJSONOK(w, s.regions())
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleRegion(w http.ResponseWriter, r *http.Request) {
	i, err := pathInt(r, "index")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	switch r.Method {
	case http.MethodPut:
		var reg tracking.Region
		if err := httputil.DecodeJSON(r, &reg); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.node.Regions().Edit(i, reg); err != nil {
			writeError(w, err)
			return
		}
	case http.MethodDelete:
		if err := s.node.Regions().Delete(i); err != nil {
			writeError(w, err)
			return
		}
	case http.MethodPost:
		// select
		if _, ok := s.node.Regions().Get(i); !ok {
			httputil.NotFound(w, fmt.Sprintf("region %d not found", i))
			return
		}
		s.node.Regions().Select(i)
		httputil.WriteJSONOK(w, s.regions())
		return
	default:
		httputil.MethodNotAllowed(w)
		return
	}
	s.persist(r.Context())
	httputil.WriteJSONOK(w, s.regions())
}

// StimulationResponse is the body of GET /api/stimulation.
type StimulationResponse struct {
	Enabled  bool                   `json:"enabled"`
	SourceID int                    `json:"source_id"`
	Trigger  tracking.TriggerConfig `json:"trigger"`
}

// StimulationUpdate is the body of PUT /api/stimulation. Omitted fields are
// left unchanged.
type StimulationUpdate struct {
	Enabled  *bool                   `json:"enabled,omitempty"`
	SourceID *int                    `json:"source_id,omitempty"`
	Trigger  *tracking.TriggerConfig `json:"trigger,omitempty"`
}

func (s *Server) stimulation() StimulationResponse {
	return StimulationResponse{
		Enabled:  s.node.StimulationEnabled(),
		SourceID: s.node.StimulationSource(),
		Trigger:  s.node.TriggerConfig(),
	}
}

func (s *Server) handleStimulation(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.stimulation())
	case http.MethodPut:
		var u StimulationUpdate
		if err := httputil.DecodeJSON(r, &u); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if u.Trigger != nil {
			if err := u.Trigger.Validate(); err != nil {
				httputil.BadRequest(w, err.Error())
				return
			}
		}
		if u.SourceID != nil {
			if err := s.node.SetStimulationSource(*u.SourceID); err != nil {
				writeError(w, err)
				return
			}
		}
		if u.Trigger != nil {
			if err := s.node.SetTriggerConfig(*u.Trigger); err != nil {
				httputil.BadRequest(w, err.Error())
				return
			}
		}
		if u.Enabled != nil {
			s.node.SetStimulationEnabled(*u.Enabled)
		}
		s.persist(r.Context())
		httputil.WriteJSONOK(w, s.stimulation())
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleAcquisition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.acq == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no acquisition host")
		return
	}
	switch r.PathValue("action") {
	case "start":
		s.acq.StartAcquisition()
		s.history.Reset()
	case "stop":
		s.acq.StopAcquisition()
	default:
		httputil.NotFound(w, "unknown action")
		return
	}
	httputil.WriteJSONOK(w, s.Status())
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.acq == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no acquisition host")
		return
	}
	switch r.PathValue("action") {
	case "start":
		if err := s.acq.StartRecording(); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
	case "stop":
		s.acq.StopRecording()
	default:
		httputil.NotFound(w, "unknown action")
		return
	}
	httputil.WriteJSONOK(w, s.Status())
}
