package agentlink

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
)

// Hub owns the transports of one simulation: the environment endpoint on
// the base port and one endpoint per agent after it.
type Hub struct {
	cfg    config
	logger *slog.Logger
	msink  metrics.MetricSink
	layout []Endpoint

	env    *Transport
	agents []*Transport

	// 2-phase close:
	// phase 1: agents stop, controllers see their link go away.
	// phase 2: the environment endpoint stops.
	lk         sync.Mutex
	started    bool
	shutdown   bool
	shutdownCh chan struct{}
}

// NewHub prepares the transports of agents agents. Options apply to every
// transport, the address and base port come from [WithListenOn].
func NewHub(agents int, opts ...Option) (*Hub, error) {
	if agents < 0 {
		return nil, fmt.Errorf("%w: negative agent count %d", ErrInvalidCfg, agents)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	h := &Hub{
		cfg:        cfg,
		layout:     Layout(cfg.port, agents),
		shutdownCh: make(chan struct{}),
	}

	if cfg.logHandler != nil {
		h.logger = slog.New(cfg.logHandler)
	} else {
		h.logger = slog.Default()
	}
	if cfg.msink == nil {
		h.msink = metrics.Default()
	} else {
		h.msink = cfg.msink
	}

	for _, ep := range h.layout {
		epOpts := append(append([]Option(nil), opts...),
			WithListenOn(cfg.addr, ep.Port),
			WithName(ep.Name),
		)
		tr, err := New(epOpts...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ep.Name, err)
		}
		if ep.IsEnvironment() {
			h.env = tr
		} else {
			h.agents = append(h.agents, tr)
		}
	}
	return h, nil
}

// Start every endpoint. On failure the endpoints already started are
// stopped again.
func (h *Hub) Start() (err error) {
	h.lk.Lock()
	defer h.lk.Unlock()
	if h.shutdown {
		return ErrHubClosed
	}
	if h.started {
		return ErrAlreadyStarted
	}

	var running []*Transport
	defer func() {
		if err != nil {
			for _, tr := range running {
				tr.Stop()
			}
		}
	}()

	for _, tr := range h.transports() {
		if err := tr.Start(); err != nil {
			return fmt.Errorf("%s: %w", tr.Name(), err)
		}
		running = append(running, tr)
	}

	h.started = true
	h.logger.Info("hub started", "agents", len(h.agents), "base_port", h.cfg.port)
	return nil
}

// Environment is the scene-level endpoint.
func (h *Hub) Environment() *Transport {
	return h.env
}

// Agent returns the transport of the agent at index.
func (h *Hub) Agent(index int) (*Transport, error) {
	if index < 0 || index >= len(h.agents) {
		return nil, fmt.Errorf("%w: agent %d", ErrUnknownEndpoint, index)
	}
	return h.agents[index], nil
}

// Agents is the number of agent endpoints.
func (h *Hub) Agents() int {
	return len(h.agents)
}

// Layout returns the configured endpoints. Ports are the configured ones,
// see [Hub.Status] for the bound addresses.
func (h *Hub) Layout() []Endpoint {
	return append([]Endpoint(nil), h.layout...)
}

// Status reports every endpoint, environment first. It also refreshes the
// connected endpoints gauge.
func (h *Hub) Status() []Stats {
	var connected int
	out := make([]Stats, 0, len(h.agents)+1)
	for _, tr := range h.transports() {
		st := tr.Stats()
		if st.Connected {
			connected++
		}
		out = append(out, st)
	}
	h.msink.SetGaugeWithLabels(MetricHubEndpointsConnected, float32(connected), h.cfg.metricLabels)
	return out
}

// Done is closed when the hub starts shutting down.
func (h *Hub) Done() <-chan struct{} {
	return h.shutdownCh
}

func (h *Hub) Shutdown() error {
	// Phase 1: Shutdown notify, agents go first so no report is sent for a
	// scene about to disappear.
	h.lk.Lock()
	if h.shutdown {
		h.lk.Unlock()
		return nil
	}
	h.shutdown = true
	close(h.shutdownCh)
	h.lk.Unlock()

	start := time.Now()
	h.logger.Info("shutting down...")

	h.logger.Info("shutdown: agent endpoints")
	errs := make([]error, len(h.agents))
	var wg sync.WaitGroup
	for i, tr := range h.agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.Stop(); err != nil {
				errs[i] = fmt.Errorf("%s: %w", tr.Name(), err)
			}
		}()
	}
	wg.Wait()

	// Phase 2: Drop the environment endpoint.
	h.logger.Info("shutdown: environment endpoint")
	if err := h.env.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", h.env.Name(), err))
	}

	h.logger.Info("shutdown: completed", LabelDuration.L(time.Since(start)))
	return errors.Join(errs...)
}

func (h *Hub) transports() []*Transport {
	out := make([]*Transport, 0, len(h.agents)+1)
	out = append(out, h.env)
	return append(out, h.agents...)
}
