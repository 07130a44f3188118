package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/raskyld/agentlink"
	"github.com/raskyld/agentlink/internal/config"
	"github.com/raskyld/agentlink/internal/logging"
	"github.com/raskyld/agentlink/internal/monitor"
	"github.com/raskyld/agentlink/internal/sim"
	"github.com/raskyld/agentlink/pkg/dispatch"
	"github.com/raskyld/agentlink/pkg/framesync"
)

func newServeCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation and wait for controllers",
		Example: `  agentlink serve --agents 2 --sync
  agentlink serve --config ~/.agentlink/config.yaml --monitor 127.0.0.1:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgPath == "" {
				cfgPath = config.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			base := cfg
			resolved, err := config.Resolve(base, cfgPath, changed)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			handler, level, err := newLogHandler(resolved.LogFormat, resolved.LogLevel)
			if err != nil {
				return err
			}
			logger := slog.New(handler)
			slog.SetDefault(logger)

			var sink metrics.MetricSink = &metrics.BlackholeSink{}
			if resolved.Metrics {
				inm := metrics.NewInmemSink(10*time.Second, time.Minute)
				// SIGUSR1 dumps the collected metrics on stderr.
				metrics.DefaultInmemSignal(inm)
				sink = inm
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			s, err := newSimulation(resolved, handler, sink)
			if err != nil {
				return err
			}
			if err := s.start(); err != nil {
				return err
			}

			if cfgPath != "" && config.FileExists(cfgPath) {
				w := config.NewWatcher(cfgPath, base, changed, func(c config.Config) {
					s.retune(c)
					if lvl, err := logging.ParseLevel(c.LogLevel); err == nil {
						level.Set(lvl)
					}
				}, logger)
				go func() {
					if err := w.Run(ctx); err != nil {
						logger.Warn("config reload disabled", agentlink.LabelError.L(err))
					}
				}()
			}

			runErr := make(chan error, 1)
			go func() { runErr <- s.run(ctx) }()

			select {
			case <-ctx.Done():
				logger.Info("received signal, stopping...")
			case err := <-runErr:
				if err != nil {
					logger.Error("simulation stopped", agentlink.LabelError.L(err))
				}
			}
			cancel()
			return s.close()
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfgPath, "config", "", "path to a .toml or .yaml config file (default: $HOME/.agentlink/config.toml)")
	f.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "interface to listen on")
	f.IntVar(&cfg.BasePort, "port", cfg.BasePort, "port of the environment endpoint, agents use the following ones")
	f.IntVar(&cfg.Agents, "agents", cfg.Agents, "number of agents")
	f.StringVar(&cfg.Network, "network", cfg.Network, "stream network: tcp or quic")
	f.StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "certificate for quic")
	f.StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "private key for quic")
	f.BoolVar(&cfg.LazyConnect, "lazy-disconnect", cfg.LazyConnect, "keep a lost controller connected until shutdown")

	f.BoolVar(&cfg.Sync, "sync", cfg.Sync, "run in lockstep with the controller")
	f.DurationVar(&cfg.TimeStep, "time-step", cfg.TimeStep, "simulated time of one frame")
	f.DurationVar(&cfg.ImageInterval, "image-interval", cfg.ImageInterval, "simulated time between two image captures")
	f.DurationVar(&cfg.SyncTimeout, "sync-timeout", cfg.SyncTimeout, "how long a lockstep round waits for the controller")

	f.IntVar(&cfg.ImageWidth, "image-width", cfg.ImageWidth, "width of the rendered images")
	f.IntVar(&cfg.ImageHeight, "image-height", cfg.ImageHeight, "height of the rendered images")
	f.BoolVar(&cfg.SendGridPosition, "send-grid-position", cfg.SendGridPosition, "send the agent pose")
	f.BoolVar(&cfg.SendEyePosition, "send-eye-position", cfg.SendEyePosition, "send the eye rotation")
	f.BoolVar(&cfg.SendHeadMotion, "send-head-motion", cfg.SendHeadMotion, "send head velocity and acceleration")
	f.BoolVar(&cfg.SendObjectPosition, "send-object-position", cfg.SendObjectPosition, "send the tracked objects")
	f.BoolVar(&cfg.SendImages, "send-images", cfg.SendImages, "send rendered images")

	f.Float64Var(&cfg.MovementSpeed, "movement-speed", cfg.MovementSpeed, "walking speed in units per second")
	f.Float64Var(&cfg.FOVHorizontal, "fov-horizontal", cfg.FOVHorizontal, "horizontal field of view in degrees")
	f.Float64Var(&cfg.FOVVertical, "fov-vertical", cfg.FOVVertical, "vertical field of view in degrees")

	f.StringVar(&cfg.Version, "agent-version", cfg.Version, "version answered to version checks")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "console or json")
	f.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "collect metrics in memory, dumped on SIGUSR1")
	f.StringVar(&cfg.MonitorAddr, "monitor", cfg.MonitorAddr, "address of the live monitor, disabled when empty")

	return cmd
}

// agent is one simulated body and what drives it.
type agent struct {
	name string
	body *sim.Body
	d    *dispatch.Dispatcher
	sync *framesync.Synchronizer
}

// simulation runs every agent and the environment endpoint on one tick
// goroutine.
type simulation struct {
	cfg    config.Config
	logger *slog.Logger

	hub     *agentlink.Hub
	env     *dispatch.Environment
	agents  []*agent
	monitor *monitor.Server

	done chan struct{}
}

func newSimulation(cfg config.Config, handler slog.Handler, sink metrics.MetricSink) (*simulation, error) {
	opts := []agentlink.Option{
		agentlink.WithListenOn(cfg.ListenAddr, cfg.BasePort),
		agentlink.WithNetwork(cfg.NetworkKind()),
		agentlink.WithLog(handler),
		agentlink.WithMetricSink(sink),
	}
	if cfg.NetworkKind() == agentlink.NetworkQUIC {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("load tls key pair: %w", err)
		}
		opts = append(opts, agentlink.WithTLSConfig(&tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{agentlink.ALPN},
		}))
	}
	if cfg.LazyConnect {
		opts = append(opts, agentlink.WithLazyDisconnect())
	}

	hub, err := agentlink.NewHub(cfg.Agents, opts...)
	if err != nil {
		return nil, err
	}

	s := &simulation{
		cfg:    cfg,
		logger: slog.New(handler),
		hub:    hub,
		done:   make(chan struct{}),
	}

	hooks := make(dispatch.MultiHooks, 0, cfg.Agents)
	ticks := make(map[string]monitor.TickSource, cfg.Agents)
	for i := 0; i < cfg.Agents; i++ {
		a, err := s.newAgent(i, handler, sink)
		if err != nil {
			return nil, err
		}
		s.agents = append(s.agents, a)
		hooks = append(hooks, a.body)
		ticks[a.name] = a.sync
	}

	s.env, err = dispatch.NewEnvironment(hub.Environment(), hooks,
		dispatch.WithLog(handler),
		dispatch.WithMetricSink(sink),
		dispatch.WithVersion(cfg.Version),
		dispatch.WithMetricLabels([]metrics.Label{agentlink.LabelEndpoint.M(agentlink.EnvironmentName)}),
	)
	if err != nil {
		return nil, err
	}

	if cfg.MonitorAddr != "" {
		s.monitor, err = monitor.New(monitor.HubSource(hub, ticks),
			monitor.WithLog(handler),
			monitor.WithMetricSink(sink),
		)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *simulation) newAgent(index int, handler slog.Handler, sink metrics.MetricSink) (*agent, error) {
	name := agentlink.AgentName(index)
	labels := []metrics.Label{agentlink.LabelEndpoint.M(name)}
	agentHandler := handler.WithAttrs([]slog.Attr{agentlink.LabelEndpoint.L(name)})

	body, err := sim.New(
		sim.WithSpeed(s.cfg.MovementSpeed),
		sim.WithFieldOfView(s.cfg.FOVHorizontal, s.cfg.FOVVertical),
		sim.WithImageSize(s.cfg.ImageWidth, s.cfg.ImageHeight),
		sim.WithLog(agentHandler),
	)
	if err != nil {
		return nil, err
	}

	tr, err := s.hub.Agent(index)
	if err != nil {
		return nil, err
	}

	d, err := dispatch.New(tr, body,
		dispatch.WithLog(agentHandler),
		dispatch.WithMetricSink(sink),
		dispatch.WithMetricLabels(labels),
		dispatch.WithVersion(s.cfg.Version),
	)
	if err != nil {
		return nil, err
	}

	fs, err := framesync.New(tr, d, body,
		framesync.WithSyncMode(s.cfg.Sync),
		framesync.WithTimeStep(s.cfg.TimeStep),
		framesync.WithImageInterval(s.cfg.ImageInterval),
		framesync.WithSyncTimeout(s.cfg.SyncTimeout),
		framesync.WithObservations(s.cfg.Observations()),
		framesync.WithLog(agentHandler),
		framesync.WithMetricSink(sink),
		framesync.WithMetricLabels(labels),
	)
	if err != nil {
		return nil, err
	}
	return &agent{name: name, body: body, d: d, sync: fs}, nil
}

func (s *simulation) start() error {
	if err := s.hub.Start(); err != nil {
		return err
	}
	for _, st := range s.hub.Status() {
		s.logger.Info("endpoint ready",
			agentlink.LabelEndpoint.L(st.Name),
			"addr", st.Addr,
			agentlink.LabelNetwork.L(st.Network.String()),
		)
	}
	if s.monitor != nil {
		if err := s.monitor.Start(s.cfg.MonitorAddr); err != nil {
			s.hub.Shutdown()
			return fmt.Errorf("start monitor: %w", err)
		}
	}
	return nil
}

// run ticks every agent once per time step until ctx is done or the hub
// shuts down. A lockstep round holds the whole frame, like a slow renderer.
func (s *simulation) run(ctx context.Context) error {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TimeStep)
	defer ticker.Stop()

	envLink := s.hub.Environment()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.hub.Done():
			return errors.New("hub shut down")
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now

			for env, ok := envLink.TryReceive(); ok; env, ok = envLink.TryReceive() {
				s.env.Dispatch(env)
			}
			for _, a := range s.agents {
				a.sync.Tick(dt)
			}
		}
	}
}

// retune applies a reloaded configuration to the running agents.
func (s *simulation) retune(cfg config.Config) {
	for _, a := range s.agents {
		if err := a.sync.Tune(cfg.Tuning()); err != nil {
			s.logger.Warn("tuning rejected", agentlink.LabelEndpoint.L(a.name), agentlink.LabelError.L(err))
		}
	}
}

// close stops the hub first so a blocked lockstep round returns, then
// waits for the tick goroutine.
func (s *simulation) close() error {
	var errs []error
	if s.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, s.monitor.Shutdown(ctx))
		cancel()
	}
	errs = append(errs, s.hub.Shutdown())

	select {
	case <-s.done:
	case <-time.After(s.cfg.SyncTimeout + time.Second):
		errs = append(errs, errors.New("tick loop did not stop"))
	}
	return errors.Join(errs...)
}
