// Package monitor serves a live JSON feed of the link and tick state to
// browser observers over WebSocket.
//
// GET /ws upgrades to a WebSocket receiving one [Snapshot] per interval.
// GET /status returns the current snapshot once.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/agentlink"
)

const (
	DefaultInterval     = 500 * time.Millisecond
	DefaultWriteTimeout = 5 * time.Second
)

var (
	MetricObserverCount     = []string{"agentlink", "monitor", "observer", "count"}
	MetricObserverGoneCount = []string{"agentlink", "monitor", "observer", "gone", "count"}
)

var ErrInvalidCfg = errors.New("monitor: invalid configuration")

type config struct {
	interval     time.Duration
	writeTimeout time.Duration
	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label
}

type Option func(*config) error

// WithInterval sets the period between two snapshots.
func WithInterval(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return fmt.Errorf("interval must be positive, got %v", d)
		}
		c.interval = d
		return nil
	}
}

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the metrics emitted by
// the monitor.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

type Server struct {
	source   Source
	cfg      config
	logger   *slog.Logger
	msink    metrics.MetricSink
	upgrader websocket.Upgrader

	srv *http.Server
	ln  net.Listener

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(source Source, opts ...Option) (*Server, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: no source", ErrInvalidCfg)
	}
	cfg := config{
		interval:     DefaultInterval,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	s := &Server{
		source: source,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		done: make(chan struct{}),
	}
	if cfg.logHandler == nil {
		s.logger = slog.Default()
	} else {
		s.logger = slog.New(cfg.logHandler)
	}
	if cfg.msink == nil {
		s.msink = metrics.Default()
	} else {
		s.msink = cfg.msink
	}
	return s, nil
}

// Handler routes /ws and /status.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveFeed)
	mux.HandleFunc("/status", s.serveStatus)
	return mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitor stopped", agentlink.LabelError.L(err))
		}
	}()
	s.logger.Info("monitor listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting observers and closes the feeds.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}
	waitCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (s *Server) serveStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source()); err != nil {
		s.logger.Debug("status write failed", agentlink.LabelError.L(err))
	}
}

func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", agentlink.LabelError.L(err))
		return
	}
	defer conn.Close()

	s.wg.Add(1)
	defer s.wg.Done()

	logger := s.logger.With(agentlink.LabelPeerAddr.L(r.RemoteAddr))
	logger.Debug("observer joined")
	s.msink.IncrCounterWithLabels(MetricObserverCount, 1.0, s.cfg.metricLabels)

	// Observers only listen: reading is how a close is noticed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.interval)
	defer ticker.Stop()

	for {
		if err := s.write(conn); err != nil {
			logger.Debug("observer lost", agentlink.LabelError.L(err))
			s.msink.IncrCounterWithLabels(MetricObserverGoneCount, 1.0, s.cfg.metricLabels)
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			logger.Debug("observer left")
			s.msink.IncrCounterWithLabels(MetricObserverGoneCount, 1.0, s.cfg.metricLabels)
			return
		case <-s.done:
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn) error {
	data, err := json.Marshal(s.source())
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(s.cfg.writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
