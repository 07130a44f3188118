// Package client is the controller side of an agent link.
//
// A [Client] dials one agent (or the environment endpoint), writes
// commands and keeps, in a background goroutine, the latest observations
// and the status of every action it issued. Commands return the action
// identifier to wait on:
//
//	id, err := c.Move(90, 2)
//	status, err := c.WaitForFinal(ctx, id)
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/quic-go/quic-go"
	"github.com/raskyld/agentlink"
	"github.com/raskyld/agentlink/pkg/envelope"
)

var (
	MetricFrameInCount     = []string{"agentlink", "client", "frame", "in", "count"}
	MetricFrameOutCount    = []string{"agentlink", "client", "frame", "out", "count"}
	MetricDecodeErrorCount = []string{"agentlink", "client", "decode", "error", "count"}
)

type Client struct {
	conn    net.Conn
	cfg     config
	logger  *slog.Logger
	msink   metrics.MetricSink
	mLabels []metrics.Label

	writeLock sync.Mutex
	nextID    atomic.Int32

	done      chan struct{}
	closeOnce sync.Once
	err       error

	st *state
}

// Dial connects to the agent listening on addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.dialTimeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	switch cfg.network {
	case agentlink.NetworkQUIC:
		conn, err = dialQUIC(ctx, addr, &cfg)
	default:
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDial, err)
	}

	return newClient(conn, cfg), nil
}

func dialQUIC(ctx context.Context, addr string, cfg *config) (net.Conn, error) {
	if cfg.tlsConf == nil {
		return nil, ErrNoTLSConfig
	}
	qconn, err := quic.DialAddr(ctx, addr, cfg.tlsConf, agentlink.QUICConfig())
	if err != nil {
		return nil, err
	}
	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		qconn.CloseWithError(0, "")
		return nil, err
	}
	return agentlink.WrapStream(qconn, stream), nil
}

func newClient(conn net.Conn, cfg config) *Client {
	c := &Client{
		conn:    conn,
		cfg:     cfg,
		mLabels: cfg.metricLabels,
		done:    make(chan struct{}),
	}
	c.st = newState(c.done)

	if cfg.logHandler == nil {
		c.logger = slog.Default()
	} else {
		c.logger = slog.New(cfg.logHandler)
	}
	c.logger = c.logger.With(agentlink.LabelPeerAddr.L(conn.RemoteAddr().String()))
	if cfg.msink == nil {
		c.msink = metrics.Default()
	} else {
		c.msink = cfg.msink
	}

	go c.recvLoop()
	return c
}

// Done is closed once the link is gone, see [Client.Err].
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the link is gone, nil while it is up or after Close.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		close(c.done)
	})
	return err
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		c.conn.Close()
		close(c.done)
	})
}

func (c *Client) recvLoop() {
	r := bufio.NewReaderSize(c.conn, 64<<10)
	for {
		env, _, err := envelope.ReadFrame(r, c.cfg.maxFrameSize)
		switch {
		case err == nil:
		case errors.Is(err, envelope.ErrMalformed):
			c.logger.Warn("dropping undecodable frame", agentlink.LabelError.L(err))
			c.msink.IncrCounterWithLabels(MetricDecodeErrorCount, 1.0, c.mLabels)
			continue
		default:
			select {
			case <-c.done:
			default:
				if errors.Is(err, io.EOF) {
					c.logger.Info("agent closed the link")
				} else {
					c.logger.Warn("link lost", agentlink.LabelError.L(err))
				}
			}
			c.fail(err)
			return
		}

		c.msink.IncrCounterWithLabels(
			MetricFrameInCount,
			1.0,
			append([]metrics.Label{agentlink.LabelKind.M(env.Kind().String())}, c.mLabels...),
		)
		if p := env.Payload(); p != nil && !c.st.apply(p) {
			c.logger.Debug("ignoring envelope", agentlink.LabelKind.L(env.Kind().String()))
		}
	}
}

// Send writes env to the agent.
func (c *Client) Send(env *envelope.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	buf := envelope.AppendFrame(nil, env)

	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
	if _, err := c.conn.Write(buf); err != nil {
		c.fail(err)
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	c.msink.IncrCounterWithLabels(MetricFrameOutCount, 1.0, c.mLabels)
	return nil
}

// NewActionID returns a fresh action identifier. Identifiers only need to
// be unique among the actions of one link.
func (c *Client) NewActionID() int32 {
	return c.nextID.Add(1)
}

// Status returns the last status reported for the action id.
func (c *Client) Status(id int32) (envelope.StatusCode, bool) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	code, ok := c.st.statuses[id]
	return code, ok
}

// Forget drops the status of id.
func (c *Client) Forget(id int32) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	delete(c.st.statuses, id)
}

// WaitForExec blocks until the agent reports a status for id other than
// InExecution: a progress status such as Walking, or the end of the action.
func (c *Client) WaitForExec(ctx context.Context, id int32) (envelope.StatusCode, error) {
	var code envelope.StatusCode
	err := c.st.wait(ctx, func() bool {
		s, ok := c.st.statuses[id]
		code = s
		return ok && s != envelope.InExecution
	})
	return code, err
}

// WaitForFinal blocks until id finished or was aborted.
func (c *Client) WaitForFinal(ctx context.Context, id int32) (envelope.StatusCode, error) {
	var code envelope.StatusCode
	err := c.st.wait(ctx, func() bool {
		s, ok := c.st.statuses[id]
		code = s
		return ok && s.Terminal()
	})
	return code, err
}

// AwaitStartSync blocks until the agent opens a lockstep round. Each
// StartSync is consumed by one call.
func (c *Client) AwaitStartSync(ctx context.Context) error {
	return c.st.wait(ctx, func() bool {
		if c.st.startSyncs == 0 {
			return false
		}
		c.st.startSyncs--
		return true
	})
}

// StopSync closes the lockstep round: the agent resumes its tick.
func (c *Client) StopSync() error {
	return c.Send(envelope.StopSync())
}

// CheckVersion sends version and returns the agent's. A different version
// is reported as [ErrVersion] along with the agent version.
func (c *Client) CheckVersion(ctx context.Context, version string) (string, error) {
	c.st.mu.Lock()
	c.st.hasVersion = false
	c.st.mu.Unlock()

	if err := c.Send(envelope.Wrap(&envelope.VersionCheck{Version: version})); err != nil {
		return "", err
	}

	var remote string
	err := c.st.wait(ctx, func() bool {
		remote = c.st.version
		return c.st.hasVersion
	})
	if err != nil {
		return "", err
	}
	if remote != version {
		return remote, fmt.Errorf("%w: agent runs %q, controller %q", ErrVersion, remote, version)
	}
	return remote, nil
}

func (c *Client) Images() (envelope.Images, bool) {
	return snapshot(c.st, func() *envelope.Images { return c.st.images })
}

func (c *Client) GridPosition() (envelope.GridPosition, bool) {
	return snapshot(c.st, func() *envelope.GridPosition { return c.st.grid })
}

func (c *Client) EyePosition() (envelope.EyePosition, bool) {
	return snapshot(c.st, func() *envelope.EyePosition { return c.st.eye })
}

func (c *Client) HeadMotion() (envelope.HeadMotion, bool) {
	return snapshot(c.st, func() *envelope.HeadMotion { return c.st.head })
}

func (c *Client) ObjectPosition() (envelope.ObjectPosition, bool) {
	return snapshot(c.st, func() *envelope.ObjectPosition { return c.st.objects })
}

func (c *Client) Reward() (float32, bool) {
	r, ok := snapshot(c.st, func() *envelope.Reward { return c.st.reward })
	return r.Value, ok
}

func (c *Client) Menu() (envelope.Menu, bool) {
	return snapshot(c.st, func() *envelope.Menu { return c.st.menu })
}

func (c *Client) Network() (envelope.Network, bool) {
	return snapshot(c.st, func() *envelope.Network { return c.st.network })
}

// Collisions returns and clears the collisions received so far.
func (c *Client) Collisions() []envelope.Collision {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	out := c.st.collisions
	c.st.collisions = nil
	return out
}

// WaitForImages blocks until a batch of images arrives after the call.
func (c *Client) WaitForImages(ctx context.Context) (envelope.Images, error) {
	c.st.mu.Lock()
	prev := c.st.images
	c.st.mu.Unlock()

	var imgs envelope.Images
	err := c.st.wait(ctx, func() bool {
		if c.st.images == nil || c.st.images == prev {
			return false
		}
		imgs = *c.st.images
		return true
	})
	return imgs, err
}
