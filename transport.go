package agentlink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/agentlink/pkg/envelope"
)

const (
	laneControl = "control"
	laneBulk    = "bulk"

	readBufferSize = 64 << 10
	acceptBackoff  = 10 * time.Millisecond
)

// Transport links one simulated agent to at most one controller.
//
// The simulation tick only touches queues: [Transport.Send] enqueues and
// [Transport.Receive] dequeues. Three goroutines do the I/O: the acceptor
// waits for a controller, the sender drains the outbound queues and the
// receiver decodes inbound frames. No I/O error ever reaches the caller,
// faults are logged and counted.
type Transport struct {
	cfg     config
	logger  *slog.Logger
	msink   metrics.MetricSink
	mLabels []metrics.Label

	started atomic.Bool

	// graceful termination asked, do not spam of connection error in logs
	gracefulTerm atomic.Bool
	stopCh       chan struct{}
	stopCtx      context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	// cxLock guards ln and cx, never held across network calls.
	cxLock    sync.Mutex
	ln        streamListener
	cx        *peerConn
	connected atomic.Bool

	control *queue[*envelope.Envelope]
	bulk    *queue[*envelope.Envelope]
	inbound *queue[*envelope.Envelope]

	sendCh chan struct{}
	recvCh chan struct{}
	cxCh   chan struct{}
}

// Stats is a point in time view of a transport.
type Stats struct {
	Name      string
	Addr      string
	Network   Network
	Connected bool
	Peer      Peer
	Inbound   int
	Control   int
	Bulk      int
}

// New configures a transport. Nothing listens before [Transport.Start].
func New(opts ...Option) (*Transport, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}
	if cfg.network == NetworkQUIC && cfg.tlsConf == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, ErrNoTLSConfig)
	}

	t := &Transport{
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		control: newQueue[*envelope.Envelope](0),
		bulk:    newQueue[*envelope.Envelope](BulkDepth),
		inbound: newQueue[*envelope.Envelope](0),
		sendCh:  make(chan struct{}, 1),
		recvCh:  make(chan struct{}, 1),
		cxCh:    make(chan struct{}, 1),
	}
	t.stopCtx, t.cancel = context.WithCancel(context.Background())

	var logger *slog.Logger
	if cfg.logHandler == nil {
		logger = slog.Default()
	} else {
		logger = slog.New(cfg.logHandler)
	}
	t.logger = logger.With(LabelEndpoint.L(cfg.name))

	if cfg.msink == nil {
		t.msink = metrics.Default()
	} else {
		t.msink = cfg.msink
	}
	t.mLabels = withLabels(cfg.metricLabels, LabelEndpoint.M(cfg.name))
	return t, nil
}

// Start listens and spawns the acceptor, sender and receiver.
func (t *Transport) Start() error {
	if !t.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ln, err := listen(&t.cfg)
	if err != nil {
		t.started.Store(false)
		return fmt.Errorf("%w: %w", ErrListen, err)
	}

	t.cxLock.Lock()
	if t.gracefulTerm.Load() {
		t.cxLock.Unlock()
		ln.Close()
		return ErrStopped
	}
	t.ln = ln
	t.cxLock.Unlock()

	t.logger.Info("waiting for a controller",
		"addr", ln.Addr().String(),
		LabelNetwork.L(t.cfg.network.String()),
	)

	t.wg.Add(3)
	go t.acceptLoop(ln)
	go t.sendLoop()
	go t.recvLoop()
	return nil
}

// Name of the endpoint, as set by [WithName].
func (t *Transport) Name() string {
	return t.cfg.name
}

// Addr is the listening address, nil before Start.
func (t *Transport) Addr() net.Addr {
	t.cxLock.Lock()
	defer t.cxLock.Unlock()
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

// Send enqueues env for the controller. Images go to the bulk lane where
// only the most recent batches are kept, everything else is sent in order
// on the control lane. Send is a no-op while no controller is connected.
func (t *Transport) Send(env *envelope.Envelope) {
	if env == nil {
		return
	}

	kind := env.Kind().String()
	if !t.connected.Load() || t.gracefulTerm.Load() {
		t.msink.IncrCounterWithLabels(
			MetricDroppedDisconnected,
			1.0,
			withLabels(t.mLabels, LabelKind.M(kind)),
		)
		return
	}

	if env.IsBulk() {
		if dropped := t.bulk.push(env); dropped > 0 {
			t.msink.IncrCounterWithLabels(
				MetricBulkDropCount,
				float32(dropped),
				t.mLabels,
			)
		}
	} else {
		t.control.push(env)
	}
	signal(t.sendCh)
}

// Receive blocks until an envelope arrives, ctx is done or the transport
// is stopped. Envelopes queued before Stop are still handed out.
func (t *Transport) Receive(ctx context.Context) (*envelope.Envelope, error) {
	for {
		if env, ok := t.inbound.pop(); ok {
			return env, nil
		}

		select {
		case <-t.recvCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.stopCh:
			return nil, ErrStopped
		}
	}
}

// TryReceive pops an envelope without blocking.
func (t *Transport) TryReceive() (*envelope.Envelope, bool) {
	return t.inbound.pop()
}

// MessageAvailable reports whether [Transport.TryReceive] would succeed.
func (t *Transport) MessageAvailable() bool {
	return t.inbound.len() > 0
}

// IsConnected reports whether a controller is linked.
func (t *Transport) IsConnected() bool {
	return t.connected.Load()
}

// Peer returns the linked controller.
func (t *Transport) Peer() (Peer, bool) {
	pc := t.current()
	if pc == nil {
		return Peer{}, false
	}
	return pc.Peer, true
}

// Session of the linked controller, empty when none is linked.
func (t *Transport) Session() string {
	if p, ok := t.Peer(); ok {
		return p.Session
	}
	return ""
}

func (t *Transport) Stats() Stats {
	st := Stats{
		Name:      t.cfg.name,
		Network:   t.cfg.network,
		Connected: t.connected.Load(),
		Inbound:   t.inbound.len(),
		Control:   t.control.len(),
		Bulk:      t.bulk.len(),
	}
	if addr := t.Addr(); addr != nil {
		st.Addr = addr.String()
	}
	st.Peer, _ = t.Peer()
	return st
}

// Stop closes the listener and the connection, which unblocks in-flight
// I/O, then waits for the goroutines up to the stop timeout. It is safe to
// call several times.
func (t *Transport) Stop() error {
	if !t.gracefulTerm.CompareAndSwap(false, true) {
		// no-op because it was already stopped
		return nil
	}

	start := time.Now()
	close(t.stopCh)
	t.cancel()

	t.cxLock.Lock()
	ln := t.ln
	pc := t.cx
	t.cx = nil
	t.connected.Store(false)
	t.cxLock.Unlock()

	if ln != nil {
		ln.Close()
	}
	if pc != nil {
		t.closePeer(pc, &ClosedError{Cause: ClosedByStop})
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(t.cfg.stopTimeout):
		t.logger.Error("goroutines still running after stop", LabelDuration.L(time.Since(start)))
		return ErrStopTimeout
	}

	t.logger.Info("stopped", LabelDuration.L(time.Since(start)))
	return nil
}

func (t *Transport) current() *peerConn {
	t.cxLock.Lock()
	defer t.cxLock.Unlock()
	return t.cx
}

func (t *Transport) acceptLoop(ln streamListener) {
	defer t.wg.Done()
	for {
		conn, err := ln.Accept(t.stopCtx)
		if t.gracefulTerm.Load() {
			if conn != nil {
				conn.Close()
			}
			t.logger.Debug("acceptor gracefully shutting down")
			return
		}

		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				t.logger.Warn("unexpected listener closure", LabelError.L(err))
				return
			}
			t.logger.Warn("error accepting a controller", LabelError.L(err))
			t.msink.IncrCounterWithLabels(
				MetricConnErrorCount,
				1.0,
				withLabels(t.mLabels, LabelError.M("accept")),
			)
			select {
			case <-t.stopCh:
				return
			case <-time.After(acceptBackoff):
			}
			continue
		}

		t.admit(conn)
	}
}

// admit links conn unless a controller is already linked, in which case
// conn is refused.
func (t *Transport) admit(conn net.Conn) {
	remote := conn.RemoteAddr().String()

	t.cxLock.Lock()
	if t.gracefulTerm.Load() {
		t.cxLock.Unlock()
		conn.Close()
		return
	}

	if t.cx != nil {
		current := t.cx.Peer
		t.cxLock.Unlock()

		if r, ok := conn.(rejecter); ok {
			r.Reject(QErrBusy, "agent already linked to a controller")
		} else {
			conn.Close()
		}
		t.logger.Warn("rejected a second controller",
			LabelPeerAddr.L(remote),
			LabelClosedBy.L(ClosedByBusy.String()),
			"current", current,
		)
		t.msink.IncrCounterWithLabels(
			MetricConnRejectedCount,
			1.0,
			withLabels(t.mLabels, LabelPeerAddr.M(remote), LabelClosedBy.M(ClosedByBusy.String())),
		)
		return
	}

	pc := newPeerConn(conn, t.logger, t.mLabels)
	t.control.reset()
	t.bulk.reset()
	t.cx = pc
	t.connected.Store(true)
	t.cxLock.Unlock()

	signal(t.cxCh)
	pc.logger.Info("controller connected")
	t.msink.IncrCounterWithLabels(MetricConnAcceptedCount, 1.0, pc.mLabels)
}

func (t *Transport) sendLoop() {
	defer t.wg.Done()
	var buf []byte
	for {
		select {
		case <-t.stopCh:
			t.logger.Debug("sender gracefully shutting down")
			return
		case <-t.sendCh:
		}

		for {
			env, lane, ok := t.nextOutbound()
			if !ok {
				break
			}
			if t.gracefulTerm.Load() {
				return
			}
			buf = t.write(buf[:0], env, lane)
		}
	}
}

// nextOutbound prefers the control lane: bulk frames only go out when no
// control frame is pending.
func (t *Transport) nextOutbound() (*envelope.Envelope, string, bool) {
	if env, ok := t.control.pop(); ok {
		return env, laneControl, true
	}
	if env, ok := t.bulk.pop(); ok {
		return env, laneBulk, true
	}
	return nil, "", false
}

func (t *Transport) write(buf []byte, env *envelope.Envelope, lane string) []byte {
	kind := env.Kind().String()
	pc := t.current()
	if pc == nil {
		t.msink.IncrCounterWithLabels(
			MetricDroppedDisconnected,
			1.0,
			withLabels(t.mLabels, LabelKind.M(kind)),
		)
		return buf
	}

	buf = envelope.AppendFrame(buf, env)
	if t.cfg.writeTimeout > 0 {
		pc.conn.SetWriteDeadline(time.Now().Add(t.cfg.writeTimeout))
	}

	n, err := pc.conn.Write(buf)
	if err != nil {
		if !t.gracefulTerm.Load() {
			pc.logger.Warn("failed to send a frame",
				LabelKind.L(kind),
				LabelLane.L(lane),
				LabelError.L(err),
			)
		}
		t.msink.IncrCounterWithLabels(
			MetricSendErrorCount,
			1.0,
			withLabels(pc.mLabels, LabelKind.M(kind), LabelLane.M(lane)),
		)
		return buf
	}

	mLabels := withLabels(pc.mLabels, LabelLane.M(lane))
	t.msink.IncrCounterWithLabels(MetricFrameOutBytes, float32(n), mLabels)
	t.msink.IncrCounterWithLabels(MetricFrameOutCount, 1.0, withLabels(mLabels, LabelKind.M(kind)))
	return buf
}

func (t *Transport) recvLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.stopCh:
			t.logger.Debug("receiver gracefully shutting down")
			return
		case <-t.cxCh:
		}

		pc := t.current()
		if pc == nil {
			continue
		}
		if !t.serve(pc) {
			return
		}
	}
}

// serve reads frames from pc until the link breaks. It returns false when
// the receiver must exit.
func (t *Transport) serve(pc *peerConn) bool {
	r := bufio.NewReaderSize(pc.conn, readBufferSize)
	for {
		raw, err := envelope.ReadRawFrame(r, t.cfg.maxFrameSize)
		if t.gracefulTerm.Load() {
			return false
		}
		if err != nil {
			return t.lose(pc, err)
		}

		t.msink.IncrCounterWithLabels(
			MetricFrameInBytes,
			float32(len(raw)+envelope.PrefixSize),
			pc.mLabels,
		)

		env, err := envelope.Unmarshal(raw)
		if err != nil {
			pc.logger.Warn("dropping an undecodable frame", "bytes", len(raw), LabelError.L(err))
			t.msink.IncrCounterWithLabels(MetricDecodeErrorCount, 1.0, pc.mLabels)
			continue
		}

		t.inbound.push(env)
		signal(t.recvCh)
		t.msink.IncrCounterWithLabels(
			MetricFrameInCount,
			1.0,
			withLabels(pc.mLabels, LabelKind.M(env.Kind().String())),
		)
		t.msink.SetGaugeWithLabels(MetricInboundDepth, float32(t.inbound.len()), t.mLabels)
	}
}

// lose handles a broken read side. By default the connection is closed and
// the acceptor may link a new controller. In lazy mode the link stays up
// and the receiver parks until Stop.
func (t *Transport) lose(pc *peerConn, err error) bool {
	cause := ClosedByRemote
	if errors.Is(err, envelope.ErrFrameTooLarge) {
		cause = ClosedByProtocol
		pc.logger.Error("frame over the size limit, the stream cannot be realigned", LabelError.L(err))
		t.msink.IncrCounterWithLabels(
			MetricConnErrorCount,
			1.0,
			withLabels(pc.mLabels, LabelError.M("frame_too_large")),
		)
	}

	if t.cfg.lazyDisconnect {
		pc.logger.Warn("controller went away, link kept until stop", LabelError.L(err))
		<-t.stopCh
		return false
	}

	t.cxLock.Lock()
	if t.cx == pc {
		t.cx = nil
		t.connected.Store(false)
		// whatever was queued for the lost controller; a new one resets
		// the lanes itself in admit
		t.control.reset()
		t.bulk.reset()
	}
	t.cxLock.Unlock()

	t.closePeer(pc, &ClosedError{Cause: cause, Err: err})
	return true
}

func (t *Transport) closePeer(pc *peerConn, cerr *ClosedError) {
	if !pc.close(cerr.Cause) {
		pc.logger.Debug("controller already disconnected", LabelClosedBy.L(pc.closedBy.String()))
		return
	}

	pc.logger.Info("controller disconnected",
		LabelClosedBy.L(cerr.Cause.String()),
		LabelDuration.L(time.Since(pc.ConnectedAt)),
		LabelError.L(cerr.Err),
	)
	t.msink.IncrCounterWithLabels(
		MetricConnClosedCount,
		1.0,
		withLabels(pc.mLabels, LabelClosedBy.M(cerr.Cause.String())),
	)
}
