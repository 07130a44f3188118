package agentlink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/raskyld/agentlink/pkg/envelope"
	"github.com/stretchr/testify/require"
)

func readFrame(t *testing.T, conn net.Conn) *envelope.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	env, _, err := envelope.ReadFrame(conn, 0)
	require.NoError(t, err)
	return env
}

func writeFrame(t *testing.T, conn net.Conn, env *envelope.Envelope) {
	t.Helper()
	_, err := envelope.WriteFrame(conn, env)
	require.NoError(t, err)
}

func receive(t *testing.T, tr *Transport) *envelope.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	env, err := tr.Receive(ctx)
	require.NoError(t, err)
	return env
}

func TestTransport(t *testing.T) {
	tr, sink := startTransport(t, "agent-0")
	require.False(t, tr.IsConnected())

	conn := dialTCP(t, tr)
	require.Eventually(t, tr.IsConnected, 2*time.Second, 10*time.Millisecond)

	peer, ok := tr.Peer()
	require.True(t, ok)
	require.NotEmpty(t, peer.Session)
	require.Equal(t, conn.LocalAddr().String(), peer.Addr)

	t.Run("inbound envelopes are queued in order", func(t *testing.T) {
		writeFrame(t, conn, envelope.Wrap(&envelope.AgentMovement{ActionID: 1, Degree: 90, Distance: 2}))
		writeFrame(t, conn, envelope.StopSync())

		require.Equal(t, envelope.KindAgentMovement, receive(t, tr).Kind())
		require.Equal(t, envelope.KindStopSync, receive(t, tr).Kind())
		require.False(t, tr.MessageAvailable())

		_, ok := tr.TryReceive()
		require.False(t, ok)
	})

	t.Run("outbound envelopes reach the controller", func(t *testing.T) {
		tr.Send(envelope.Status(1, envelope.InExecution))
		tr.Send(envelope.Status(1, envelope.Finished))

		first := readFrame(t, conn)
		second := readFrame(t, conn)
		require.Equal(t, &envelope.ActionStatus{ActionID: 1, Status: envelope.InExecution}, first.Payload())
		require.Equal(t, &envelope.ActionStatus{ActionID: 1, Status: envelope.Finished}, second.Payload())
	})

	t.Run("images travel on the bulk lane", func(t *testing.T) {
		img := &envelope.Images{Main: bytes.Repeat([]byte{7}, 1024)}
		tr.Send(envelope.Wrap(img))

		got := readFrame(t, conn)
		require.Equal(t, img, got.Payload())
	})

	t.Run("undecodable frames are dropped without losing alignment", func(t *testing.T) {
		_, err := conn.Write([]byte{0x02, 0x00, 0x00, 0x00, 0xff, 0xff})
		require.NoError(t, err)
		writeFrame(t, conn, envelope.Debug("still aligned"))

		env := receive(t, tr)
		require.Equal(t, &envelope.DebugText{Text: "still aligned"}, env.Payload())
		require.Equal(t, 1.0, counterSum(sink, MetricDecodeErrorCount))
		require.True(t, tr.IsConnected())
	})

	t.Run("receive honours its context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := tr.Receive(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestTransportSendWhileDisconnected(t *testing.T) {
	tr, sink := startTransport(t, "agent-0")

	for i := 0; i < 5; i++ {
		tr.Send(envelope.Status(int32(i), envelope.Finished))
	}
	tr.Send(envelope.Wrap(&envelope.Images{Main: []byte{1}}))
	tr.Send(nil)
	require.Equal(t, 6.0, counterSum(sink, MetricDroppedDisconnected))

	conn := dialTCP(t, tr)
	require.Eventually(t, tr.IsConnected, 2*time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := envelope.ReadFrame(conn, 0)
	var nerr net.Error
	require.True(t, errors.As(err, &nerr) && nerr.Timeout(), "nothing may be sent: %v", err)
}

func TestTransportSingleController(t *testing.T) {
	t.Run("second controller is rejected", func(t *testing.T) {
		tr, sink := startTransport(t, "agent-0")
		first := dialTCP(t, tr)
		require.Eventually(t, tr.IsConnected, 2*time.Second, 10*time.Millisecond)

		second := dialTCP(t, tr)
		second.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err := second.Read(make([]byte, 1))
		require.ErrorIs(t, err, io.EOF)
		require.Eventually(t, func() bool {
			return counterSum(sink, MetricConnRejectedCount) == 1
		}, 2*time.Second, 10*time.Millisecond)
		require.Equal(t, 1.0, counterWith(sink, MetricConnRejectedCount, LabelClosedBy, ClosedByBusy.String()))

		tr.Send(envelope.StartSync())
		require.Equal(t, envelope.KindStartSync, readFrame(t, first).Kind())
	})

	t.Run("lost controller frees the slot", func(t *testing.T) {
		tr, sink := startTransport(t, "agent-0")
		first := dialTCP(t, tr)
		require.Eventually(t, tr.IsConnected, 2*time.Second, 10*time.Millisecond)

		first.Close()
		require.Eventually(t, func() bool { return !tr.IsConnected() }, 2*time.Second, 10*time.Millisecond)
		require.Equal(t, 1.0, counterSum(sink, MetricConnClosedCount))

		second := dialTCP(t, tr)
		require.Eventually(t, tr.IsConnected, 2*time.Second, 10*time.Millisecond)
		tr.Send(envelope.StartSync())
		require.Equal(t, envelope.KindStartSync, readFrame(t, second).Kind())
	})

	t.Run("lazy disconnect keeps the link", func(t *testing.T) {
		tr, _ := startTransport(t, "agent-0", WithLazyDisconnect())
		first := dialTCP(t, tr)
		require.Eventually(t, tr.IsConnected, 2*time.Second, 10*time.Millisecond)

		first.Close()
		time.Sleep(200 * time.Millisecond)
		require.True(t, tr.IsConnected())

		second := dialTCP(t, tr)
		second.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err := second.Read(make([]byte, 1))
		require.ErrorIs(t, err, io.EOF)
	})

	t.Run("oversized frame drops the controller", func(t *testing.T) {
		tr, sink := startTransport(t, "agent-0", WithMaxFrameSize(16))
		conn := dialTCP(t, tr)
		require.Eventually(t, tr.IsConnected, 2*time.Second, 10*time.Millisecond)

		writeFrame(t, conn, envelope.Debug("this debug string is longer than sixteen bytes"))
		require.Eventually(t, func() bool { return !tr.IsConnected() }, 2*time.Second, 10*time.Millisecond)
		require.Equal(t, 1.0, counterSum(sink, MetricConnErrorCount))
	})
}

func TestTransportLateLoss(t *testing.T) {
	tr, err := New(WithName("agent-0"), WithLog(testLogHandler("agent-0")), WithMetricSink(newTestSink()))
	require.NoError(t, err)
	t.Cleanup(func() { tr.Stop() })

	oldAgent, oldCtrl := net.Pipe()
	defer oldCtrl.Close()
	tr.admit(oldAgent)
	old := tr.current()
	require.NotNil(t, old)
	require.Equal(t, old.Session, tr.Session())
	require.True(t, tr.lose(old, io.EOF))
	require.False(t, tr.IsConnected())
	require.Empty(t, tr.Session())

	newAgent, newCtrl := net.Pipe()
	defer newCtrl.Close()
	tr.admit(newAgent)
	require.True(t, tr.IsConnected())

	// The next controller's handshake is queued before the receiver of the
	// old one reports its loss a second time.
	tr.Send(envelope.StartSync())
	require.True(t, tr.lose(old, io.EOF))

	require.True(t, tr.IsConnected())
	require.Equal(t, 1, tr.control.len(), "queued envelopes belong to the new controller")
	peer, ok := tr.Peer()
	require.True(t, ok)
	require.NotEqual(t, old.Session, peer.Session)
	require.Equal(t, peer.Session, tr.Session())
}

func TestTransportStop(t *testing.T) {
	tr, _ := startTransport(t, "agent-0", WithStopTimeout(3*time.Second))
	conn := dialTCP(t, tr)
	require.Eventually(t, tr.IsConnected, 2*time.Second, 10*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(2)

	recvErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		_, err := tr.Receive(context.Background())
		recvErr <- err
	}()

	stopSending := make(chan struct{})
	go func() {
		defer wg.Done()
		img := envelope.Wrap(&envelope.Images{Main: bytes.Repeat([]byte{1}, 64<<10)})
		for {
			select {
			case <-stopSending:
				return
			default:
				tr.Send(img)
				tr.Send(envelope.Status(1, envelope.Walking))
			}
		}
	}()

	// The controller never reads: the sender ends up blocked in Write.
	go io.Copy(io.Discard, io.LimitReader(conn, 1024))
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, tr.Stop())
	require.Less(t, time.Since(start), 3*time.Second)
	close(stopSending)

	require.ErrorIs(t, <-recvErr, ErrStopped)
	wg.Wait()

	require.False(t, tr.IsConnected())
	require.NoError(t, tr.Stop(), "stop is idempotent")
	require.ErrorIs(t, tr.Start(), ErrAlreadyStarted)
}

func TestTransportOptions(t *testing.T) {
	_, err := New(WithNetwork(NetworkQUIC))
	require.ErrorIs(t, err, ErrInvalidCfg)
	require.ErrorIs(t, err, ErrNoTLSConfig)

	_, err = New(WithListenOn("127.0.0.1", 70000))
	require.ErrorIs(t, err, ErrInvalidCfg)

	network, err := ParseNetwork("QUIC")
	require.NoError(t, err)
	require.Equal(t, NetworkQUIC, network)

	_, err = ParseNetwork("sctp")
	require.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestTransportQUIC(t *testing.T) {
	serverTLS, clientTLS := tlsPair(t)
	tr, _ := startTransport(t, "agent-quic",
		WithNetwork(NetworkQUIC),
		WithTLSConfig(serverTLS),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := quic.DialAddr(ctx, tr.Addr().String(), clientTLS, QUICConfig())
	require.NoError(t, err)
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	require.NoError(t, err)
	link := WrapStream(conn, stream)

	// The stream only reaches the agent once something is written on it.
	writeFrame(t, link, envelope.Wrap(&envelope.VersionCheck{Version: "test"}))
	require.Eventually(t, tr.IsConnected, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, envelope.KindVersionCheck, receive(t, tr).Kind())

	tr.Send(envelope.Status(9, envelope.Finished))
	require.Equal(t, &envelope.ActionStatus{ActionID: 9, Status: envelope.Finished}, readFrame(t, link).Payload())

	t.Run("oversized frame closes the connection as peer lost", func(t *testing.T) {
		tr, _ := startTransport(t, "agent-quic-limit",
			WithNetwork(NetworkQUIC),
			WithTLSConfig(serverTLS),
			WithMaxFrameSize(16),
		)
		conn, err := quic.DialAddr(ctx, tr.Addr().String(), clientTLS, QUICConfig())
		require.NoError(t, err)
		s, err := conn.OpenStreamSync(ctx)
		require.NoError(t, err)
		_, err = envelope.WriteFrame(s, envelope.Debug("this debug string is longer than sixteen bytes"))
		require.NoError(t, err)

		select {
		case <-conn.Context().Done():
		case <-ctx.Done():
			t.Fatalf("timed out")
		}

		var appErr *quic.ApplicationError
		require.ErrorAs(t, context.Cause(conn.Context()), &appErr)
		require.EqualValues(t, QErrPeerLost.Code, appErr.ErrorCode)
	})

	t.Run("second connection is refused as busy", func(t *testing.T) {
		other, err := quic.DialAddr(ctx, tr.Addr().String(), clientTLS, QUICConfig())
		require.NoError(t, err)
		s, err := other.OpenStreamSync(ctx)
		require.NoError(t, err)
		_, err = envelope.WriteFrame(s, envelope.Wrap(&envelope.VersionCheck{Version: "test"}))
		require.NoError(t, err)

		select {
		case <-other.Context().Done():
		case <-ctx.Done():
			t.Fatalf("timed out")
		}

		var appErr *quic.ApplicationError
		require.ErrorAs(t, context.Cause(other.Context()), &appErr)
		require.EqualValues(t, QErrBusy.Code, appErr.ErrorCode)
	})
}
