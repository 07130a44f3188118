package agentlink

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated on QUIC links.
const ALPN = "agentlink"

// streamListener hands out one stream connection per controller, whatever
// the network below.
type streamListener interface {
	Accept(ctx context.Context) (net.Conn, error)
	Close() error
	Addr() net.Addr
}

// rejecter is implemented by connections that can tell the peer why they
// are refused.
type rejecter interface {
	Reject(qerr QuicApplicationError, msg string) error
}

func listen(cfg *config) (streamListener, error) {
	addr := net.JoinHostPort(cfg.addr, fmt.Sprint(cfg.port))
	switch cfg.network {
	case NetworkQUIC:
		return listenQUIC(addr, cfg.tlsConf, cfg.streamTimeout)
	default:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		return &tcpListener{ln}, nil
	}
}

type tcpListener struct {
	net.Listener
}

func (ln *tcpListener) Accept(context.Context) (net.Conn, error) {
	conn, err := ln.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return conn, nil
}

// QUICConfig returns the quic.Config shared by both ends of a link.
func QUICConfig() *quic.Config {
	return &quic.Config{
		Versions:              []quic.Version{quic.Version2, quic.Version1},
		MaxIncomingStreams:    1,
		MaxIncomingUniStreams: -1,
		MaxIdleTimeout:        1 * time.Minute,
		KeepAlivePeriod:       15 * time.Second,
	}
}

type quicListener struct {
	ln            *quic.Listener
	streamTimeout time.Duration
}

func listenQUIC(addr string, tlsConf *tls.Config, streamTimeout time.Duration) (*quicListener, error) {
	if tlsConf == nil {
		return nil, ErrNoTLSConfig
	}
	tlsConf = tlsConf.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{ALPN}
	}

	ln, err := quic.ListenAddr(addr, tlsConf, QUICConfig())
	if err != nil {
		return nil, err
	}
	return &quicListener{ln: ln, streamTimeout: streamTimeout}, nil
}

// Accept waits for a QUIC connection and its first bidirectional stream.
// The controller must write on the stream for it to be seen here.
func (ql *quicListener) Accept(ctx context.Context) (net.Conn, error) {
	conn, err := ql.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, ql.streamTimeout)
	defer cancel()
	stream, err := conn.AcceptStream(sctx)
	if err != nil {
		QErrInternal.Close(conn, "no stream opened")
		return nil, fmt.Errorf("%w: %w", ErrNoStream, err)
	}

	return &streamWrapper{
		conn:   conn,
		Stream: stream,
	}, nil
}

func (ql *quicListener) Close() error {
	return ql.ln.Close()
}

func (ql *quicListener) Addr() net.Addr {
	return ql.ln.Addr()
}

// streamWrapper exposes the stream of a QUIC connection as a net.Conn.
// Closing it closes the whole connection since a link carries one stream.
type streamWrapper struct {
	conn quic.Connection

	// NB: quic-go guards Read, Write and Close of a stream with its own
	// locks, the sender and receiver goroutines may share it.
	quic.Stream
}

// WrapStream returns a net.Conn reading and writing stream and owning conn.
func WrapStream(conn quic.Connection, stream quic.Stream) net.Conn {
	return &streamWrapper{conn: conn, Stream: stream}
}

func (sw *streamWrapper) LocalAddr() net.Addr {
	return sw.conn.LocalAddr()
}

func (sw *streamWrapper) RemoteAddr() net.Addr {
	return sw.conn.RemoteAddr()
}

func (sw *streamWrapper) Close() error {
	sw.Stream.CancelRead(0)
	sw.Stream.Close()
	return sw.conn.CloseWithError(0, "")
}

func (sw *streamWrapper) Reject(qerr QuicApplicationError, msg string) error {
	return qerr.Close(sw.conn, msg)
}
