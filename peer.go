package agentlink

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
)

// Peer describes the controller currently linked to a transport.
type Peer struct {
	Session     string
	Addr        string
	ConnectedAt time.Time
}

func (p Peer) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("session", p.Session),
		slog.String("addr", p.Addr),
		slog.Time("since", p.ConnectedAt),
	)
}

// peerConn is an accepted connection and the telemetry bound to it.
type peerConn struct {
	Peer
	conn    net.Conn
	logger  *slog.Logger
	mLabels []metrics.Label

	closeOnce sync.Once
	closedBy  ClosedBy
}

func newPeerConn(conn net.Conn, logger *slog.Logger, static []metrics.Label) *peerConn {
	p := Peer{
		Session:     uuid.NewString(),
		Addr:        conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
	}
	return &peerConn{
		Peer:    p,
		conn:    conn,
		logger:  logger.With(LabelSession.L(p.Session), LabelPeerAddr.L(p.Addr)),
		mLabels: withLabels(static, LabelPeerAddr.M(p.Addr)),
	}
}

// close tears the connection down once and reports whether this call did.
func (pc *peerConn) close(cause ClosedBy) bool {
	closed := false
	pc.closeOnce.Do(func() {
		pc.closedBy = cause
		closed = true
		if r, ok := pc.conn.(rejecter); ok {
			switch cause {
			case ClosedByStop:
				r.Reject(QErrShutdown, "agent stopping")
				return
			case ClosedByRemote, ClosedByProtocol:
				r.Reject(QErrPeerLost, "stream unusable")
				return
			}
		}
		pc.conn.Close()
	})
	return closed
}
