package client

import "errors"

var (
	ErrInvalidCfg  = errors.New("client: invalid options")
	ErrNoTLSConfig = errors.New("client: quic requires a tls config")
	ErrDial        = errors.New("client: could not reach the agent")
	ErrClosed      = errors.New("client: closed")
	ErrSend        = errors.New("client: send failed")
	ErrVersion     = errors.New("client: version mismatch")
)
