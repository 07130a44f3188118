package dispatch

import "errors"

var (
	ErrInvalidCfg = errors.New("dispatch: invalid options")
	ErrNoSender   = errors.New("dispatch: a sender is required")
	ErrNoHandler  = errors.New("dispatch: a handler is required")
)
