package framesync

import "errors"

var (
	ErrInvalidCfg   = errors.New("framesync: invalid options")
	ErrNoLink       = errors.New("framesync: a link is required")
	ErrNoDispatcher = errors.New("framesync: a dispatcher is required")
	ErrNoSensors    = errors.New("framesync: sensors are required")
)
