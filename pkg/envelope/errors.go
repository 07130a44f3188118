package envelope

import "errors"

var (
	ErrMalformed     = errors.New("envelope: malformed payload")
	ErrFrameTooLarge = errors.New("envelope: frame exceeds maximum size")
	ErrShortFrame    = errors.New("envelope: truncated frame")
)
