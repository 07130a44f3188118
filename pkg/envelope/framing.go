package envelope

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// PrefixSize is the size of the length prefix of every frame.
	PrefixSize = 4

	// DefaultMaxFrameSize bounds the payload of a single frame.
	DefaultMaxFrameSize = 16 << 20
)

// AppendFrame appends env to b as a length-prefixed frame.
func AppendFrame(b []byte, env *Envelope) []byte {
	start := len(b)
	b = append(b, 0, 0, 0, 0)
	b = AppendMarshal(b, env)
	binary.LittleEndian.PutUint32(b[start:], uint32(len(b)-start-PrefixSize))
	return b
}

// WriteFrame writes env to w as a single length-prefixed frame, in one
// Write call.
func WriteFrame(w io.Writer, env *Envelope) (int, error) {
	return w.Write(AppendFrame(nil, env))
}

// ReadFrame reads one frame from r and decodes it.
//
// A payload that fails to decode is reported with an error wrapping
// [ErrMalformed]: the frame has been consumed entirely so the caller may
// keep reading. Any other error leaves r at an unknown offset.
func ReadFrame(r io.Reader, maxSize int) (*Envelope, int, error) {
	buf, err := ReadRawFrame(r, maxSize)
	if err != nil {
		return nil, 0, err
	}

	env, err := Unmarshal(buf)
	return env, len(buf) + PrefixSize, err
}

// ReadRawFrame reads the payload of one frame from r without decoding it.
func ReadRawFrame(r io.Reader, maxSize int) ([]byte, error) {
	var prefix [PrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	size := binary.LittleEndian.Uint32(prefix[:])
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	if uint64(size) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: %w", ErrShortFrame, err)
	}
	return buf, nil
}
