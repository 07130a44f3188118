package envelope

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes env without any framing. An empty envelope encodes to a
// zero-length buffer.
func Marshal(env *Envelope) []byte {
	return AppendMarshal(nil, env)
}

// AppendMarshal appends the encoding of env to b.
func AppendMarshal(b []byte, env *Envelope) []byte {
	p := env.Payload()
	if p == nil {
		return b
	}
	return appendMessage(b, protowire.Number(p.Kind()), p)
}

// Unmarshal decodes a buffer produced by [Marshal].
//
// The returned envelope may reference b, which must not be modified
// afterwards. When several known fields are present the last one wins, so
// the result carries at most one payload.
func Unmarshal(b []byte) (*Envelope, error) {
	env := &Envelope{}
	r := fieldReader{b: b}
	for r.next() {
		var p Payload
		if r.num <= protowire.Number(maxKind) {
			p = newPayload(Kind(r.num))
		}
		if p == nil {
			r.skip()
			continue
		}

		raw := r.raw()
		if r.err != nil {
			break
		}
		if err := p.unmarshal(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", p.Kind(), err)
		}
		env.payload = p
	}

	if r.err != nil {
		return nil, r.err
	}
	return env, nil
}

// message is implemented by payloads and by the nested types of the
// network snapshot.
type message interface {
	marshal(b []byte) []byte
}

func appendMessage(b []byte, num protowire.Number, m message) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m.marshal(nil))
}

// Scalar appenders. Required fields are written even when they hold the
// zero value, optional ones are omitted in that case.

func appendInt32(b []byte, num protowire.Number, v int32, required bool) []byte {
	if v == 0 && !required {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendInt64(b []byte, num protowire.Number, v int64, required bool) []byte {
	if v == 0 && !required {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendBool(b []byte, num protowire.Number, v bool, required bool) []byte {
	if !v && !required {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendFloat(b []byte, num protowire.Number, v float32, required bool) []byte {
	if v == 0 && !required {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendDouble(b []byte, num protowire.Number, v float64, required bool) []byte {
	if v == 0 && !required {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendString(b []byte, num protowire.Number, v string, required bool) []byte {
	if v == "" && !required {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte, required bool) []byte {
	if len(v) == 0 && !required {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVec3(b []byte, first protowire.Number, v Vec3) []byte {
	b = appendFloat(b, first, v.X, true)
	b = appendFloat(b, first+1, v.Y, true)
	return appendFloat(b, first+2, v.Z, true)
}

// fieldReader walks the fields of one protobuf message. The first error
// stops the iteration and is kept in err.
type fieldReader struct {
	b   []byte
	num protowire.Number
	typ protowire.Type
	err error
}

func (r *fieldReader) next() bool {
	if r.err != nil || len(r.b) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return false
	}
	r.b = r.b[n:]
	r.num = num
	r.typ = typ
	return true
}

func (r *fieldReader) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: field %d: %w", ErrMalformed, r.num, err)
	}
}

func (r *fieldReader) expect(typ protowire.Type) bool {
	if r.typ != typ {
		r.fail(fmt.Errorf("unexpected wire type %d", r.typ))
		return false
	}
	return true
}

func (r *fieldReader) skip() {
	n := protowire.ConsumeFieldValue(r.num, r.typ, r.b)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return
	}
	r.b = r.b[n:]
}

func (r *fieldReader) varint() uint64 {
	if !r.expect(protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) int32() int32 {
	return int32(r.varint())
}

func (r *fieldReader) int64() int64 {
	return int64(r.varint())
}

func (r *fieldReader) bool() bool {
	return protowire.DecodeBool(r.varint())
}

func (r *fieldReader) float() float32 {
	if !r.expect(protowire.Fixed32Type) {
		return 0
	}
	v, n := protowire.ConsumeFixed32(r.b)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return 0
	}
	r.b = r.b[n:]
	return math.Float32frombits(v)
}

func (r *fieldReader) double() float64 {
	if !r.expect(protowire.Fixed64Type) {
		return 0
	}
	v, n := protowire.ConsumeFixed64(r.b)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return 0
	}
	r.b = r.b[n:]
	return math.Float64frombits(v)
}

// raw returns the content of a length-delimited field.
func (r *fieldReader) raw() []byte {
	if !r.expect(protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return nil
	}
	r.b = r.b[n:]
	return v
}

// bytes is raw normalised so that an empty field reads back as nil.
func (r *fieldReader) bytes() []byte {
	v := r.raw()
	if len(v) == 0 {
		return nil
	}
	return v
}

func (r *fieldReader) string() string {
	return string(r.raw())
}

func (r *fieldReader) message(m interface{ unmarshal([]byte) error }) {
	raw := r.raw()
	if r.err != nil {
		return
	}
	if err := m.unmarshal(raw); err != nil {
		r.fail(err)
	}
}

// readVec3 assigns the component selected by offset (0, 1 or 2).
func (r *fieldReader) readVec3(v *Vec3, offset protowire.Number) {
	switch offset {
	case 0:
		v.X = r.float()
	case 1:
		v.Y = r.float()
	case 2:
		v.Z = r.float()
	}
}
