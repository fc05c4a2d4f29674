package codec

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// FloatPacker packs a 32-bit IEEE-754 float into a 4-byte, order-preserving
// big-endian string.
//
// The source this was distilled from only flipped the sign bit of the raw
// IEEE-754 bits, which sorts positive floats correctly relative to one
// another but leaves negative floats in descending order (since two's
// complement-style bit patterns for negative floats grow "smaller" as the
// magnitude grows, IEEE-754 floats do the opposite). A correct
// order-preserving encoding additionally inverts every bit of a negative
// float, not just the sign bit, so that byte comparison matches numeric
// comparison across the whole range including NaN-free negatives.
type FloatPacker struct{}

func NewFloatPacker() *FloatPacker { return &FloatPacker{} }

func (p *FloatPacker) Pack(value interface{}, _ bool) ([]byte, error) {
	f, err := toFloat64(value)
	if err != nil {
		return nil, err
	}
	bits := math.Float32bits(float32(f))
	if bits&0x80000000 != 0 {
		bits = ^bits
	} else {
		bits |= 0x80000000
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, bits)
	return buf, nil
}

func (p *FloatPacker) Unpack(data []byte, _ bool) (interface{}, error) {
	if len(data) != 4 {
		return nil, errors.Errorf("codec: expected 4 bytes for a float, got %d", len(data))
	}
	bits := binary.BigEndian.Uint32(data)
	if bits&0x80000000 != 0 {
		bits &^= 0x80000000
	} else {
		bits = ^bits
	}
	return float64(math.Float32frombits(bits)), nil
}

func (p *FloatPacker) AppendLast(prefix []byte, value interface{}) ([]byte, error) {
	packed, err := p.Pack(value, true)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, prefix...), packed...), nil
}

func (p *FloatPacker) ExtractLast(data []byte) ([]byte, interface{}, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("codec: key too short to contain a float field")
	}
	split := len(data) - 4
	v, err := p.Unpack(data[split:], true)
	if err != nil {
		return nil, nil, err
	}
	return data[:split], v, nil
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		n, err := toInt64(value)
		if err != nil {
			return 0, errors.Errorf("codec: %T is not a float", value)
		}
		return float64(n), nil
	}
}
