package codec

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// UnsignedIntegerPacker packs unsigned integers into a fixed-width,
// big-endian byte string. Big-endian encoding is what makes byte
// comparison equivalent to numeric comparison, so index mode and value
// mode are identical for this packer.
type UnsignedIntegerPacker struct {
	size int
	max  uint64
}

// NewUnsignedIntegerPacker returns a packer for size-byte unsigned
// integers (size must be 1, 2, 4 or 8).
func NewUnsignedIntegerPacker(size int) *UnsignedIntegerPacker {
	return &UnsignedIntegerPacker{size: size, max: maxForSize(size)}
}

func maxForSize(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (8 * uint(size))) - 1
}

func (p *UnsignedIntegerPacker) packUint(v uint64) ([]byte, error) {
	if v > p.max {
		return nil, errors.Errorf("codec: value %d overflows %d-byte unsigned field", v, p.size)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf[8-p.size:], nil
}

func (p *UnsignedIntegerPacker) unpackUint(data []byte) (uint64, error) {
	if len(data) != p.size {
		return 0, errors.Errorf("codec: expected %d bytes, got %d", p.size, len(data))
	}
	buf := make([]byte, 8)
	copy(buf[8-p.size:], data)
	return binary.BigEndian.Uint64(buf), nil
}

func (p *UnsignedIntegerPacker) Pack(value interface{}, _ bool) ([]byte, error) {
	n, err := toInt64(value)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.Errorf("codec: %d is negative, not valid for an unsigned field", n)
	}
	return p.packUint(uint64(n))
}

func (p *UnsignedIntegerPacker) Unpack(data []byte, _ bool) (interface{}, error) {
	v, err := p.unpackUint(data)
	if err != nil {
		return nil, err
	}
	return int64(v), nil
}

func (p *UnsignedIntegerPacker) AppendLast(prefix []byte, value interface{}) ([]byte, error) {
	packed, err := p.Pack(value, true)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, prefix...), packed...), nil
}

func (p *UnsignedIntegerPacker) ExtractLast(data []byte) ([]byte, interface{}, error) {
	if len(data) < p.size {
		return nil, nil, errors.Errorf("codec: key too short to contain a %d-byte field", p.size)
	}
	split := len(data) - p.size
	v, err := p.Unpack(data[split:], true)
	if err != nil {
		return nil, nil, err
	}
	return data[:split], v, nil
}

// SignedIntegerPacker packs signed integers by offsetting them into the
// unsigned range and delegating to UnsignedIntegerPacker. The offset is
// 2^(8*size-1), so a 2-byte field covers -32768..32767 and byte order
// matches signed numeric order.
type SignedIntegerPacker struct {
	unsigned *UnsignedIntegerPacker
	offset   uint64
}

func NewSignedIntegerPacker(size int) *SignedIntegerPacker {
	u := NewUnsignedIntegerPacker(size)
	return &SignedIntegerPacker{unsigned: u, offset: u.max/2 + 1}
}

func (p *SignedIntegerPacker) Pack(value interface{}, index bool) ([]byte, error) {
	n, err := toInt64(value)
	if err != nil {
		return nil, err
	}
	return p.unsigned.packUint(uint64(n) + p.offset)
}

func (p *SignedIntegerPacker) Unpack(data []byte, index bool) (interface{}, error) {
	v, err := p.unsigned.unpackUint(data)
	if err != nil {
		return nil, err
	}
	return int64(v - p.offset), nil
}

func (p *SignedIntegerPacker) AppendLast(prefix []byte, value interface{}) ([]byte, error) {
	packed, err := p.Pack(value, true)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, prefix...), packed...), nil
}

func (p *SignedIntegerPacker) ExtractLast(data []byte) ([]byte, interface{}, error) {
	if len(data) < p.unsigned.size {
		return nil, nil, errors.Errorf("codec: key too short to contain a %d-byte field", p.unsigned.size)
	}
	split := len(data) - p.unsigned.size
	v, err := p.Unpack(data[split:], true)
	if err != nil {
		return nil, nil, err
	}
	return data[:split], v, nil
}
