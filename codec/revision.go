package codec

import (
	"math"

	"github.com/pkg/errors"
)

// MaxRevision is the largest representable revision number. Revision 0 is
// reserved (it marks the "latest revision" pointer record), so real data
// revisions run from 1 through MaxRevision.
const MaxRevision uint32 = math.MaxUint32

// RevisionPacker packs a revision number as max_uint32 - R, big-endian.
// Inverting the value means that ascending byte order visits revisions in
// descending numeric order, so within one user key's run of physical
// entries the newest revision always sorts first.
type RevisionPacker struct {
	inner *UnsignedIntegerPacker
}

func NewRevisionPacker() *RevisionPacker {
	return &RevisionPacker{inner: NewUnsignedIntegerPacker(4)}
}

func (p *RevisionPacker) Pack(value interface{}, _ bool) ([]byte, error) {
	n, err := toInt64(value)
	if err != nil {
		return nil, err
	}
	return p.inner.packUint(uint64(MaxRevision) - uint64(n))
}

func (p *RevisionPacker) Unpack(data []byte, _ bool) (interface{}, error) {
	v, err := p.inner.unpackUint(data)
	if err != nil {
		return nil, err
	}
	return int64(uint64(MaxRevision) - v), nil
}

func (p *RevisionPacker) AppendLast(prefix []byte, value interface{}) ([]byte, error) {
	packed, err := p.Pack(value, true)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, prefix...), packed...), nil
}

func (p *RevisionPacker) ExtractLast(data []byte) ([]byte, interface{}, error) {
	split := len(data) - 4
	if split < 0 {
		return nil, nil, errors.New("codec: key too short to contain a revision")
	}
	v, err := p.Unpack(data[split:], true)
	if err != nil {
		return nil, nil, err
	}
	return data[:split], v, nil
}

// EncodeRevision and DecodeRevision are the free-function equivalents used throughout the
// store package, which works with raw revision numbers far more often
// than with the generic Packer interface.
var revisionPacker = NewRevisionPacker()

func EncodeRevision(revision uint32) []byte {
	b, _ := revisionPacker.Pack(int64(revision), true)
	return b
}

func DecodeRevision(data []byte) uint32 {
	v, _ := revisionPacker.Unpack(data, true)
	return uint32(v.(int64))
}
