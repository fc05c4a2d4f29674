// Package codec implements the lossless, order-preserving byte encodings
// that RepriseDB uses for primary keys, index values and document bodies.
//
// Two encoding modes are distinguished throughout this package:
//
//   - "key mode" (index=true) must preserve the natural ordering of the
//     decoded value when the encoded bytes are compared lexicographically,
//     and must be safe to concatenate with other encoded fields (a
//     terminator is added where the encoding is variable-width).
//   - "value mode" (index=false) only needs to round-trip; ordering and
//     concatenation safety are not required.
//
// Packers are looked up by a short string identifier so that collection
// metadata can name a codec without embedding Go types.
package codec

import "github.com/pkg/errors"

// Packer encodes and decodes Go values to and from the physical byte
// strings RepriseDB stores on disk.
type Packer interface {
	// Pack encodes value. When index is true the result must sort the
	// same way the decoded values do.
	Pack(value interface{}, index bool) ([]byte, error)

	// Unpack is the inverse of Pack.
	Unpack(data []byte, index bool) (interface{}, error)

	// AppendLast appends value's key-mode encoding to prefix, in a form
	// that ExtractLast can later strip back off. Used to build composite
	// keys such as "index value + primary key".
	AppendLast(prefix []byte, value interface{}) ([]byte, error)

	// ExtractLast splits the trailing value appended by AppendLast off
	// of data, returning the remaining prefix and the decoded value.
	ExtractLast(data []byte) (rest []byte, value interface{}, err error)
}

// ErrNotOrderable is returned by packers whose encoding cannot be used to
// build or split composite keys (currently only the msgpack packer, which
// is never used as a sort key).
var ErrNotOrderable = errors.New("codec: packer does not support composite keys")

// Sentinel single bytes used by the entry and index layers. They live here,
// rather than in those packages, because both the string packer's
// terminator and the document tombstone happen to be the same NUL byte and
// keeping them next to each other avoids two independently-chosen magic
// constants drifting apart.
var (
	NUL       = []byte{0x00}
	One       = []byte{0x01}
	Tombstone = []byte{0x00}
)

// registry maps codec identifiers, as they appear in collection metadata,
// to the Packer that implements them.
var registry = map[string]Packer{
	"uint8":    NewUnsignedIntegerPacker(1),
	"uint16":   NewUnsignedIntegerPacker(2),
	"uint32":   NewUnsignedIntegerPacker(4),
	"int16":    NewSignedIntegerPacker(2),
	"int32":    NewSignedIntegerPacker(4),
	"float":    NewFloatPacker(),
	"string":   NewStringPacker(),
	"dict":     NewMsgpackPacker(),
	"obj":      NewMsgpackPacker(),
	"revision": NewRevisionPacker(),
}

// Lookup returns the registered Packer for the given identifier.
func Lookup(name string) (Packer, error) {
	p, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("codec: unknown packer %q", name)
	}
	return p, nil
}

// Register adds a packer under a new identifier, for callers that define
// their own fixed-width or variable-width field types. Panics on a
// duplicate identifier, matching the fail-fast style of a constructor
// registry that is only ever populated at init time.
func Register(name string, p Packer) {
	if _, dup := registry[name]; dup {
		panic("codec: duplicate packer registration for " + name)
	}
	registry[name] = p
}
