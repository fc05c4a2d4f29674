package codec

import (
	"bytes"
	"reflect"

	ugorji "github.com/ugorji/go/codec"
)

var msgpackHandle = newMsgpackHandle()

// newMsgpackHandle configures decoding of untyped maps as
// map[string]interface{} rather than ugorji's default
// map[interface{}]interface{}, and of untyped strings as string rather
// than []byte, so that accessor lookups on a decoded document (e.g.
// "address.city") can use plain string-keyed maps and string values.
func newMsgpackHandle() *ugorji.MsgpackHandle {
	h := &ugorji.MsgpackHandle{}
	h.MapType = reflect.TypeOf(map[string]interface{}{})
	h.RawToString = true
	return h
}

// MsgpackPacker packs arbitrary document values (maps, slices, typed
// structs) using msgpack. It never needs to sort, so it ignores the index
// flag entirely and does not support composite keys; document fields are
// always the last, free-form element of a record, never part of a sort
// key.
type MsgpackPacker struct{}

func NewMsgpackPacker() *MsgpackPacker { return &MsgpackPacker{} }

func (p *MsgpackPacker) Pack(value interface{}, _ bool) ([]byte, error) {
	return Marshal(value)
}

func (p *MsgpackPacker) Unpack(data []byte, _ bool) (interface{}, error) {
	var v interface{}
	if err := Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (p *MsgpackPacker) AppendLast(prefix []byte, value interface{}) ([]byte, error) {
	return nil, ErrNotOrderable
}

func (p *MsgpackPacker) ExtractLast(data []byte) ([]byte, interface{}, error) {
	return nil, nil, ErrNotOrderable
}

// Marshal encodes any Go value (struct, map, slice, scalar) as msgpack.
// Exported for the database layer's own typed metadata records, which
// skip the generic interface{} packer round trip and marshal/unmarshal
// directly into Go structs.
func Marshal(value interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := ugorji.NewEncoder(&buf, msgpackHandle)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack bytes into out, which may be a pointer to a
// concrete struct or to an interface{} (in which case maps decode as
// map[string]interface{}).
func Unmarshal(data []byte, out interface{}) error {
	dec := ugorji.NewDecoderBytes(data, msgpackHandle)
	return dec.Decode(out)
}

// Convert re-encodes src and decodes the result into dst, which must be a
// pointer. Used to recover a strongly-typed Go struct (e.g. collection
// metadata) from a value that has already been round-tripped through the
// generic interface{} packer and come back out as a map[string]interface{}.
func Convert(src interface{}, dst interface{}) error {
	data, err := Marshal(src)
	if err != nil {
		return err
	}
	return Unmarshal(data, dst)
}
