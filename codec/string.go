package codec

import "github.com/pkg/errors"

// StringPacker packs UTF-8 strings. Go strings already compare
// byte-for-byte the same way their contents sort, so no transformation is
// needed beyond the NUL terminator that key mode adds to keep a short
// string from being a prefix of a longer one that starts the same way
// (without it, "ab" would sort as a prefix of "abc" rather than strictly
// before it once concatenated with trailing fields).
type StringPacker struct{}

func NewStringPacker() *StringPacker { return &StringPacker{} }

func (p *StringPacker) Pack(value interface{}, index bool) ([]byte, error) {
	s, ok := value.(string)
	if !ok {
		return nil, errors.Errorf("codec: %T is not a string", value)
	}
	b := []byte(s)
	if index {
		b = append(b, NUL...)
	}
	return b, nil
}

func (p *StringPacker) Unpack(data []byte, index bool) (interface{}, error) {
	if index {
		if len(data) == 0 || data[len(data)-1] != NUL[0] {
			return nil, errors.New("codec: indexed string missing NUL terminator")
		}
		data = data[:len(data)-1]
	}
	return string(data), nil
}

// AppendLast appends value's key-mode encoding (string bytes + NUL) to
// prefix, followed by a single length byte recording how many bytes the
// packed string occupied. The length byte is what lets ExtractLast peel
// the string back off a composite key without knowing its length ahead of
// time, since strings are the only variable-width field these composite
// keys ever carry and they are always the trailing one.
func (p *StringPacker) AppendLast(prefix []byte, value interface{}) ([]byte, error) {
	packed, err := p.Pack(value, true)
	if err != nil {
		return nil, err
	}
	if len(packed) > 255 {
		return nil, errors.New("codec: string too long to append as a composite key tail")
	}
	out := append(append([]byte{}, prefix...), packed...)
	return append(out, byte(len(packed))), nil
}

func (p *StringPacker) ExtractLast(data []byte) ([]byte, interface{}, error) {
	if len(data) == 0 {
		return nil, nil, errors.New("codec: key too short to contain a string tail")
	}
	tailLen := int(data[len(data)-1]) + 1
	if len(data) < tailLen {
		return nil, nil, errors.New("codec: key too short for its own recorded tail length")
	}
	split := len(data) - tailLen
	packed := data[split : len(data)-1]
	v, err := p.Unpack(packed, true)
	if err != nil {
		return nil, nil, err
	}
	return data[:split], v, nil
}
