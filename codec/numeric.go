package codec

import "github.com/pkg/errors"

// toInt64 accepts any of Go's built-in integer kinds so that callers can
// pass plain literals (42) as well as already-typed values without having
// to know which flavor a given field's packer expects.
func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	default:
		return 0, errors.Errorf("codec: %T is not an integer", value)
	}
}
