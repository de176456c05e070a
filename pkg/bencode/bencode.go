// Package bencode implements the self-delimiting binary value encoding
// used on the nREPL wire: length-prefixed byte strings, integers, lists,
// and string-keyed dictionaries.
//
// The decoder is push-based. It is fed byte chunks of arbitrary size as
// they arrive from the transport and yields complete top-level values,
// holding any incomplete trailing bytes until the next feed. The stream
// carries consecutive values with no framing between them; each value is
// self-delimiting by construction, so no synchronization marker exists
// and a malformed byte sequence is unrecoverable for the whole stream.
package bencode

import (
	"fmt"
	"sort"
	"strconv"
)

// Dict is a string-keyed dictionary that preserves insertion order on
// encode. Requests are built with a Dict so that the wire layout is
// deterministic and mirrors the order the fields were set in.
type Dict struct {
	keys   []string
	values map[string]interface{}
}

// NewDict returns an empty ordered dictionary.
func NewDict() *Dict {
	return &Dict{values: make(map[string]interface{})}
}

// Set adds or replaces a key. A replaced key keeps its original position.
func (d *Dict) Set(key string, value interface{}) *Dict {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
	return d
}

// Get returns the value stored under key.
func (d *Dict) Get(key string) (interface{}, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	return d.keys
}

// Len returns the number of keys.
func (d *Dict) Len() int {
	return len(d.keys)
}

// Encode serializes v. Supported shapes: string and []byte (byte
// strings), the integer kinds, []interface{} (lists), *Dict (maps in
// insertion order), and map[string]interface{} (maps with keys sorted
// for determinism).
func Encode(v interface{}) ([]byte, error) {
	return appendValue(nil, v)
}

func appendValue(buf []byte, v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return appendBytes(buf, x), nil
	case string:
		return appendBytes(buf, []byte(x)), nil
	case int:
		return appendInt(buf, int64(x)), nil
	case int8:
		return appendInt(buf, int64(x)), nil
	case int16:
		return appendInt(buf, int64(x)), nil
	case int32:
		return appendInt(buf, int64(x)), nil
	case int64:
		return appendInt(buf, x), nil
	case uint:
		return appendInt(buf, int64(x)), nil
	case uint16:
		return appendInt(buf, int64(x)), nil
	case uint32:
		return appendInt(buf, int64(x)), nil
	case []interface{}:
		buf = append(buf, 'l')
		for _, item := range x {
			var err error
			buf, err = appendValue(buf, item)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, 'e'), nil
	case []string:
		buf = append(buf, 'l')
		for _, item := range x {
			buf = appendBytes(buf, []byte(item))
		}
		return append(buf, 'e'), nil
	case *Dict:
		buf = append(buf, 'd')
		for _, key := range x.keys {
			buf = appendBytes(buf, []byte(key))
			var err error
			buf, err = appendValue(buf, x.values[key])
			if err != nil {
				return nil, err
			}
		}
		return append(buf, 'e'), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for key := range x {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		buf = append(buf, 'd')
		for _, key := range keys {
			buf = appendBytes(buf, []byte(key))
			var err error
			buf, err = appendValue(buf, x[key])
			if err != nil {
				return nil, err
			}
		}
		return append(buf, 'e'), nil
	default:
		return nil, fmt.Errorf("bencode: unsupported type %T", v)
	}
}

func appendBytes(buf, b []byte) []byte {
	buf = strconv.AppendInt(buf, int64(len(b)), 10)
	buf = append(buf, ':')
	return append(buf, b...)
}

func appendInt(buf []byte, n int64) []byte {
	buf = append(buf, 'i')
	buf = strconv.AppendInt(buf, n, 10)
	return append(buf, 'e')
}
