package bencode

import (
	"errors"
	"fmt"
	"math"
)

// ErrIncomplete reports that the buffered bytes do not yet contain a
// complete top-level value. It is the decoder's "feed me more" signal
// and never indicates corruption.
var ErrIncomplete = errors.New("bencode: incomplete value")

// SyntaxError reports malformed input at a byte offset relative to the
// start of the value being decoded. It is fatal for the stream: with no
// framing between values there is nothing to resynchronize on.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("bencode: %s at offset %d", e.Msg, e.Offset)
}

// Decoder incrementally decodes a stream of top-level values.
//
// Feed appends raw bytes; Next drains decoded values. A Decoder never
// inspects bytes beyond the end of the value it is currently decoding,
// so interleaving Feed and Next calls at arbitrary chunk boundaries
// yields exactly the same value sequence as one large feed.
type Decoder struct {
	buf []byte
}

// Feed appends a chunk of raw bytes from the transport.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes retained but not yet decoded.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next decodes and consumes the next complete top-level value, or
// returns ErrIncomplete when more bytes are needed. Any *SyntaxError
// leaves the decoder unusable.
func (d *Decoder) Next() (interface{}, error) {
	if len(d.buf) == 0 {
		return nil, ErrIncomplete
	}
	v, n, err := decodeValue(d.buf, 0)
	if err != nil {
		return nil, err
	}
	// Shift rather than re-slice so the retained tail does not pin an
	// ever-growing backing array.
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
	return v, nil
}

func syntaxErr(pos int, format string, args ...interface{}) error {
	return &SyntaxError{Offset: pos, Msg: fmt.Sprintf(format, args...)}
}

// decodeValue decodes one value starting at pos and returns it together
// with the offset just past its final byte.
func decodeValue(buf []byte, pos int) (interface{}, int, error) {
	if pos >= len(buf) {
		return nil, 0, ErrIncomplete
	}
	switch c := buf[pos]; {
	case c == 'i':
		return decodeInt(buf, pos)
	case c == 'l':
		return decodeList(buf, pos)
	case c == 'd':
		return decodeDict(buf, pos)
	case c >= '0' && c <= '9':
		return decodeBytes(buf, pos)
	default:
		return nil, 0, syntaxErr(pos, "unexpected byte %q", c)
	}
}

func decodeInt(buf []byte, pos int) (interface{}, int, error) {
	i := pos + 1
	if i >= len(buf) {
		return nil, 0, ErrIncomplete
	}
	neg := false
	if buf[i] == '-' {
		neg = true
		i++
	}
	start := i
	for i < len(buf) && buf[i] >= '0' && buf[i] <= '9' {
		i++
	}
	if i >= len(buf) {
		return nil, 0, ErrIncomplete
	}
	if buf[i] != 'e' {
		return nil, 0, syntaxErr(i, "unexpected byte %q in integer", buf[i])
	}
	digits := buf[start:i]
	switch {
	case len(digits) == 0:
		return nil, 0, syntaxErr(start, "integer with no digits")
	case digits[0] == '0' && (neg || len(digits) > 1):
		// i-0e and zero-padded integers are malformed.
		return nil, 0, syntaxErr(start, "illegal leading zero in integer")
	}
	// Magnitude is capped at MaxInt64 for both signs.
	var n int64
	for _, c := range digits {
		d := int64(c - '0')
		if n > (math.MaxInt64-d)/10 {
			return nil, 0, syntaxErr(start, "integer overflows 64 bits")
		}
		n = n*10 + d
	}
	if neg {
		n = -n
	}
	return n, i + 1, nil
}

func decodeBytes(buf []byte, pos int) (interface{}, int, error) {
	i := pos
	// Leading zeros in the length prefix are tolerated: "03:foo" decodes
	// the same as "3:foo".
	var length int
	for i < len(buf) && buf[i] >= '0' && buf[i] <= '9' {
		length = length*10 + int(buf[i]-'0')
		i++
		if length > maxStringLen {
			return nil, 0, syntaxErr(pos, "byte string length exceeds %d", maxStringLen)
		}
	}
	if i >= len(buf) {
		return nil, 0, ErrIncomplete
	}
	if buf[i] != ':' {
		return nil, 0, syntaxErr(i, "unexpected byte %q in length prefix", buf[i])
	}
	i++
	if len(buf)-i < length {
		return nil, 0, ErrIncomplete
	}
	b := make([]byte, length)
	copy(b, buf[i:i+length])
	return b, i + length, nil
}

// maxStringLen caps a single byte string at 64 MiB, which is far beyond
// any plausible evaluation payload and keeps a corrupt length prefix
// from provoking an enormous allocation.
const maxStringLen = 64 << 20

func decodeList(buf []byte, pos int) (interface{}, int, error) {
	items := []interface{}{}
	i := pos + 1
	for {
		if i >= len(buf) {
			return nil, 0, ErrIncomplete
		}
		if buf[i] == 'e' {
			return items, i + 1, nil
		}
		v, n, err := decodeValue(buf, i)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
		i = n
	}
}

func decodeDict(buf []byte, pos int) (interface{}, int, error) {
	m := map[string]interface{}{}
	i := pos + 1
	for {
		if i >= len(buf) {
			return nil, 0, ErrIncomplete
		}
		if buf[i] == 'e' {
			return m, i + 1, nil
		}
		if buf[i] < '0' || buf[i] > '9' {
			return nil, 0, syntaxErr(i, "dictionary key is not a byte string")
		}
		k, n, err := decodeBytes(buf, i)
		if err != nil {
			return nil, 0, err
		}
		v, n2, err := decodeValue(buf, n)
		if err != nil {
			return nil, 0, err
		}
		// Last value wins on duplicate keys.
		m[string(k.([]byte))] = v
		i = n2
	}
}
