// Package keyspace provides the ordered tuple encoding and the subspace and
// directory layers built on it.
//
// The tuple encoding is order preserving: comparing two packed tuples
// byte-wise gives the same result as comparing them element by element with
// types.Compare. Numbers share one encoding so integers and whole floats with
// the same value pack identically. Timestamps pack as Unix seconds followed by
// nanoseconds, in UTC.
package keyspace

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/arkilian/recordlayer/pkg/types"
)

// Type codes, ordered as types.Compare orders kinds.
const (
	codeNil    byte = 0x00
	codeFalse  byte = 0x10
	codeTrue   byte = 0x11
	codeNumber byte = 0x20
	codeTime   byte = 0x28
	codeString byte = 0x30
	codeBytes  byte = 0x40

	numberFloat byte = 0x00
	numberInt   byte = 0x01

	escape byte = 0xFF
)

// Tuple is an ordered list of key-compatible values.
type Tuple []any

// Pack encodes the tuple.
func (t Tuple) Pack() ([]byte, error) {
	var buf bytes.Buffer
	for i, elem := range t {
		if err := encodeElement(&buf, elem); err != nil {
			return nil, fmt.Errorf("keyspace: tuple element %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// MustPack encodes the tuple and panics on unsupported elements. Use it only
// with literal tuples.
func (t Tuple) MustPack() []byte {
	b, err := t.Pack()
	if err != nil {
		panic(err)
	}
	return b
}

func encodeElement(buf *bytes.Buffer, elem any) error {
	switch v := types.NormalizeValue(elem).(type) {
	case nil:
		buf.WriteByte(codeNil)
	case bool:
		if v {
			buf.WriteByte(codeTrue)
		} else {
			buf.WriteByte(codeFalse)
		}
	case int64:
		encodeNumber(buf, intPrefix(v), &v)
	case float64:
		if math.IsNaN(v) {
			return fmt.Errorf("NaN is not a key value")
		}
		if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
			i := int64(v)
			encodeNumber(buf, v, &i)
		} else {
			encodeNumber(buf, v, nil)
		}
	case time.Time:
		var scratch [12]byte
		buf.WriteByte(codeTime)
		binary.BigEndian.PutUint64(scratch[:8], uint64(v.Unix())^(1<<63))
		binary.BigEndian.PutUint32(scratch[8:], uint32(v.Nanosecond()))
		buf.Write(scratch[:])
	case string:
		buf.WriteByte(codeString)
		writeEscaped(buf, []byte(v))
	case []byte:
		buf.WriteByte(codeBytes)
		writeEscaped(buf, v)
	default:
		return fmt.Errorf("unsupported key value of type %T", elem)
	}
	return nil
}

// maxIntPrefix is the largest float64 below 2^63.
var maxIntPrefix = math.Nextafter(1<<63, 0)

// intPrefix is the float part of an integer's encoding. Integers that round
// up to 2^63 are held below it so every float >= 2^63 sorts after them.
func intPrefix(i int64) float64 {
	f := float64(i)
	if f >= 1<<63 {
		return maxIntPrefix
	}
	return f
}

func encodeNumber(buf *bytes.Buffer, f float64, exact *int64) {
	var scratch [8]byte
	buf.WriteByte(codeNumber)

	bits := math.Float64bits(f)
	if f >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	binary.BigEndian.PutUint64(scratch[:], bits)
	buf.Write(scratch[:])

	if exact == nil {
		buf.WriteByte(numberFloat)
		return
	}
	buf.WriteByte(numberInt)
	binary.BigEndian.PutUint64(scratch[:], uint64(*exact)^(1<<63))
	buf.Write(scratch[:])
}

func writeEscaped(buf *bytes.Buffer, b []byte) {
	for _, c := range b {
		buf.WriteByte(c)
		if c == 0x00 {
			buf.WriteByte(escape)
		}
	}
	buf.WriteByte(0x00)
}

// Unpack decodes a packed tuple.
func Unpack(b []byte) (Tuple, error) {
	var t Tuple
	for pos := 0; pos < len(b); {
		elem, next, err := decodeElement(b, pos)
		if err != nil {
			return nil, err
		}
		t = append(t, elem)
		pos = next
	}
	return t, nil
}

func decodeElement(b []byte, pos int) (any, int, error) {
	code := b[pos]
	pos++
	switch code {
	case codeNil:
		return nil, pos, nil
	case codeFalse:
		return false, pos, nil
	case codeTrue:
		return true, pos, nil
	case codeNumber:
		if pos+9 > len(b) {
			return nil, 0, fmt.Errorf("keyspace: truncated number at offset %d", pos)
		}
		bits := binary.BigEndian.Uint64(b[pos : pos+8])
		if bits&(1<<63) != 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		f := math.Float64frombits(bits)
		pos += 8
		switch b[pos] {
		case numberFloat:
			return f, pos + 1, nil
		case numberInt:
			pos++
			if pos+8 > len(b) {
				return nil, 0, fmt.Errorf("keyspace: truncated integer at offset %d", pos)
			}
			i := int64(binary.BigEndian.Uint64(b[pos:pos+8]) ^ (1 << 63))
			return i, pos + 8, nil
		default:
			return nil, 0, fmt.Errorf("keyspace: bad number tag 0x%02x", b[pos])
		}
	case codeTime:
		if pos+12 > len(b) {
			return nil, 0, fmt.Errorf("keyspace: truncated time at offset %d", pos)
		}
		sec := int64(binary.BigEndian.Uint64(b[pos:pos+8]) ^ (1 << 63))
		nsec := int64(binary.BigEndian.Uint32(b[pos+8 : pos+12]))
		return time.Unix(sec, nsec).UTC(), pos + 12, nil
	case codeString, codeBytes:
		raw, next, err := readEscaped(b, pos)
		if err != nil {
			return nil, 0, err
		}
		if code == codeString {
			return string(raw), next, nil
		}
		return raw, next, nil
	default:
		return nil, 0, fmt.Errorf("keyspace: unknown type code 0x%02x at offset %d", code, pos-1)
	}
}

func readEscaped(b []byte, pos int) ([]byte, int, error) {
	var out []byte
	for pos < len(b) {
		c := b[pos]
		if c != 0x00 {
			out = append(out, c)
			pos++
			continue
		}
		if pos+1 < len(b) && b[pos+1] == escape {
			out = append(out, 0x00)
			pos += 2
			continue
		}
		if out == nil {
			out = []byte{}
		}
		return out, pos + 1, nil
	}
	return nil, 0, fmt.Errorf("keyspace: unterminated string")
}

// Strinc returns the first key that does not have prefix as a prefix.
// It returns nil when no such key exists (prefix is all 0xFF).
func Strinc(prefix []byte) []byte {
	out := bytes.Clone(prefix)
	for len(out) > 0 {
		last := len(out) - 1
		if out[last] != 0xFF {
			out[last]++
			return out
		}
		out = out[:last]
	}
	return nil
}
