// Package codec bridges domain types to and from the byte strings stored by
// an engine. A codec must be deterministic and side effect free, and
// Decode(Encode(v)) must return v for every valid v. That law is not checked
// at runtime; a codec violating it silently corrupts the map built on top
// of it.
//
// The integer, float, and boolean codecs encode so that the bytewise order
// of encoded keys matches the natural order of the values, which keeps
// engine key order meaningful for typed keys.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/protobuf/proto"
)

type Codec[T any] interface {
	Encode(v T) []byte
	Decode(buf []byte) (T, error)
}

type Bytes struct{}

func (Bytes) Encode(v []byte) []byte {
	return append(make([]byte, 0, len(v)), v...)
}

func (Bytes) Decode(buf []byte) ([]byte, error) {
	return append(make([]byte, 0, len(buf)), buf...), nil
}

type String struct{}

func (String) Encode(v string) []byte {
	return []byte(v)
}

func (String) Decode(buf []byte) (string, error) {
	return string(buf), nil
}

type Bool struct{}

func (Bool) Encode(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func (Bool) Decode(buf []byte) (bool, error) {
	if len(buf) != 1 || buf[0] > 1 {
		return false, fmt.Errorf("codec: bad bool: %v", buf)
	}
	return buf[0] == 1, nil
}

type Uint64 struct{}

func (Uint64) Encode(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func (Uint64) Decode(buf []byte) (uint64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("codec: bad uint64: %v", buf)
	}
	return binary.BigEndian.Uint64(buf), nil
}

// Int64 flips the sign bit so that negative values sort before positive
// ones as byte strings.
type Int64 struct{}

func (Int64) Encode(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
	return buf
}

func (Int64) Decode(buf []byte) (int64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("codec: bad int64: %v", buf)
	}
	return int64(binary.BigEndian.Uint64(buf) ^ (1 << 63)), nil
}

// Float64 complements negative values and sets the sign bit on the rest;
// the encoded bytes then sort in numeric order. NaN round-trips bit exactly
// but compares unequal to itself, as usual.
type Float64 struct{}

func (Float64) Encode(v float64) []byte {
	u := math.Float64bits(v)
	if u&(1<<63) != 0 {
		u = ^u
	} else {
		u |= 1 << 63
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, u)
	return buf
}

func (Float64) Decode(buf []byte) (float64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("codec: bad float64: %v", buf)
	}
	u := binary.BigEndian.Uint64(buf)
	if u&(1<<63) != 0 {
		u &^= 1 << 63
	} else {
		u = ^u
	}
	return math.Float64frombits(u), nil
}

// JSON encodes values with encoding/json. It is meant for values, not keys:
// the encoded bytes do not sort usefully.
type JSON[T any] struct{}

func (JSON[T]) Encode(v T) []byte {
	buf, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("codec: unable to marshal %#v: %s", v, err))
	}
	return buf
}

func (JSON[T]) Decode(buf []byte) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(buf))
	err := dec.Decode(&v)
	if err != nil {
		return v, fmt.Errorf("codec: unable to unmarshal %v: %s", buf, err)
	}
	return v, nil
}

// Proto encodes protobuf messages; New must return a fresh message for
// Decode to fill in.
type Proto[M proto.Message] struct {
	New func() M
}

func (c Proto[M]) Encode(v M) []byte {
	buf, err := proto.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("codec: unable to marshal %v: %s", v, err))
	}
	return buf
}

func (c Proto[M]) Decode(buf []byte) (M, error) {
	m := c.New()
	err := proto.Unmarshal(buf, m)
	if err != nil {
		return m, fmt.Errorf("codec: unable to unmarshal %v: %s", buf, err)
	}
	return m, nil
}
