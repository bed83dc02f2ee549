package jarray

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode is canonical so equal snapshots encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("jarray: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireValue is the serialized form of a Value, shared by CBOR and JSON.
// Literal payloads always travel as bytes. JSON also carries them as text
// when they are valid UTF-8, for readers; the bytes are authoritative.
type wireValue struct {
	Rank  int     `cbor:"rank" json:"rank"`
	Shape []int64 `cbor:"shape" json:"shape"`
	Kind  string  `cbor:"kind" json:"kind"`
	Tag   int64   `cbor:"tag" json:"tag"`
	Ints  []int64 `cbor:"ints,omitempty" json:"ints,omitempty"`
	Chars []byte  `cbor:"chars,omitempty" json:"chars,omitempty"`
	Text  string  `cbor:"-" json:"text,omitempty"`
	Boxes int     `cbor:"boxes,omitempty" json:"boxes,omitempty"`
}

func toWire(v Value) (wireValue, error) {
	w := wireValue{
		Rank:  v.Rank,
		Shape: v.Shape,
		Tag:   int64(v.Type()),
	}
	if w.Shape == nil {
		w.Shape = []int64{}
	}
	if v.Payload == nil {
		return w, fmt.Errorf("jarray: value has no payload")
	}
	w.Kind = v.Payload.Kind().String()
	switch p := v.Payload.(type) {
	case Char:
		w.Chars = []byte{byte(p)}
	case Chars:
		w.Chars = p
	case Int:
		w.Ints = []int64{int64(p)}
	case Ints:
		w.Ints = p
	case Boxed:
		w.Boxes = len(p)
	}
	return w, nil
}

func fromWire(w wireValue) (Value, error) {
	kind, ok := kindFromString(w.Kind)
	if !ok {
		return Value{}, fmt.Errorf("jarray: unknown payload kind %q", w.Kind)
	}
	if len(w.Shape) != w.Rank {
		return Value{}, fmt.Errorf("jarray: rank %d with shape %v", w.Rank, w.Shape)
	}
	v := Value{Rank: w.Rank}
	if w.Rank > 0 {
		v.Shape = w.Shape
	}
	switch kind {
	case KindChar:
		if len(w.Chars) != 1 {
			return Value{}, fmt.Errorf("jarray: char payload of %d bytes", len(w.Chars))
		}
		v.Payload = Char(w.Chars[0])
	case KindChars:
		v.Payload = Chars(w.Chars)
		if w.Chars == nil {
			v.Payload = Chars{}
		}
	case KindInt:
		if len(w.Ints) != 1 {
			return Value{}, fmt.Errorf("jarray: int payload of %d elements", len(w.Ints))
		}
		v.Payload = Int(w.Ints[0])
	case KindInts:
		v.Payload = Ints(w.Ints)
		if w.Ints == nil {
			v.Payload = Ints{}
		}
	case KindBoxed:
		v.Payload = Boxed{}
	default:
		v.Payload = Unrecognized{Tag: TypeTag(w.Tag)}
	}
	return v, nil
}

// MarshalValue serializes a Value to canonical CBOR.
func MarshalValue(v Value) ([]byte, error) {
	w, err := toWire(v)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(w)
}

// UnmarshalValue deserializes a Value from CBOR.
func UnmarshalValue(data []byte) (Value, error) {
	var w wireValue
	if err := cbor.Unmarshal(data, &w); err != nil {
		return Value{}, fmt.Errorf("jarray: unmarshal value: %w", err)
	}
	return fromWire(w)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	w, err := toWire(v)
	if err != nil {
		return nil, err
	}
	if utf8.Valid(w.Chars) {
		w.Text = string(w.Chars)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Chars == nil && w.Text != "" {
		w.Chars = []byte(w.Text)
	}
	got, err := fromWire(w)
	if err != nil {
		return err
	}
	*v = got
	return nil
}

type wireRaw struct {
	Flag    int64    `cbor:"flag" json:"flag"`
	Rank    int      `cbor:"rank" json:"rank"`
	Shape   []uint64 `cbor:"shape" json:"shape"`
	Type    int64    `cbor:"type" json:"type"`
	Payload []byte   `cbor:"payload" json:"payload"`
}

func rawToWire(r Raw) wireRaw {
	w := wireRaw{Flag: r.Flag, Rank: r.Rank, Shape: r.Shape, Type: int64(r.Type), Payload: r.Payload}
	if w.Shape == nil {
		w.Shape = []uint64{}
	}
	if w.Payload == nil {
		w.Payload = []byte{}
	}
	return w
}

func rawFromWire(w wireRaw) (Raw, error) {
	if len(w.Shape) != w.Rank {
		return Raw{}, fmt.Errorf("jarray: rank %d with shape %v", w.Rank, w.Shape)
	}
	r := Raw{Flag: w.Flag, Rank: w.Rank, Type: TypeTag(w.Type), Payload: w.Payload}
	if w.Rank > 0 {
		r.Shape = w.Shape
	}
	if r.Payload == nil {
		r.Payload = []byte{}
	}
	return r, nil
}

// MarshalRaw serializes a Raw capture to canonical CBOR.
func MarshalRaw(r Raw) ([]byte, error) {
	return cborEncMode.Marshal(rawToWire(r))
}

// UnmarshalRaw deserializes a Raw capture from CBOR.
func UnmarshalRaw(data []byte) (Raw, error) {
	var w wireRaw
	if err := cbor.Unmarshal(data, &w); err != nil {
		return Raw{}, fmt.Errorf("jarray: unmarshal raw: %w", err)
	}
	return rawFromWire(w)
}

// MarshalJSON implements json.Marshaler. The payload is base64 encoded.
func (r Raw) MarshalJSON() ([]byte, error) {
	return json.Marshal(rawToWire(r))
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Raw) UnmarshalJSON(data []byte) error {
	var w wireRaw
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	got, err := rawFromWire(w)
	if err != nil {
		return err
	}
	*r = got
	return nil
}
