// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package checkpoint

import (
	"bytes"
	"encoding/json"
	"io"
	"reflect"

	"github.com/zeebo/errs"
)

// ErrSerialize is returned when a payload cannot be serialized or parsed
var ErrSerialize = errs.Class("serialization")

// Marshal encodes a value as canonical UTF-8 JSON. Object keys are written
// in insertion order, numbers round-trip through json.Number, and cyclic
// structures are detected and reported instead of recursing forever.
func Marshal(value interface{}) ([]byte, error) {
	enc := &encoder{
		seenObjects: map[*Object]struct{}{},
		seenSlices:  map[uintptr]struct{}{},
	}
	if err := enc.encode(value); err != nil {
		return nil, err
	}
	return enc.buf.Bytes(), nil
}

type encoder struct {
	buf         bytes.Buffer
	seenObjects map[*Object]struct{}
	seenSlices  map[uintptr]struct{}
}

func (enc *encoder) encode(value interface{}) error {
	switch value := value.(type) {
	case nil:
		enc.buf.WriteString("null")
		return nil

	case *Object:
		if _, ok := enc.seenObjects[value]; ok {
			return ErrSerialize.New("encountered a cycle")
		}
		enc.seenObjects[value] = struct{}{}
		defer delete(enc.seenObjects, value)

		enc.buf.WriteByte('{')
		for i, key := range value.keys {
			if i > 0 {
				enc.buf.WriteByte(',')
			}
			encodedKey, err := json.Marshal(key)
			if err != nil {
				return ErrSerialize.Wrap(err)
			}
			enc.buf.Write(encodedKey)
			enc.buf.WriteByte(':')
			if err := enc.encode(value.values[key]); err != nil {
				return err
			}
		}
		enc.buf.WriteByte('}')
		return nil

	case []interface{}:
		if len(value) > 0 {
			ptr := reflect.ValueOf(value).Pointer()
			if _, ok := enc.seenSlices[ptr]; ok {
				return ErrSerialize.New("encountered a cycle")
			}
			enc.seenSlices[ptr] = struct{}{}
			defer delete(enc.seenSlices, ptr)
		}

		enc.buf.WriteByte('[')
		for i, element := range value {
			if i > 0 {
				enc.buf.WriteByte(',')
			}
			if err := enc.encode(element); err != nil {
				return err
			}
		}
		enc.buf.WriteByte(']')
		return nil

	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return ErrSerialize.Wrap(err)
		}
		enc.buf.Write(encoded)
		return nil
	}
}

// Unmarshal parses canonical JSON into an ordered object
func Unmarshal(data []byte) (*Object, error) {
	value, err := Decode(data)
	if err != nil {
		return nil, err
	}
	obj, ok := value.(*Object)
	if !ok {
		return nil, ErrSerialize.New("expected a JSON object")
	}
	return obj, nil
}

// Decode parses canonical JSON into ordered objects, arrays and scalars
func Decode(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	value, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}

	// anything after the first value means the payload was not one document
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrSerialize.New("trailing data after JSON value")
	}
	return value, nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	token, err := dec.Token()
	if err != nil {
		return nil, ErrSerialize.Wrap(err)
	}

	switch token := token.(type) {
	case json.Delim:
		switch token {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyToken, err := dec.Token()
				if err != nil {
					return nil, ErrSerialize.Wrap(err)
				}
				key, ok := keyToken.(string)
				if !ok {
					return nil, ErrSerialize.New("invalid object key %v", keyToken)
				}
				value, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, value)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, ErrSerialize.Wrap(err)
			}
			return obj, nil

		case '[':
			array := []interface{}{}
			for dec.More() {
				value, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				array = append(array, value)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, ErrSerialize.Wrap(err)
			}
			return array, nil

		default:
			return nil, ErrSerialize.New("unexpected delimiter %v", token)
		}
	default:
		// string, bool, json.Number or nil
		return token, nil
	}
}

// MarshalJSON implements json.Marshaler preserving key order
func (obj *Object) MarshalJSON() ([]byte, error) {
	return Marshal(obj)
}

// UnmarshalJSON implements json.Unmarshaler preserving key order
func (obj *Object) UnmarshalJSON(data []byte) error {
	decoded, err := Unmarshal(data)
	if err != nil {
		return err
	}
	*obj = *decoded
	return nil
}
