// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package checkpoint

// Object is a JSON object that preserves the insertion order of its keys.
// Checkpoints and their metadata are modeled as Objects so that canonical
// serialization is reproducible byte for byte on both the write and the
// read path.
type Object struct {
	keys   []string
	values map[string]interface{}
}

// NewObject creates an empty ordered object
func NewObject() *Object {
	return &Object{values: map[string]interface{}{}}
}

// Set adds or replaces the value stored under key, keeping the key's
// original position when it already exists
func (obj *Object) Set(key string, value interface{}) {
	if obj.values == nil {
		obj.values = map[string]interface{}{}
	}
	if _, exists := obj.values[key]; !exists {
		obj.keys = append(obj.keys, key)
	}
	obj.values[key] = value
}

// Get returns the value stored under key
func (obj *Object) Get(key string) (interface{}, bool) {
	value, ok := obj.values[key]
	return value, ok
}

// Len returns the number of keys
func (obj *Object) Len() int { return len(obj.keys) }

// Keys returns the keys in insertion order
func (obj *Object) Keys() []string {
	return append([]string{}, obj.keys...)
}

// Clone creates a deep copy of the object. Nested Objects and arrays are
// copied, scalar values are shared.
func (obj *Object) Clone() *Object {
	if obj == nil {
		return nil
	}
	clone := NewObject()
	for _, key := range obj.keys {
		clone.Set(key, cloneValue(obj.values[key]))
	}
	return clone
}

func cloneValue(value interface{}) interface{} {
	switch value := value.(type) {
	case *Object:
		return value.Clone()
	case []interface{}:
		cloned := make([]interface{}, len(value))
		for i, element := range value {
			cloned[i] = cloneValue(element)
		}
		return cloned
	default:
		return value
	}
}

// Messages returns the ordered message sequence carried by a channel value,
// when the value is an object with a "messages" array.
func Messages(value interface{}) ([]interface{}, bool) {
	obj, ok := value.(*Object)
	if !ok {
		return nil, false
	}
	raw, ok := obj.Get("messages")
	if !ok {
		return nil, false
	}
	messages, ok := raw.([]interface{})
	return messages, ok
}

// SetMessages replaces the "messages" array of a channel value. It reports
// false when the value is not an object.
func SetMessages(value interface{}, messages []interface{}) bool {
	obj, ok := value.(*Object)
	if !ok {
		return false
	}
	obj.Set("messages", messages)
	return true
}

// ChannelVersion returns the "version" field of a channel value when present.
func ChannelVersion(value interface{}) string {
	obj, ok := value.(*Object)
	if !ok {
		return ""
	}
	raw, ok := obj.Get("version")
	if !ok {
		return ""
	}
	switch version := raw.(type) {
	case string:
		return version
	case interface{ String() string }:
		return version.String()
	default:
		return ""
	}
}
