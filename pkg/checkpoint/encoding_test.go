// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package checkpoint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalPreservesKeyOrder(t *testing.T) {
	obj := NewObject()
	obj.Set("zulu", "last alphabetically")
	obj.Set("alpha", json.Number("1"))
	obj.Set("mike", true)

	data, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"zulu":"last alphabetically","alpha":1,"mike":true}`, string(data))
}

func TestRoundTrip(t *testing.T) {
	channel := NewObject()
	channel.Set("version", "v7")
	channel.Set("messages", []interface{}{
		"plain string",
		json.Number("42"),
		json.Number("3.25"),
		nil,
		map[string]interface{}{"role": "user"},
	})

	obj := NewObject()
	obj.Set("messages", channel)
	obj.Set("counter", json.Number("9000000000000000001"))

	data, err := Marshal(obj)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	redata, err := Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(redata))
}

func TestRoundTripIsByteStable(t *testing.T) {
	obj := NewObject()
	obj.Set("text", "with \"quotes\" and unicode: héllo")
	obj.Set("big", json.Number("123456789012345678901234567890"))
	obj.Set("nested", []interface{}{[]interface{}{json.Number("1")}, NewObject()})

	first, err := Marshal(obj)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		decoded, err := Unmarshal(first)
		require.NoError(t, err)
		again, err := Marshal(decoded)
		require.NoError(t, err)
		require.Equal(t, string(first), string(again))
		first = again
	}
}

func TestMarshalDetectsObjectCycle(t *testing.T) {
	obj := NewObject()
	inner := NewObject()
	inner.Set("parent", obj)
	obj.Set("inner", inner)

	_, err := Marshal(obj)
	require.Error(t, err)
	assert.True(t, ErrSerialize.Has(err))
}

func TestMarshalDetectsSliceCycle(t *testing.T) {
	elements := make([]interface{}, 1)
	elements[0] = elements

	obj := NewObject()
	obj.Set("elements", elements)

	_, err := Marshal(obj)
	require.Error(t, err)
	assert.True(t, ErrSerialize.Has(err))
}

func TestSharedSubtreeIsNotACycle(t *testing.T) {
	shared := NewObject()
	shared.Set("value", json.Number("1"))

	obj := NewObject()
	obj.Set("first", shared)
	obj.Set("second", shared)

	data, err := Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"first":{"value":1},"second":{"value":1}}`, string(data))
}

func TestUnmarshalRejectsNonObjects(t *testing.T) {
	_, err := Unmarshal([]byte(`[1,2,3]`))
	require.Error(t, err)
	assert.True(t, ErrSerialize.Has(err))

	_, err = Unmarshal([]byte(`{"a":1} trailing`))
	require.Error(t, err)
}

func TestDecodeArrays(t *testing.T) {
	value, err := Decode([]byte(`[{"a":1},"b",3]`))
	require.NoError(t, err)

	array, ok := value.([]interface{})
	require.True(t, ok)
	require.Len(t, array, 3)

	first, ok := array[0].(*Object)
	require.True(t, ok)
	_, ok = first.Get("a")
	assert.True(t, ok)
}

func TestClone(t *testing.T) {
	channel := NewObject()
	channel.Set("messages", []interface{}{"one", "two"})

	obj := NewObject()
	obj.Set("channel", channel)

	clone := obj.Clone()

	clonedChannel, ok := clone.Get("channel")
	require.True(t, ok)
	require.True(t, SetMessages(clonedChannel, []interface{}{}))

	// the original must be untouched
	messages, ok := Messages(channel)
	require.True(t, ok)
	assert.Len(t, messages, 2)

	cloned, ok := Messages(clonedChannel)
	require.True(t, ok)
	assert.Len(t, cloned, 0)
}

func TestMessagesHelpers(t *testing.T) {
	_, ok := Messages("not an object")
	assert.False(t, ok)

	channel := NewObject()
	_, ok = Messages(channel)
	assert.False(t, ok)

	channel.Set("messages", []interface{}{"m"})
	messages, ok := Messages(channel)
	require.True(t, ok)
	assert.Len(t, messages, 1)

	channel.Set("version", "v3")
	assert.Equal(t, "v3", ChannelVersion(channel))

	channel.Set("version", json.Number("5"))
	assert.Equal(t, "5", ChannelVersion(channel))
}
