// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartRecordID(t *testing.T) {
	assert.Equal(t, "split#checkpoint#ns#1#part#0001", PartRecordID("split", "checkpoint#ns#1", 1))
	assert.Equal(t, "split#checkpoint#ns#1#part#0042", PartRecordID("split", "checkpoint#ns#1", 42))
	assert.Equal(t, "split#checkpoint#ns#1#part#10000", PartRecordID("split", "checkpoint#ns#1", 10000))
}

func TestIsPartRecordID(t *testing.T) {
	assert.True(t, IsPartRecordID("split", PartRecordID("split", "checkpoint#ns#1", 1)))
	assert.True(t, IsPartRecordID("split", PartRecordID("split", "checkpoint#ns#1", 10000)))

	// logical records never match, even when the configured prefix collides
	// with the logical record namespace
	assert.False(t, IsPartRecordID("split", "checkpoint#ns#1"))
	assert.False(t, IsPartRecordID("checkpoint", "checkpoint#ns#1"))
	assert.True(t, IsPartRecordID("checkpoint", PartRecordID("checkpoint", "checkpoint#ns#1", 2)))

	// the full part shape is required
	assert.False(t, IsPartRecordID("split", "split#checkpoint#ns#1"))
	assert.False(t, IsPartRecordID("split", "split#checkpoint#ns#1#part#"))
	assert.False(t, IsPartRecordID("split", "split#checkpoint#ns#1#part#12"))
	assert.False(t, IsPartRecordID("split", "split#checkpoint#ns#1#part#00x1"))
	assert.False(t, IsPartRecordID("split", "other#checkpoint#ns#1#part#0001"))
}
