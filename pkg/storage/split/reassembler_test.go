// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package split

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/splitstore/pkg/checkpoint"
	"storj.io/splitstore/storage"
	"storj.io/splitstore/storage/teststore"
)

func splitIntoStore(t *testing.T, splitter *Splitter, store *teststore.Client, recordID string, cp, metadata *checkpoint.Object) SplitResult {
	t.Helper()
	result, err := splitter.SplitIfNeeded(ctx, "thread", recordID, cp, metadata, store)
	require.NoError(t, err)
	require.True(t, result.WasSplit)
	return result
}

func assertSameObject(t *testing.T, expected, actual *checkpoint.Object) {
	t.Helper()
	expectedData, err := checkpoint.Marshal(expected)
	require.NoError(t, err)
	actualData, err := checkpoint.Marshal(actual)
	require.NoError(t, err)
	assert.Equal(t, string(expectedData), string(actualData))
}

func TestReassembleMessageLevelRoundTrip(t *testing.T) {
	const recordID = "checkpoint#ns#1"

	cp := makeCheckpoint(200, 600)
	metadata := checkpoint.NewObject()
	metadata.Set("step", "42")

	store := teststore.New()
	splitter := newSplitter(t, testConfig())
	written := splitIntoStore(t, splitter, store, recordID, cp, metadata)

	result, err := splitter.Reassemble(ctx, "thread", recordID, store, ReassembleOptions{
		ValidateChecksums: true,
	})
	require.NoError(t, err)
	require.True(t, result.Success, "warnings: %v", result.Warnings)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, len(written.RecordIDs), result.PartsReassembled)
	assert.Equal(t, len(written.RecordIDs), result.TotalExpectedParts)
	assert.True(t, result.ReassemblyTime > 0)

	assertSameObject(t, cp, result.Checkpoint)
	assertSameObject(t, metadata, result.Metadata)
}

func TestReassembleContentLevelRoundTrip(t *testing.T) {
	const recordID = "checkpoint#ns#1"

	config := testConfig()
	config.Strategy = storage.ContentLevel

	cp := makeCheckpoint(200, 600)
	metadata := checkpoint.NewObject()
	metadata.Set("source", "loop")

	store := teststore.New()
	splitter := newSplitter(t, config)
	written := splitIntoStore(t, splitter, store, recordID, cp, metadata)

	result, err := splitter.Reassemble(ctx, "thread", recordID, store, ReassembleOptions{
		ValidateChecksums: true,
	})
	require.NoError(t, err)
	require.True(t, result.Success, "warnings: %v", result.Warnings)
	assert.Equal(t, len(written.RecordIDs), result.PartsReassembled)

	assertSameObject(t, cp, result.Checkpoint)
	assertSameObject(t, metadata, result.Metadata)
}

func TestReassembleMultiChannelOrder(t *testing.T) {
	const recordID = "checkpoint#ns#1"

	cp := checkpoint.NewObject()
	cp.Set("agent", makeChannel("v1", makeMessages(100, 600)))
	cp.Set("tools", makeChannel("v2", makeMessages(100, 600)))

	store := teststore.New()
	splitter := newSplitter(t, testConfig())
	splitIntoStore(t, splitter, store, recordID, cp, checkpoint.NewObject())

	result, err := splitter.Reassemble(ctx, "thread", recordID, store, ReassembleOptions{
		ValidateChecksums: true,
	})
	require.NoError(t, err)
	require.True(t, result.Success, "warnings: %v", result.Warnings)

	assertSameObject(t, cp, result.Checkpoint)
}

func TestReassembleMissingMessagePart(t *testing.T) {
	const recordID = "checkpoint#ns#1"

	cp := makeCheckpoint(200, 600)

	store := teststore.New()
	splitter := newSplitter(t, testConfig())
	written := splitIntoStore(t, splitter, store, recordID, cp, checkpoint.NewObject())
	require.True(t, len(written.RecordIDs) >= 3)

	// every auxiliary is essential; losing one must fail the whole
	// reassembly instead of surfacing a record with fewer messages
	lastAux := written.RecordIDs[len(written.RecordIDs)-1]
	require.NoError(t, store.Delete(ctx, "thread", lastAux))

	result, err := splitter.Reassemble(ctx, "thread", recordID, store, ReassembleOptions{
		ValidateChecksums: true,
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Nil(t, result.Checkpoint)
	require.Len(t, result.Warnings, 1)
	expected := fmt.Sprintf("Found %d/%d parts", len(written.RecordIDs)-1, len(written.RecordIDs))
	assert.Equal(t, expected, result.Warnings[0])
}

func TestReassembleMissingContentPart(t *testing.T) {
	const recordID = "checkpoint#ns#1"

	config := testConfig()
	config.Strategy = storage.ContentLevel

	store := teststore.New()
	splitter := newSplitter(t, config)
	written := splitIntoStore(t, splitter, store, recordID, makeCheckpoint(200, 600), checkpoint.NewObject())
	require.True(t, len(written.RecordIDs) >= 2)

	// content level needs every chunk
	require.NoError(t, store.Delete(ctx, "thread", written.RecordIDs[1]))

	result, err := splitter.Reassemble(ctx, "thread", recordID, store, ReassembleOptions{
		ValidateChecksums: true,
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Nil(t, result.Checkpoint)
}

func TestReassembleChecksumMismatch(t *testing.T) {
	const recordID = "checkpoint#ns#1"

	store := teststore.New()
	splitter := newSplitter(t, testConfig())
	written := splitIntoStore(t, splitter, store, recordID, makeCheckpoint(200, 600), checkpoint.NewObject())

	// corrupt a stored auxiliary without touching its checksum
	aux, err := store.Get(ctx, "thread", written.RecordIDs[1])
	require.NoError(t, err)
	require.NotNil(t, aux.MessageSplitData)
	aux.MessageSplitData.MessagesData[30] ^= 0x01
	require.NoError(t, store.Put(ctx, aux))

	result, err := splitter.Reassemble(ctx, "thread", recordID, store, ReassembleOptions{
		ValidateChecksums: true,
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "checksum mismatch")
}

func TestReassembleSkipsValidationWhenDisabled(t *testing.T) {
	const recordID = "checkpoint#ns#1"

	store := teststore.New()
	splitter := newSplitter(t, testConfig())
	written := splitIntoStore(t, splitter, store, recordID, makeCheckpoint(200, 600), checkpoint.NewObject())

	// flip one alphanumeric content byte to another; the JSON stays valid but
	// the stored checksum no longer matches
	aux, err := store.Get(ctx, "thread", written.RecordIDs[1])
	require.NoError(t, err)
	data := aux.MessageSplitData.MessagesData
	index := -1
	for i, c := range data {
		if c >= 'a' && c <= 'y' {
			index = i
			break
		}
	}
	require.True(t, index >= 0)
	data[index]++
	require.NoError(t, store.Put(ctx, aux))

	result, err := splitter.Reassemble(ctx, "thread", recordID, store, ReassembleOptions{
		ValidateChecksums: false,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestReassembleRecordNotFound(t *testing.T) {
	splitter := newSplitter(t, testConfig())

	result, err := splitter.Reassemble(ctx, "thread", "checkpoint#ns#missing", teststore.New(), ReassembleOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"Record not found"}, result.Warnings)
}

func TestReassembleNotSplitRecord(t *testing.T) {
	store := teststore.New()
	require.NoError(t, store.Put(ctx, &storage.StoredRecord{
		ThreadID:   "thread",
		RecordID:   "checkpoint#ns#1",
		Checkpoint: []byte(`{"state":"small"}`),
	}))

	splitter := newSplitter(t, testConfig())

	result, err := splitter.Reassemble(ctx, "thread", "checkpoint#ns#1", store, ReassembleOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"Record is not split"}, result.Warnings)
}

func TestReassembleInvalidSplitMetadata(t *testing.T) {
	store := teststore.New()
	require.NoError(t, store.Put(ctx, &storage.StoredRecord{
		ThreadID: "thread",
		RecordID: "checkpoint#ns#1",
		IsSplit:  true,
	}))

	splitter := newSplitter(t, testConfig())

	result, err := splitter.Reassemble(ctx, "thread", "checkpoint#ns#1", store, ReassembleOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"Reassembly failed: invalid split metadata"}, result.Warnings)
}

func TestReassembleDeadline(t *testing.T) {
	const recordID = "checkpoint#ns#1"

	store := teststore.New()
	splitter := newSplitter(t, testConfig())
	splitIntoStore(t, splitter, store, recordID, makeCheckpoint(200, 600), checkpoint.NewObject())

	result, err := splitter.Reassemble(ctx, "thread", recordID, store, ReassembleOptions{
		Timeout: time.Nanosecond,
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "deadline exceeded")
}
