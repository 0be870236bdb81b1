// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testsuite contains a record store contract test shared by every
// backend.
package testsuite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/splitstore/storage"
)

var ctx = context.Background()

// RunTests runs the record store contract against store.
func RunTests(t *testing.T, store storage.RecordStore) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, store) })
	t.Run("EmptyKeys", func(t *testing.T) { testEmptyKeys(t, store) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, store) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, store) })
	t.Run("QueryByThread", func(t *testing.T) { testQueryByThread(t, store) })
}

func makeRecord(threadID, recordID string) *storage.StoredRecord {
	return &storage.StoredRecord{
		ThreadID:   threadID,
		RecordID:   recordID,
		Checkpoint: []byte(`{"state":"` + recordID + `"}`),
		Metadata:   []byte(`{}`),
	}
}

func testPutGet(t *testing.T, store storage.RecordStore) {
	record := makeRecord("suite-putget", "checkpoint#ns#1")
	record.IsSplit = true
	record.SplitMetadata = &storage.SplitMetadata{
		OriginalRecordID: "checkpoint#ns#1",
		TotalParts:       3,
		PartNumber:       0,
		Strategy:         storage.MessageLevel,
		SplitTimestamp:   time.Unix(1546300800, 0).UTC(),
		OriginalSize:     123456,
		PartSize:         1024,
		Checksum:         "deadbeefdeadbeef",
	}

	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, "suite-putget", "checkpoint#ns#1")
	require.NoError(t, err)
	assert.Equal(t, record.Checkpoint, got.Checkpoint)
	assert.True(t, got.IsSplit)
	require.NotNil(t, got.SplitMetadata)
	assert.Equal(t, record.SplitMetadata.Checksum, got.SplitMetadata.Checksum)
	assert.Equal(t, record.SplitMetadata.TotalParts, got.SplitMetadata.TotalParts)
	assert.True(t, record.SplitMetadata.SplitTimestamp.Equal(got.SplitMetadata.SplitTimestamp))

	_, err = store.Get(ctx, "suite-putget", "checkpoint#ns#missing")
	require.Error(t, err)
	assert.True(t, storage.ErrRecordNotFound.Has(err))
}

func testEmptyKeys(t *testing.T, store storage.RecordStore) {
	_, err := store.Get(ctx, "", "id")
	assert.True(t, storage.ErrEmptyKey.Has(err))
	_, err = store.Get(ctx, "thread", "")
	assert.True(t, storage.ErrEmptyKey.Has(err))

	assert.True(t, storage.ErrEmptyKey.Has(store.Put(ctx, nil)))
	assert.True(t, storage.ErrEmptyKey.Has(store.Put(ctx, makeRecord("", "id"))))
	assert.True(t, storage.ErrEmptyKey.Has(store.Put(ctx, makeRecord("thread", ""))))

	assert.True(t, storage.ErrEmptyKey.Has(store.Delete(ctx, "", "id")))

	_, err = store.QueryByThread(ctx, "", "")
	assert.True(t, storage.ErrEmptyKey.Has(err))
}

func testOverwrite(t *testing.T, store storage.RecordStore) {
	require.NoError(t, store.Put(ctx, makeRecord("suite-overwrite", "checkpoint#ns#1")))

	updated := makeRecord("suite-overwrite", "checkpoint#ns#1")
	updated.Checkpoint = []byte(`{"state":"rewritten"}`)
	require.NoError(t, store.Put(ctx, updated))

	got, err := store.Get(ctx, "suite-overwrite", "checkpoint#ns#1")
	require.NoError(t, err)
	assert.Equal(t, updated.Checkpoint, got.Checkpoint)

	records, err := store.QueryByThread(ctx, "suite-overwrite", "")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func testDelete(t *testing.T, store storage.RecordStore) {
	require.NoError(t, store.Put(ctx, makeRecord("suite-delete", "checkpoint#ns#1")))
	require.NoError(t, store.Delete(ctx, "suite-delete", "checkpoint#ns#1"))

	_, err := store.Get(ctx, "suite-delete", "checkpoint#ns#1")
	assert.True(t, storage.ErrRecordNotFound.Has(err))

	// deleting a missing record is not an error
	require.NoError(t, store.Delete(ctx, "suite-delete", "checkpoint#ns#1"))

	records, err := store.QueryByThread(ctx, "suite-delete", "")
	require.NoError(t, err)
	assert.Len(t, records, 0)
}

func testQueryByThread(t *testing.T, store storage.RecordStore) {
	// inserted out of order on purpose
	ids := []string{
		"split#checkpoint#ns#1#part#0002",
		"checkpoint#ns#1",
		"split#checkpoint#ns#1#part#0001",
		"checkpoint#other#9",
	}
	for _, id := range ids {
		require.NoError(t, store.Put(ctx, makeRecord("suite-query", id)))
	}
	require.NoError(t, store.Put(ctx, makeRecord("suite-query-other", "checkpoint#ns#1")))

	all, err := store.QueryByThread(ctx, "suite-query", "")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "checkpoint#ns#1", all[0].RecordID)
	assert.Equal(t, "checkpoint#other#9", all[1].RecordID)
	assert.Equal(t, "split#checkpoint#ns#1#part#0001", all[2].RecordID)
	assert.Equal(t, "split#checkpoint#ns#1#part#0002", all[3].RecordID)

	parts, err := store.QueryByThread(ctx, "suite-query", "split#checkpoint#ns#1#")
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "split#checkpoint#ns#1#part#0001", parts[0].RecordID)
	assert.Equal(t, "split#checkpoint#ns#1#part#0002", parts[1].RecordID)

	empty, err := store.QueryByThread(ctx, "suite-query-unknown", "")
	require.NoError(t, err)
	assert.Len(t, empty, 0)
}
