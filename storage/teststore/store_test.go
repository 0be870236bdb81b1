// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package teststore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"

	"storj.io/splitstore/storage"
	"storj.io/splitstore/storage/testsuite"
)

var ctx = context.Background()

func TestSuite(t *testing.T) {
	testsuite.RunTests(t, New())
}

func TestCloneIsolation(t *testing.T) {
	store := New()

	record := &storage.StoredRecord{
		ThreadID:   "thread",
		RecordID:   "checkpoint#ns#1",
		Checkpoint: []byte(`{"state":"original"}`),
	}
	require.NoError(t, store.Put(ctx, record))

	// mutating the caller's record after Put must not leak into the store
	record.Checkpoint[10] = 'X'

	got, err := store.Get(ctx, "thread", "checkpoint#ns#1")
	require.NoError(t, err)
	assert.Equal(t, `{"state":"original"}`, string(got.Checkpoint))

	// and neither must mutating what Get handed out
	got.Checkpoint[10] = 'Y'
	again, err := store.Get(ctx, "thread", "checkpoint#ns#1")
	require.NoError(t, err)
	assert.Equal(t, `{"state":"original"}`, string(again.Checkpoint))
}

func TestPutFault(t *testing.T) {
	store := New()
	store.PutFault = func(record *storage.StoredRecord) error {
		return errs.New("injected")
	}

	err := store.Put(ctx, &storage.StoredRecord{ThreadID: "thread", RecordID: "id"})
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 1, store.CallCount.Put)
}

func TestCallCounts(t *testing.T) {
	store := New()

	require.NoError(t, store.Put(ctx, &storage.StoredRecord{ThreadID: "thread", RecordID: "id"}))
	_, err := store.Get(ctx, "thread", "id")
	require.NoError(t, err)
	_, err = store.QueryByThread(ctx, "thread", "")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "thread", "id"))
	require.NoError(t, store.Close())

	assert.Equal(t, 1, store.CallCount.Put)
	assert.Equal(t, 1, store.CallCount.Get)
	assert.Equal(t, 1, store.CallCount.QueryByThread)
	assert.Equal(t, 1, store.CallCount.Delete)
	assert.Equal(t, 1, store.CallCount.Close)
}
