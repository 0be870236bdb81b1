// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storj.io/splitstore/storage"
	"storj.io/splitstore/storage/testsuite"
)

var ctx = context.Background()

func newTestClient(t *testing.T) (*Client, func()) {
	server, err := miniredis.Run()
	require.NoError(t, err)

	client, err := New(server.Addr(), "", 0)
	require.NoError(t, err)

	return client, func() {
		assert.NoError(t, client.Close())
		server.Close()
	}
}

func TestSuite(t *testing.T) {
	client, done := newTestClient(t)
	defer done()

	testsuite.RunTests(t, client)
}

func TestNewUnreachable(t *testing.T) {
	_, err := New("127.0.0.1:1", "", 0)
	require.Error(t, err)
	assert.True(t, Error.Has(err))
}

func TestDeleteCleansIndex(t *testing.T) {
	client, done := newTestClient(t)
	defer done()

	require.NoError(t, client.Put(ctx, &storage.StoredRecord{
		ThreadID:   "thread",
		RecordID:   "checkpoint#ns#1",
		Checkpoint: []byte(`{}`),
	}))
	require.NoError(t, client.Delete(ctx, "thread", "checkpoint#ns#1"))

	// the sorted set index must not resurrect deleted records
	records, err := client.QueryByThread(ctx, "thread", "")
	require.NoError(t, err)
	assert.Len(t, records, 0)
}
