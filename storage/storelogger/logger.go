// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package storelogger

import (
	"context"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/splitstore/storage"
)

var mon = monkit.Package()

var id int64

// Logger implements a zap.Logger wrapper for storage.RecordStore
type Logger struct {
	log   *zap.Logger
	store storage.RecordStore
}

// New creates a new Logger with log and store
func New(log *zap.Logger, store storage.RecordStore) *Logger {
	loggerid := atomic.AddInt64(&id, 1)
	name := strconv.Itoa(int(loggerid))
	return &Logger{log.Named(name), store}
}

// Get gets a record from the store
func (store *Logger) Get(ctx context.Context, threadID, recordID string) (_ *storage.StoredRecord, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Get", zap.String("threadID", threadID), zap.String("recordID", recordID))
	return store.store.Get(ctx, threadID, recordID)
}

// Put adds a record to the store
func (store *Logger) Put(ctx context.Context, record *storage.StoredRecord) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Put",
		zap.String("threadID", record.ThreadID),
		zap.String("recordID", record.RecordID),
		zap.Bool("isSplit", record.IsSplit),
		zap.Int("checkpoint length", len(record.Checkpoint)),
		zap.Int("metadata length", len(record.Metadata)),
	)
	return store.store.Put(ctx, record)
}

// Delete deletes a record
func (store *Logger) Delete(ctx context.Context, threadID, recordID string) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Delete", zap.String("threadID", threadID), zap.String("recordID", recordID))
	return store.store.Delete(ctx, threadID, recordID)
}

// QueryByThread lists records of a thread with the record id prefix
func (store *Logger) QueryByThread(ctx context.Context, threadID, prefix string) (_ []*storage.StoredRecord, err error) {
	defer mon.Task()(&ctx)(&err)
	records, err := store.store.QueryByThread(ctx, threadID, prefix)
	store.log.Debug("QueryByThread",
		zap.String("threadID", threadID),
		zap.String("prefix", prefix),
		zap.Int("records", len(records)),
	)
	return records, err
}

// Close closes the store
func (store *Logger) Close() error {
	store.log.Debug("Close")
	return store.store.Close()
}
