// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package teststore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"storj.io/splitstore/storage"
)

// Client implements an in-memory record store
type Client struct {
	mu sync.Mutex

	records []*storage.StoredRecord

	CallCount struct {
		Get           int
		Put           int
		Delete        int
		QueryByThread int
		Close         int
	}

	// PutFault, when set, is consulted before every Put; returning a non-nil
	// error fails the write without modifying the store.
	PutFault func(record *storage.StoredRecord) error
	// DeleteFault, when set, is consulted before every Delete.
	DeleteFault func(threadID, recordID string) error
}

// New creates a new in-memory record store
func New() *Client { return &Client{} }

// indexOf finds the index of a record or where it could be inserted
func (store *Client) indexOf(threadID, recordID string) (int, bool) {
	i := sort.Search(len(store.records), func(k int) bool {
		r := store.records[k]
		if r.ThreadID != threadID {
			return r.ThreadID >= threadID
		}
		return r.RecordID >= recordID
	})

	if i >= len(store.records) {
		return i, false
	}
	r := store.records[i]
	return i, r.ThreadID == threadID && r.RecordID == recordID
}

// Get returns the record stored at (threadID, recordID)
func (store *Client) Get(ctx context.Context, threadID, recordID string) (*storage.StoredRecord, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Get++

	if threadID == "" || recordID == "" {
		return nil, storage.ErrEmptyKey.New("")
	}

	index, found := store.indexOf(threadID, recordID)
	if !found {
		return nil, storage.ErrRecordNotFound.New("%s/%s", threadID, recordID)
	}
	return storage.CloneRecord(store.records[index]), nil
}

// Put upserts a record
func (store *Client) Put(ctx context.Context, record *storage.StoredRecord) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Put++

	if record == nil || record.ThreadID == "" || record.RecordID == "" {
		return storage.ErrEmptyKey.New("")
	}
	if store.PutFault != nil {
		if err := store.PutFault(record); err != nil {
			return err
		}
	}

	index, found := store.indexOf(record.ThreadID, record.RecordID)
	if found {
		store.records[index] = storage.CloneRecord(record)
		return nil
	}

	store.records = append(store.records, nil)
	copy(store.records[index+1:], store.records[index:])
	store.records[index] = storage.CloneRecord(record)
	return nil
}

// Delete removes the record at (threadID, recordID), missing records are
// not an error
func (store *Client) Delete(ctx context.Context, threadID, recordID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Delete++

	if threadID == "" || recordID == "" {
		return storage.ErrEmptyKey.New("")
	}
	if store.DeleteFault != nil {
		if err := store.DeleteFault(threadID, recordID); err != nil {
			return err
		}
	}

	index, found := store.indexOf(threadID, recordID)
	if !found {
		return nil
	}

	copy(store.records[index:], store.records[index+1:])
	store.records = store.records[:len(store.records)-1]
	return nil
}

// QueryByThread returns every record of a thread with the given record id
// prefix, in record id order
func (store *Client) QueryByThread(ctx context.Context, threadID, prefix string) ([]*storage.StoredRecord, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.QueryByThread++

	if threadID == "" {
		return nil, storage.ErrEmptyKey.New("")
	}

	var result []*storage.StoredRecord
	index, _ := store.indexOf(threadID, prefix)
	for ; index < len(store.records); index++ {
		record := store.records[index]
		if record.ThreadID != threadID || !strings.HasPrefix(record.RecordID, prefix) {
			break
		}
		result = append(result, storage.CloneRecord(record))
	}
	return result, nil
}

// Close closes the store
func (store *Client) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Close++
	return nil
}

// Len returns the number of stored records
func (store *Client) Len() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.records)
}
